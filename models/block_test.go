package models

import (
	"bytes"
	"testing"
)

func TestTipRecordRoundTrip(t *testing.T) {
	rec := TipRecord{Height: 12345}
	for i := range rec.Hash {
		rec.Hash[i] = byte(i)
	}

	encoded := rec.Encode()
	if len(encoded) != TipRecordSize {
		t.Fatalf("encoded length = %d, want %d", len(encoded), TipRecordSize)
	}

	decoded, err := DecodeTipRecord(encoded)
	if err != nil {
		t.Fatalf("DecodeTipRecord: %v", err)
	}
	if decoded != rec {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", decoded, rec)
	}
}

func TestDecodeTipRecordBadLength(t *testing.T) {
	if _, err := DecodeTipRecord([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short tip record")
	}
}

func TestParseBlockHeaderRoundTrip(t *testing.T) {
	header := make([]byte, 80)
	for i := range header {
		header[i] = byte(i)
	}

	parsed, err := ParseBlockHeader(header)
	if err != nil {
		t.Fatalf("ParseBlockHeader: %v", err)
	}

	if !bytes.Equal(parsed.PrevHash[:], header[4:36]) {
		t.Errorf("PrevHash mismatch")
	}
	if !bytes.Equal(parsed.MerkleRoot[:], header[36:68]) {
		t.Errorf("MerkleRoot mismatch")
	}
}

func TestParseBlockHeaderBadLength(t *testing.T) {
	if _, err := ParseBlockHeader(make([]byte, 79)); err == nil {
		t.Fatal("expected error for short header")
	}
}
