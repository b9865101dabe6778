// Package models holds the wire/value types the engine passes between the
// Sync Driver, Block Applier, Service Registry, and Event Bus. Tip tracking
// lives in package chainstate, which is store-backed rather than
// memory-only.
package models

import (
	"encoding/binary"
	"fmt"

	"github.com/shruggr/chainindex/kvstore"
)

// BlockHeader holds the decoded fields of an 80-byte Bitcoin-style block
// header, extracted from Block.Header by ParseBlockHeader.
type BlockHeader struct {
	Version    int32
	PrevHash   kvstore.Hash
	MerkleRoot kvstore.Hash
	Timestamp  uint32
	Bits       uint32
	Nonce      uint32
}

// ParseBlockHeader decodes the fixed 80-byte Bitcoin block header layout.
func ParseBlockHeader(header []byte) (*BlockHeader, error) {
	if len(header) != 80 {
		return nil, fmt.Errorf("models: invalid block header length: got %d, want 80", len(header))
	}

	var prevHash, merkleRoot kvstore.Hash
	copy(prevHash[:], header[4:36])
	copy(merkleRoot[:], header[36:68])

	return &BlockHeader{
		Version:    int32(binary.LittleEndian.Uint32(header[0:4])),
		PrevHash:   prevHash,
		MerkleRoot: merkleRoot,
		Timestamp:  binary.LittleEndian.Uint32(header[68:72]),
		Bits:       binary.LittleEndian.Uint32(header[72:76]),
		Nonce:      binary.LittleEndian.Uint32(header[76:80]),
	}, nil
}

// Block is the unit the Sync Driver fetches and the Block Applier commits.
// The raw header is carried opaquely; callers that need its fields use
// ParseBlockHeader.
type Block struct {
	Hash         kvstore.Hash
	ParentHash   kvstore.Hash
	Height       uint32
	Header       []byte // opaque 80-byte header
	Transactions []*Transaction
}

// TipRecord is the persisted {hash, height} pair named by the reserved tip
// keys: 32-byte hash followed by 4-byte big-endian height, 36 bytes total.
type TipRecord struct {
	Hash   kvstore.Hash
	Height uint32
}

// TipRecordSize is the fixed encoded size of a TipRecord.
const TipRecordSize = 36

// Encode serializes a TipRecord to its 36-byte on-disk form.
func (t TipRecord) Encode() []byte {
	buf := make([]byte, TipRecordSize)
	copy(buf[0:32], t.Hash[:])
	binary.BigEndian.PutUint32(buf[32:36], t.Height)
	return buf
}

// DecodeTipRecord parses the 36-byte on-disk form of a TipRecord.
func DecodeTipRecord(b []byte) (TipRecord, error) {
	if len(b) != TipRecordSize {
		return TipRecord{}, fmt.Errorf("models: invalid tip record length: got %d, want %d", len(b), TipRecordSize)
	}
	var rec TipRecord
	copy(rec.Hash[:], b[0:32])
	rec.Height = binary.BigEndian.Uint32(b[32:36])
	return rec, nil
}
