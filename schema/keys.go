// Package schema owns the reserved two-byte system namespace: the schema
// version gate, the per-service prefix allocator, and the key layout every
// other package builds on.
package schema

import (
	"bytes"
	"encoding/binary"
)

// SystemPrefix is the reserved two-byte prefix under which version,
// allocator, and tip bookkeeping live. No service may be assigned this
// value.
var SystemPrefix = [2]byte{0x00, 0x00}

// CurrentVersion is the schema version this build expects on disk.
// Bumping it requires every indexer's key layout to be reindexed from
// scratch; there is deliberately no migration path.
const CurrentVersion uint32 = 2

// legacyVersion is the version implied by the absence of a stored version
// key on a non-fresh database (pre-dates explicit version stamping).
const legacyVersion uint32 = 1

const (
	tipSuffix           = "tip"
	concurrentTipSuffix = "concurrentTip"
	versionSuffix       = "version"
	nextUnusedSuffix    = "nextUnused"
	prefixKeyPrefix     = "prefix-"
)

func systemKey(suffix string) []byte {
	key := make([]byte, 0, 2+len(suffix))
	key = append(key, SystemPrefix[0], SystemPrefix[1])
	key = append(key, suffix...)
	return key
}

// TipKey is the reserved key naming the serial tip record.
func TipKey() []byte { return systemKey(tipSuffix) }

// ConcurrentTipKey is the reserved key naming the concurrent tip record.
func ConcurrentTipKey() []byte { return systemKey(concurrentTipSuffix) }

// VersionKey is the reserved key naming the on-disk schema version.
func VersionKey() []byte { return systemKey(versionSuffix) }

// NextUnusedKey is the reserved key naming the next unassigned service
// prefix.
func NextUnusedKey() []byte { return systemKey(nextUnusedSuffix) }

// ServicePrefixKey is the reserved key recording the prefix assigned to a
// named service.
func ServicePrefixKey(serviceName string) []byte {
	return systemKey(prefixKeyPrefix + serviceName)
}

// EncodeVersion encodes a schema version as 4-byte big-endian.
func EncodeVersion(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}

// DecodeVersion decodes a 4-byte big-endian schema version.
func DecodeVersion(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

// EncodePrefix encodes a 2-byte big-endian service prefix.
func EncodePrefix(p uint16) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, p)
	return buf
}

// DecodePrefix decodes a 2-byte big-endian service prefix.
func DecodePrefix(b []byte) uint16 { return binary.BigEndian.Uint16(b) }

// IsSystemKey reports whether key falls under the reserved system
// namespace.
func IsSystemKey(key []byte) bool {
	return len(key) >= 2 && bytes.Equal(key[:2], SystemPrefix[:])
}
