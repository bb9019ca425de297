// Package checksum provides the checksums used for snapshot manifests and
// segment blobs.
//
// Manifest frames carry a one-byte Type followed by a 64-bit checksum of the
// frame. Segment entries record the XXH3-128 digest of the blob bytes.
package checksum

import (
	"encoding/hex"
	"hash/crc32"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/xxh3"
)

// Type represents the checksum algorithm recorded in a manifest frame.
type Type uint8

const (
	// TypeNoChecksum disables verification.
	TypeNoChecksum Type = 0
	// TypeCRC32C is CRC32C (Castagnoli).
	TypeCRC32C Type = 1
	// TypeXXHash64 is XXHash64.
	TypeXXHash64 Type = 3
	// TypeXXH3 is XXH3-64, the default for new manifests.
	TypeXXH3 Type = 4
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// String returns a human-readable name for the checksum type.
func (t Type) String() string {
	switch t {
	case TypeNoChecksum:
		return "NoChecksum"
	case TypeCRC32C:
		return "CRC32C"
	case TypeXXHash64:
		return "XXHash64"
	case TypeXXH3:
		return "XXH3"
	default:
		return "Unknown"
	}
}

// IsSupported reports whether Compute understands t.
func (t Type) IsSupported() bool {
	switch t {
	case TypeNoChecksum, TypeCRC32C, TypeXXHash64, TypeXXH3:
		return true
	default:
		return false
	}
}

// Compute returns the checksum of data for the given type. Unsupported types
// and TypeNoChecksum yield 0.
func Compute(t Type, data []byte) uint64 {
	switch t {
	case TypeCRC32C:
		return uint64(crc32.Checksum(data, castagnoli))
	case TypeXXHash64:
		return xxhash.Sum64(data)
	case TypeXXH3:
		return xxh3.Hash(data)
	default:
		return 0
	}
}

// ContentHash returns the hex XXH3-128 digest of data.
func ContentHash(data []byte) string {
	sum := xxh3.Hash128(data).Bytes()
	return hex.EncodeToString(sum[:])
}

// StringHash32 hashes a string key for sharded caches.
func StringHash32(s string) uint32 {
	return uint32(xxhash.Sum64String(s))
}
