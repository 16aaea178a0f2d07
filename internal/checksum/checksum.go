// Package checksum provides the two checksums used by the on-disk formats:
// masked CRC32-C for log-structured files (WAL, MANIFEST) and XXH3-64 for
// table file footers.
//
// The CRC masking matches RocksDB's util/crc32c.h: a CRC stored inside data
// that is itself CRC'd would otherwise weaken the check, so stored CRCs are
// rotated and offset by a constant.
package checksum

import (
	"hash/crc32"

	"github.com/zeebo/xxh3"
)

const maskDelta = 0xa282ead8

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Value returns the CRC32-C of data.
func Value(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// Extend returns the CRC32-C of the concatenation of the data that produced
// crc and the given data.
func Extend(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, castagnoli, data)
}

// Mask converts a CRC into a form suitable for storing in a file.
func Mask(crc uint32) uint32 {
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// Unmask reverses Mask.
func Unmask(masked uint32) uint32 {
	rot := masked - maskDelta
	return (rot >> 17) | (rot << 15)
}

// MaskedValue returns the masked CRC32-C of data.
func MaskedValue(data []byte) uint32 {
	return Mask(Value(data))
}

// XXH3 returns the 64-bit XXH3 hash of data.
func XXH3(data []byte) uint64 {
	return xxh3.Hash(data)
}
