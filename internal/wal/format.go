// Package wal implements the length-prefixed, checksummed record log used
// for both write-ahead log segments and manifest files.
//
// A log file is a sequence of fixed-size 32KB blocks. Each physical record
// carries a 7-byte header:
//
//	+----------+---------+------+---------+
//	| CRC (4B) | Len(2B) | Type | Payload |
//	+----------+---------+------+---------+
//
// CRC is CRC32-C over Type + Payload, masked for storage. A logical record
// larger than the space left in a block is fragmented into First/Middle/Last
// physical records; block tails too small for a header are zero-padded.
//
// The layout matches RocksDB's legacy log format (db/log_format.h), so the
// files remain inspectable with existing dump tooling.
package wal

// BlockSize is the size of each block in the log file.
const BlockSize = 32768

// HeaderSize is the record header size: checksum (4) + length (2) + type (1).
const HeaderSize = 7

// MaxRecordPayload is the maximum payload of a single physical record.
const MaxRecordPayload = BlockSize - HeaderSize

// RecordType identifies a physical record's role in fragment reassembly.
// These values are embedded in the on-disk format and must not change.
type RecordType uint8

const (
	// ZeroType is reserved for preallocated files (all zeros) and padding.
	ZeroType RecordType = 0

	// FullType is a complete record contained in a single fragment.
	FullType RecordType = 1

	// FirstType is the first fragment of a multi-block record.
	FirstType RecordType = 2

	// MiddleType is an interior fragment.
	MiddleType RecordType = 3

	// LastType is the final fragment.
	LastType RecordType = 4

	maxRecordType = LastType
)

// String returns the name of the record type.
func (t RecordType) String() string {
	switch t {
	case ZeroType:
		return "ZeroType"
	case FullType:
		return "FullType"
	case FirstType:
		return "FirstType"
	case MiddleType:
		return "MiddleType"
	case LastType:
		return "LastType"
	default:
		return "UnknownType"
	}
}
