// Package dbformat defines the internal key encoding shared by the
// memtable, write batch and table file formats.
//
// An internal key is the user key followed by an 8-byte trailer packing the
// sequence number (upper 56 bits) and value type (low 8 bits), little-endian.
package dbformat

import (
	"errors"

	"github.com/quarrydb/quarry/internal/encoding"
)

// SequenceNumber is a 56-bit global write sequence number.
type SequenceNumber uint64

// MaxSequenceNumber is the largest valid sequence number (2^56 - 1).
const MaxSequenceNumber SequenceNumber = (1 << 56) - 1

// NumInternalBytes is the size of the internal key trailer.
const NumInternalBytes = 8

// ValueType tags a record with its operation kind. The values are embedded
// in the on-disk formats and must not change.
type ValueType uint8

const (
	TypeDeletion ValueType = 0x00
	TypeValue    ValueType = 0x01
	TypeMerge    ValueType = 0x02

	// WAL-only types used by the write batch wire format. The column family
	// variants carry a varint32 column family id after the tag byte.
	TypeLogData              ValueType = 0x03
	TypeColumnFamilyDeletion ValueType = 0x04
	TypeColumnFamilyValue    ValueType = 0x05
	TypeColumnFamilyMerge    ValueType = 0x06
)

// ErrKeyTooSmall is returned when an internal key is shorter than its trailer.
var ErrKeyTooSmall = errors.New("dbformat: internal key too small")

// IsValueType reports whether t may appear in a memtable or table file.
func IsValueType(t ValueType) bool {
	return t <= TypeMerge
}

// PackSequenceAndType packs a sequence number and value type into a trailer.
func PackSequenceAndType(seq SequenceNumber, t ValueType) uint64 {
	return (uint64(seq) << 8) | uint64(t)
}

// UnpackSequenceAndType splits a trailer into sequence number and value type.
func UnpackSequenceAndType(packed uint64) (SequenceNumber, ValueType) {
	return SequenceNumber(packed >> 8), ValueType(packed & 0xff)
}

// AppendInternalKey appends userKey plus the packed trailer to dst.
func AppendInternalKey(dst, userKey []byte, seq SequenceNumber, t ValueType) []byte {
	dst = append(dst, userKey...)
	return encoding.AppendFixed64(dst, PackSequenceAndType(seq, t))
}

// ExtractUserKey returns the user key portion of an internal key.
// REQUIRES: len(internalKey) >= NumInternalBytes.
func ExtractUserKey(internalKey []byte) []byte {
	return internalKey[:len(internalKey)-NumInternalBytes]
}

// ExtractTrailer returns the packed trailer of an internal key.
// REQUIRES: len(internalKey) >= NumInternalBytes.
func ExtractTrailer(internalKey []byte) uint64 {
	return encoding.DecodeFixed64(internalKey[len(internalKey)-NumInternalBytes:])
}

// UserKeyComparer compares two user keys; negative, zero or positive.
type UserKeyComparer func(a, b []byte) int

// BytewiseCompare is the default lexicographic user key ordering.
func BytewiseCompare(a, b []byte) int {
	minLen := min(len(a), len(b))
	for i := 0; i < minLen; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// CompareInternalKeys orders internal keys by user key ascending, then by
// trailer descending so newer entries sort first.
func CompareInternalKeys(userCompare UserKeyComparer, a, b []byte) int {
	if userCompare == nil {
		userCompare = BytewiseCompare
	}
	if c := userCompare(ExtractUserKey(a), ExtractUserKey(b)); c != 0 {
		return c
	}
	ta, tb := ExtractTrailer(a), ExtractTrailer(b)
	switch {
	case ta > tb:
		return -1
	case ta < tb:
		return 1
	}
	return 0
}
