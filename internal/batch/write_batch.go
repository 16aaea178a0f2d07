// Package batch implements the write batch wire format.
//
// A batch is the unit of atomicity: the whole encoding is appended to the
// write-ahead log as one record, so recovery sees all of its operations or
// none of them.
//
// Wire format (matching RocksDB's write_batch.cc):
//
//	sequence: fixed64
//	count:    fixed32
//	records:  tagged, one per operation
//	  kTypeValue            varstring varstring
//	  kTypeDeletion         varstring
//	  kTypeMerge            varstring varstring
//	  kTypeColumnFamily*    varint32 cf_id, then as above
//	  kTypeLogData          varstring
//
// Operations against column family 0 use the non-CF tags.
package batch

import (
	"errors"
	"fmt"

	"github.com/quarrydb/quarry/internal/dbformat"
	"github.com/quarrydb/quarry/internal/encoding"
)

// HeaderSize is the batch header: sequence (8) + count (4).
const HeaderSize = 12

var (
	// ErrBatchTooSmall indicates data shorter than the batch header.
	ErrBatchTooSmall = errors.New("batch: data too small")

	// ErrBatchCorrupted indicates a malformed record in the batch body.
	ErrBatchCorrupted = errors.New("batch: corrupted record")
)

// Handler receives the operations of a batch during Iterate. Operations
// recorded without a column family report id 0.
type Handler interface {
	PutCF(cfID uint32, key, value []byte) error
	DeleteCF(cfID uint32, key []byte) error
	MergeCF(cfID uint32, key, value []byte) error

	// LogData receives opaque blobs that carry no sequence number.
	LogData(blob []byte)
}

// WriteBatch accumulates operations for one atomic commit.
type WriteBatch struct {
	rep   []byte
	count uint32
}

// New creates an empty batch.
func New() *WriteBatch {
	b := &WriteBatch{}
	b.Clear()
	return b
}

// NewFromData wraps an encoded batch, e.g. one read back from the log.
// The data is not validated until Iterate.
func NewFromData(data []byte) (*WriteBatch, error) {
	if len(data) < HeaderSize {
		return nil, ErrBatchTooSmall
	}
	b := &WriteBatch{rep: append([]byte(nil), data...)}
	b.count = encoding.DecodeFixed32(b.rep[8:12])
	return b, nil
}

// Clear resets the batch to empty, keeping its buffer.
func (b *WriteBatch) Clear() {
	if cap(b.rep) < HeaderSize {
		b.rep = make([]byte, HeaderSize)
	} else {
		b.rep = b.rep[:HeaderSize]
		clear(b.rep)
	}
	b.count = 0
}

// Data returns the encoded representation. The slice aliases the batch.
func (b *WriteBatch) Data() []byte {
	return b.rep
}

// Count returns the number of sequence-consuming operations in the batch.
func (b *WriteBatch) Count() uint32 {
	return b.count
}

// Sequence returns the starting sequence number assigned to the batch.
func (b *WriteBatch) Sequence() dbformat.SequenceNumber {
	return dbformat.SequenceNumber(encoding.DecodeFixed64(b.rep[0:8]))
}

// SetSequence stamps the starting sequence number. Called by the commit
// path; the batch's operations occupy [seq, seq+Count()).
func (b *WriteBatch) SetSequence(seq dbformat.SequenceNumber) {
	encoding.EncodeFixed64(b.rep[0:8], uint64(seq))
}

func (b *WriteBatch) setCount(n uint32) {
	b.count = n
	encoding.EncodeFixed32(b.rep[8:12], n)
}

// Put records a key/value write against the given column family.
func (b *WriteBatch) Put(cfID uint32, key, value []byte) {
	if cfID == 0 {
		b.rep = append(b.rep, byte(dbformat.TypeValue))
	} else {
		b.rep = append(b.rep, byte(dbformat.TypeColumnFamilyValue))
		b.rep = encoding.AppendVarint32(b.rep, cfID)
	}
	b.rep = encoding.AppendLengthPrefixedSlice(b.rep, key)
	b.rep = encoding.AppendLengthPrefixedSlice(b.rep, value)
	b.setCount(b.count + 1)
}

// Delete records a deletion against the given column family.
func (b *WriteBatch) Delete(cfID uint32, key []byte) {
	if cfID == 0 {
		b.rep = append(b.rep, byte(dbformat.TypeDeletion))
	} else {
		b.rep = append(b.rep, byte(dbformat.TypeColumnFamilyDeletion))
		b.rep = encoding.AppendVarint32(b.rep, cfID)
	}
	b.rep = encoding.AppendLengthPrefixedSlice(b.rep, key)
	b.setCount(b.count + 1)
}

// Merge records a merge operand against the given column family.
func (b *WriteBatch) Merge(cfID uint32, key, operand []byte) {
	if cfID == 0 {
		b.rep = append(b.rep, byte(dbformat.TypeMerge))
	} else {
		b.rep = append(b.rep, byte(dbformat.TypeColumnFamilyMerge))
		b.rep = encoding.AppendVarint32(b.rep, cfID)
	}
	b.rep = encoding.AppendLengthPrefixedSlice(b.rep, key)
	b.rep = encoding.AppendLengthPrefixedSlice(b.rep, operand)
	b.setCount(b.count + 1)
}

// LogData appends an opaque blob. Blobs are replayed to handlers but do not
// consume sequence numbers.
func (b *WriteBatch) LogData(blob []byte) {
	b.rep = append(b.rep, byte(dbformat.TypeLogData))
	b.rep = encoding.AppendLengthPrefixedSlice(b.rep, blob)
}

// Append concatenates other's operations onto b.
func (b *WriteBatch) Append(other *WriteBatch) {
	b.rep = append(b.rep, other.rep[HeaderSize:]...)
	b.setCount(b.count + other.count)
}

// Iterate decodes the batch and feeds each operation to h in order.
// A decoding failure wraps ErrBatchCorrupted.
func (b *WriteBatch) Iterate(h Handler) error {
	if len(b.rep) < HeaderSize {
		return ErrBatchTooSmall
	}
	s := encoding.NewSlice(b.rep[HeaderSize:])
	var found uint32

	for s.Remaining() > 0 {
		tagByte, ok := s.GetBytes(1)
		if !ok {
			return fmt.Errorf("%w: missing tag", ErrBatchCorrupted)
		}
		tag := dbformat.ValueType(tagByte[0])

		cfID := uint32(0)
		switch tag {
		case dbformat.TypeColumnFamilyValue, dbformat.TypeColumnFamilyDeletion, dbformat.TypeColumnFamilyMerge:
			cfID, ok = s.GetVarint32()
			if !ok {
				return fmt.Errorf("%w: bad column family id", ErrBatchCorrupted)
			}
		}

		var err error
		switch tag {
		case dbformat.TypeValue, dbformat.TypeColumnFamilyValue:
			key, ok1 := s.GetLengthPrefixedSlice()
			value, ok2 := s.GetLengthPrefixedSlice()
			if !ok1 || !ok2 {
				return fmt.Errorf("%w: bad put record", ErrBatchCorrupted)
			}
			found++
			err = h.PutCF(cfID, key, value)

		case dbformat.TypeDeletion, dbformat.TypeColumnFamilyDeletion:
			key, ok1 := s.GetLengthPrefixedSlice()
			if !ok1 {
				return fmt.Errorf("%w: bad delete record", ErrBatchCorrupted)
			}
			found++
			err = h.DeleteCF(cfID, key)

		case dbformat.TypeMerge, dbformat.TypeColumnFamilyMerge:
			key, ok1 := s.GetLengthPrefixedSlice()
			operand, ok2 := s.GetLengthPrefixedSlice()
			if !ok1 || !ok2 {
				return fmt.Errorf("%w: bad merge record", ErrBatchCorrupted)
			}
			found++
			err = h.MergeCF(cfID, key, operand)

		case dbformat.TypeLogData:
			blob, ok1 := s.GetLengthPrefixedSlice()
			if !ok1 {
				return fmt.Errorf("%w: bad log data record", ErrBatchCorrupted)
			}
			h.LogData(blob)

		default:
			return fmt.Errorf("%w: unknown tag %#x", ErrBatchCorrupted, tagByte[0])
		}
		if err != nil {
			return err
		}
	}

	if found != b.count {
		return fmt.Errorf("%w: count mismatch, header %d vs body %d", ErrBatchCorrupted, b.count, found)
	}
	return nil
}
