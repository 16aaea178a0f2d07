// Package table implements the sorted-run files that flushes write and the
// read path consults for data no longer in a memtable.
//
// File layout:
//
//	payload   entries in internal key order, each encoded as
//	          [klen varint32][internal key][vlen varint32][value],
//	          compressed as a single block
//	footer    compression type (1B)
//	          XXH3-64 of the compressed payload (8B LE)
//	          compressed payload length (4B LE)
//	          magic number (8B LE)
//
// The checksum is verified and the payload decompressed in full at open;
// files are bounded by the write buffer size that triggered the flush.
package table

import (
	"fmt"
	"io"

	"github.com/quarrydb/quarry/internal/checksum"
	"github.com/quarrydb/quarry/internal/compression"
	"github.com/quarrydb/quarry/internal/dbformat"
	"github.com/quarrydb/quarry/internal/encoding"
)

// MagicNumber identifies a table file footer.
const MagicNumber uint64 = 0x51ab7c049e1df832

// FooterSize is the fixed footer length.
const FooterSize = 1 + 8 + 4 + 8

// Builder accumulates entries for one table file.
//
// Entries must be added in internal key order; the flush path satisfies
// this by iterating its memtable.
type Builder struct {
	payload     []byte
	compression compression.Type
	numEntries  int

	smallest   []byte
	largest    []byte
	largestSeq dbformat.SequenceNumber
}

// NewBuilder creates a builder that will compress its payload with the
// given algorithm.
func NewBuilder(c compression.Type) *Builder {
	return &Builder{compression: c}
}

// Add appends one entry.
// REQUIRES: internal keys arrive in ascending order.
func (b *Builder) Add(internalKey, value []byte) {
	b.payload = encoding.AppendLengthPrefixedSlice(b.payload, internalKey)
	b.payload = encoding.AppendLengthPrefixedSlice(b.payload, value)
	b.numEntries++

	userKey := dbformat.ExtractUserKey(internalKey)
	if b.smallest == nil {
		b.smallest = append([]byte(nil), userKey...)
	}
	b.largest = append(b.largest[:0], userKey...)

	seq, _ := dbformat.UnpackSequenceAndType(dbformat.ExtractTrailer(internalKey))
	if seq > b.largestSeq {
		b.largestSeq = seq
	}
}

// NumEntries returns the number of entries added.
func (b *Builder) NumEntries() int {
	return b.numEntries
}

// Smallest returns the smallest user key added.
func (b *Builder) Smallest() []byte {
	return b.smallest
}

// Largest returns the largest user key added.
func (b *Builder) Largest() []byte {
	return b.largest
}

// LargestSeq returns the highest sequence number added.
func (b *Builder) LargestSeq() dbformat.SequenceNumber {
	return b.largestSeq
}

// Finish compresses the payload and writes the file to w. Returns the
// total file size.
func (b *Builder) Finish(w io.Writer) (int64, error) {
	compressed, err := compression.Compress(b.compression, b.payload)
	if err != nil {
		return 0, fmt.Errorf("table: compress payload: %w", err)
	}

	if _, err := w.Write(compressed); err != nil {
		return 0, fmt.Errorf("table: write payload: %w", err)
	}

	var footer [FooterSize]byte
	footer[0] = byte(b.compression)
	encoding.EncodeFixed64(footer[1:9], checksum.XXH3(compressed))
	encoding.EncodeFixed32(footer[9:13], uint32(len(compressed)))
	encoding.EncodeFixed64(footer[13:21], MagicNumber)
	if _, err := w.Write(footer[:]); err != nil {
		return 0, fmt.Errorf("table: write footer: %w", err)
	}

	return int64(len(compressed) + FooterSize), nil
}
