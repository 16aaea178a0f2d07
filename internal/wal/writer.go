package wal

import (
	"io"

	"github.com/quarrydb/quarry/internal/checksum"
	"github.com/quarrydb/quarry/internal/encoding"
)

// Writer appends records to a log stream, fragmenting them across block
// boundaries as needed. It does not buffer: every AddRecord reaches the
// underlying writer before returning.
type Writer struct {
	dest        io.Writer
	blockOffset int

	// CRC of the one-byte type prefix, precomputed per record type.
	typeCRC [maxRecordType + 1]uint32

	headerBuf [HeaderSize]byte
}

// NewWriter creates a writer that appends to dest. When resuming an existing
// file, offset must be the current file size so block accounting lines up.
func NewWriter(dest io.Writer, offset int64) *Writer {
	w := &Writer{
		dest:        dest,
		blockOffset: int(offset % BlockSize),
	}
	for i := range w.typeCRC {
		w.typeCRC[i] = checksum.Value([]byte{byte(i)})
	}
	return w
}

// AddRecord writes one logical record. An empty record is valid and emits a
// single zero-length Full fragment.
func (w *Writer) AddRecord(data []byte) error {
	ptr := data
	left := len(data)
	begin := true

	for {
		leftover := BlockSize - w.blockOffset
		if leftover < HeaderSize {
			// Too small for a header: zero-fill and start a new block.
			if leftover > 0 {
				if _, err := w.dest.Write(make([]byte, leftover)); err != nil {
					return err
				}
			}
			w.blockOffset = 0
		}

		avail := BlockSize - w.blockOffset - HeaderSize
		fragmentLength := min(left, avail)

		end := left == fragmentLength
		var recordType RecordType
		switch {
		case begin && end:
			recordType = FullType
		case begin:
			recordType = FirstType
		case end:
			recordType = LastType
		default:
			recordType = MiddleType
		}

		if err := w.emitPhysicalRecord(recordType, ptr[:fragmentLength]); err != nil {
			return err
		}

		ptr = ptr[fragmentLength:]
		left -= fragmentLength
		begin = false
		if left == 0 {
			return nil
		}
	}
}

func (w *Writer) emitPhysicalRecord(t RecordType, payload []byte) error {
	n := len(payload)
	if n > MaxRecordPayload {
		panic("wal: fragment exceeds block capacity")
	}

	encoding.EncodeFixed16(w.headerBuf[4:6], uint16(n))
	w.headerBuf[6] = byte(t)

	crc := checksum.Extend(w.typeCRC[t], payload)
	encoding.EncodeFixed32(w.headerBuf[0:4], checksum.Mask(crc))

	if _, err := w.dest.Write(w.headerBuf[:]); err != nil {
		return err
	}
	if _, err := w.dest.Write(payload); err != nil {
		return err
	}

	w.blockOffset += HeaderSize + n
	return nil
}

// BlockOffset returns the write offset within the current block.
func (w *Writer) BlockOffset() int {
	return w.blockOffset
}

// Sync flushes the destination to stable storage if it supports syncing.
func (w *Writer) Sync() error {
	if syncer, ok := w.dest.(interface{ Sync() error }); ok {
		return syncer.Sync()
	}
	return nil
}
