package wal

import (
	"errors"
	"io"

	"github.com/quarrydb/quarry/internal/checksum"
	"github.com/quarrydb/quarry/internal/encoding"
)

var (
	// ErrCorruptedRecord indicates a mid-stream record that failed its
	// checksum or is structurally invalid. Unlike a truncated tail, this is
	// never tolerated: the log cannot be trusted past this point.
	ErrCorruptedRecord = errors.New("wal: corrupted record")

	// ErrInvalidRecordType indicates an unrecognized record type byte.
	ErrInvalidRecordType = errors.New("wal: invalid record type")

	// ErrUnexpectedFragment indicates fragment reassembly saw an impossible
	// sequence (e.g. a Middle fragment with no preceding First).
	ErrUnexpectedFragment = errors.New("wal: unexpected fragment")
)

// Reporter receives diagnostics about data dropped or rejected during reads.
type Reporter interface {
	Corruption(bytes int, err error)
}

// Reader reads logical records from a log stream.
//
// A record truncated by end-of-file is treated as evidence of a crash during
// the final append: ReadRecord returns io.EOF and the partial record is
// discarded. Any other irregularity (checksum mismatch, bad record type,
// impossible fragment sequence) is fatal and returns an error wrapping
// ErrCorruptedRecord.
type Reader struct {
	src          io.Reader
	reporter     Reporter
	verify       bool
	backingStore []byte
	buffer       []byte
	eof          bool

	fragments          []byte
	inFragmentedRecord bool
}

// NewReader creates a reader over src. reporter may be nil.
func NewReader(src io.Reader, reporter Reporter, verifyChecksum bool) *Reader {
	return &Reader{
		src:          src,
		reporter:     reporter,
		verify:       verifyChecksum,
		backingStore: make([]byte, BlockSize),
	}
}

// ReadRecord returns the next logical record. It returns io.EOF at the end
// of the log, including when the log ends in a partially written record.
// The returned slice is owned by the caller.
func (r *Reader) ReadRecord() ([]byte, error) {
	r.fragments = r.fragments[:0]
	r.inFragmentedRecord = false

	for {
		recordType, fragment, err := r.readPhysicalRecord()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// A fragmented record cut off by EOF is a torn final
				// append; drop it quietly.
				return nil, io.EOF
			}
			return nil, err
		}

		switch recordType {
		case FullType:
			if r.inFragmentedRecord {
				return nil, r.corruption(len(r.fragments), ErrUnexpectedFragment)
			}
			return append([]byte(nil), fragment...), nil

		case FirstType:
			if r.inFragmentedRecord {
				return nil, r.corruption(len(r.fragments), ErrUnexpectedFragment)
			}
			r.fragments = append(r.fragments[:0], fragment...)
			r.inFragmentedRecord = true

		case MiddleType:
			if !r.inFragmentedRecord {
				return nil, r.corruption(len(fragment), ErrUnexpectedFragment)
			}
			r.fragments = append(r.fragments, fragment...)

		case LastType:
			if !r.inFragmentedRecord {
				return nil, r.corruption(len(fragment), ErrUnexpectedFragment)
			}
			r.fragments = append(r.fragments, fragment...)
			r.inFragmentedRecord = false
			return append([]byte(nil), r.fragments...), nil

		case ZeroType:
			// Padding from file preallocation.
			continue

		default:
			return nil, r.corruption(len(fragment), ErrInvalidRecordType)
		}
	}
}

// readPhysicalRecord reads the next physical record, refilling the block
// buffer as needed. Short reads at end-of-file surface as io.EOF.
func (r *Reader) readPhysicalRecord() (RecordType, []byte, error) {
	for {
		if len(r.buffer) < HeaderSize {
			// The remainder of a block too small for a header is writer
			// padding; move to the next block.
			if r.eof {
				return 0, nil, io.EOF
			}
			n, err := io.ReadFull(r.src, r.backingStore)
			if err != nil {
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					r.eof = true
					if n == 0 {
						return 0, nil, io.EOF
					}
				} else {
					return 0, nil, err
				}
			}
			r.buffer = r.backingStore[:n]
		}

		header := r.buffer[:HeaderSize]
		crcStored := encoding.DecodeFixed32(header[0:4])
		length := int(encoding.DecodeFixed16(header[4:6]))
		recordType := RecordType(header[6])

		if len(r.buffer) < HeaderSize+length {
			if r.eof {
				// Torn final append.
				return 0, nil, io.EOF
			}
			return 0, nil, r.corruption(len(r.buffer), ErrCorruptedRecord)
		}

		if recordType == ZeroType && length == 0 {
			r.buffer = r.buffer[HeaderSize:]
			continue
		}

		payload := r.buffer[HeaderSize : HeaderSize+length]

		if r.verify {
			crc := checksum.Value([]byte{byte(recordType)})
			crc = checksum.Mask(checksum.Extend(crc, payload))
			if crc != crcStored {
				return 0, nil, r.corruption(HeaderSize+length, ErrCorruptedRecord)
			}
		}

		r.buffer = r.buffer[HeaderSize+length:]
		return recordType, payload, nil
	}
}

func (r *Reader) corruption(bytes int, err error) error {
	if r.reporter != nil {
		r.reporter.Corruption(bytes, err)
	}
	if errors.Is(err, ErrCorruptedRecord) {
		return err
	}
	return errors.Join(ErrCorruptedRecord, err)
}
