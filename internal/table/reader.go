package table

import (
	"errors"
	"fmt"
	"sort"

	"github.com/quarrydb/quarry/internal/checksum"
	"github.com/quarrydb/quarry/internal/compression"
	"github.com/quarrydb/quarry/internal/dbformat"
	"github.com/quarrydb/quarry/internal/encoding"
	"github.com/quarrydb/quarry/internal/vfs"
)

// ErrCorruptedTable indicates a table file that failed validation.
var ErrCorruptedTable = errors.New("table: corrupted file")

type entry struct {
	internalKey []byte
	value       []byte
}

// Reader serves lookups from one table file. The payload is verified and
// decoded eagerly at open.
type Reader struct {
	entries     []entry
	userCompare dbformat.UserKeyComparer
}

// LookupState mirrors the memtable's lookup result states.
type LookupState int

const (
	LookupMissing LookupState = iota
	LookupFound
	LookupDeleted
	LookupMergeOnly
)

// Open reads, validates and decodes a table file. The structural checks
// (magic number, payload length, entry framing) always run; the payload
// checksum is compared only when verifyChecksums is set.
func Open(f vfs.RandomAccessFile, userCompare dbformat.UserKeyComparer, verifyChecksums bool) (*Reader, error) {
	if userCompare == nil {
		userCompare = dbformat.BytewiseCompare
	}

	size, err := f.Size()
	if err != nil {
		return nil, fmt.Errorf("table: stat: %w", err)
	}
	if size < FooterSize {
		return nil, fmt.Errorf("%w: %d bytes is smaller than the footer", ErrCorruptedTable, size)
	}

	var footer [FooterSize]byte
	if _, err := f.ReadAt(footer[:], size-FooterSize); err != nil {
		return nil, fmt.Errorf("table: read footer: %w", err)
	}
	if encoding.DecodeFixed64(footer[13:21]) != MagicNumber {
		return nil, fmt.Errorf("%w: bad magic number", ErrCorruptedTable)
	}

	compressionType := compression.Type(footer[0])
	wantSum := encoding.DecodeFixed64(footer[1:9])
	payloadLen := int64(encoding.DecodeFixed32(footer[9:13]))
	if payloadLen != size-FooterSize {
		return nil, fmt.Errorf("%w: payload length %d does not match file size %d", ErrCorruptedTable, payloadLen, size)
	}

	compressed := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := f.ReadAt(compressed, 0); err != nil {
			return nil, fmt.Errorf("table: read payload: %w", err)
		}
	}
	if verifyChecksums {
		if got := checksum.XXH3(compressed); got != wantSum {
			return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptedTable)
		}
	}

	payload, err := compression.Decompress(compressionType, compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrCorruptedTable, err)
	}

	r := &Reader{userCompare: userCompare}
	s := encoding.NewSlice(payload)
	for s.Remaining() > 0 {
		ikey, ok1 := s.GetLengthPrefixedSlice()
		value, ok2 := s.GetLengthPrefixedSlice()
		if !ok1 || !ok2 || len(ikey) < dbformat.NumInternalBytes {
			return nil, fmt.Errorf("%w: malformed entry", ErrCorruptedTable)
		}
		r.entries = append(r.entries, entry{internalKey: ikey, value: value})
	}
	return r, nil
}

// NumEntries returns the number of entries in the file.
func (r *Reader) NumEntries() int {
	return len(r.entries)
}

// Get collects userKey's state from this file: merge operands newest-first
// and the base value or deletion terminating the chain.
func (r *Reader) Get(userKey []byte) (base []byte, operands [][]byte, state LookupState) {
	// Entries sort by user key ascending, sequence descending, so the
	// first match is the newest version.
	i := sort.Search(len(r.entries), func(i int) bool {
		return r.userCompare(dbformat.ExtractUserKey(r.entries[i].internalKey), userKey) >= 0
	})

	state = LookupMissing
	for ; i < len(r.entries); i++ {
		ikey := r.entries[i].internalKey
		if r.userCompare(dbformat.ExtractUserKey(ikey), userKey) != 0 {
			break
		}
		_, typ := dbformat.UnpackSequenceAndType(dbformat.ExtractTrailer(ikey))
		switch typ {
		case dbformat.TypeMerge:
			operands = append(operands, r.entries[i].value)
			state = LookupMergeOnly
		case dbformat.TypeValue:
			return r.entries[i].value, operands, LookupFound
		case dbformat.TypeDeletion:
			return nil, operands, LookupDeleted
		default:
			// Unknown entry types cannot appear in files we wrote.
			return nil, operands, LookupMissing
		}
	}
	return nil, operands, state
}
