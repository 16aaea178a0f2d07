package manifest

import (
	"errors"
	"fmt"

	"github.com/quarrydb/quarry/internal/dbformat"
	"github.com/quarrydb/quarry/internal/encoding"
)

// ErrCorruptedEdit indicates an edit record that could not be decoded.
var ErrCorruptedEdit = errors.New("manifest: corrupted version edit")

// FileMeta describes one table file produced by a flush.
type FileMeta struct {
	FileNumber uint64
	FileSize   uint64

	// Smallest and Largest bound the user keys in the file.
	Smallest []byte
	Largest  []byte

	// LargestSeq is the highest sequence number in the file.
	LargestSeq dbformat.SequenceNumber
}

// VersionEdit is one durable mutation of the database's metadata. The
// column family registry and file lists are reconstructed by folding edits
// in manifest order.
//
// An edit is scoped to one column family via ColumnFamily (default 0).
// AddColumnFamily and DropColumnFamily change the registry itself;
// LogNumber advances the scoped family's replay checkpoint; NewFiles and
// DeletedFiles change the scoped family's table files.
type VersionEdit struct {
	Comparator    string
	HasComparator bool

	// LogNumber is the smallest WAL segment number whose entries for the
	// scoped column family are not yet reflected in table files.
	LogNumber    uint64
	HasLogNumber bool

	NextFileNumber    uint64
	HasNextFileNumber bool

	LastSequence    dbformat.SequenceNumber
	HasLastSequence bool

	MaxColumnFamily    uint32
	HasMaxColumnFamily bool

	ColumnFamily    uint32
	HasColumnFamily bool

	IsColumnFamilyAdd bool
	ColumnFamilyName  string

	IsColumnFamilyDrop bool

	NewFiles     []FileMeta
	DeletedFiles []uint64
}

// SetComparator records the user comparator name for validation at reopen.
func (ve *VersionEdit) SetComparator(name string) {
	ve.Comparator = name
	ve.HasComparator = true
}

// SetLogNumber records the scoped column family's replay checkpoint.
func (ve *VersionEdit) SetLogNumber(n uint64) {
	ve.LogNumber = n
	ve.HasLogNumber = true
}

// SetNextFileNumber records the file number allocator watermark.
func (ve *VersionEdit) SetNextFileNumber(n uint64) {
	ve.NextFileNumber = n
	ve.HasNextFileNumber = true
}

// SetLastSequence records the highest committed sequence number.
func (ve *VersionEdit) SetLastSequence(s dbformat.SequenceNumber) {
	ve.LastSequence = s
	ve.HasLastSequence = true
}

// SetMaxColumnFamily records the highest column family id ever assigned.
func (ve *VersionEdit) SetMaxColumnFamily(id uint32) {
	ve.MaxColumnFamily = id
	ve.HasMaxColumnFamily = true
}

// SetColumnFamily scopes the edit to a column family.
func (ve *VersionEdit) SetColumnFamily(id uint32) {
	ve.ColumnFamily = id
	ve.HasColumnFamily = true
}

// AddColumnFamily marks the edit as creating the scoped column family.
func (ve *VersionEdit) AddColumnFamily(name string) {
	ve.ColumnFamilyName = name
	ve.IsColumnFamilyAdd = true
}

// DropColumnFamily marks the edit as dropping the scoped column family.
func (ve *VersionEdit) DropColumnFamily() {
	ve.IsColumnFamilyDrop = true
}

// AddFile records a new table file for the scoped column family.
func (ve *VersionEdit) AddFile(meta FileMeta) {
	ve.NewFiles = append(ve.NewFiles, meta)
}

// DeleteFile records removal of a table file from the scoped column family.
func (ve *VersionEdit) DeleteFile(fileNumber uint64) {
	ve.DeletedFiles = append(ve.DeletedFiles, fileNumber)
}

// EncodeTo serializes the edit.
func (ve *VersionEdit) EncodeTo() []byte {
	var dst []byte

	if ve.HasComparator {
		dst = encoding.AppendVarint32(dst, uint32(TagComparator))
		dst = encoding.AppendLengthPrefixedSlice(dst, []byte(ve.Comparator))
	}
	if ve.HasLogNumber {
		dst = encoding.AppendVarint32(dst, uint32(TagLogNumber))
		dst = encoding.AppendVarint64(dst, ve.LogNumber)
	}
	if ve.HasNextFileNumber {
		dst = encoding.AppendVarint32(dst, uint32(TagNextFileNumber))
		dst = encoding.AppendVarint64(dst, ve.NextFileNumber)
	}
	if ve.HasMaxColumnFamily {
		dst = encoding.AppendVarint32(dst, uint32(TagMaxColumnFamily))
		dst = encoding.AppendVarint32(dst, ve.MaxColumnFamily)
	}
	if ve.HasLastSequence {
		dst = encoding.AppendVarint32(dst, uint32(TagLastSequence))
		dst = encoding.AppendVarint64(dst, uint64(ve.LastSequence))
	}

	for _, fileNumber := range ve.DeletedFiles {
		dst = encoding.AppendVarint32(dst, uint32(TagDeletedFile))
		dst = encoding.AppendVarint64(dst, fileNumber)
	}
	for i := range ve.NewFiles {
		f := &ve.NewFiles[i]
		dst = encoding.AppendVarint32(dst, uint32(TagNewFile))
		dst = encoding.AppendVarint64(dst, f.FileNumber)
		dst = encoding.AppendVarint64(dst, f.FileSize)
		dst = encoding.AppendLengthPrefixedSlice(dst, f.Smallest)
		dst = encoding.AppendLengthPrefixedSlice(dst, f.Largest)
		dst = encoding.AppendVarint64(dst, uint64(f.LargestSeq))
	}

	// Id 0 is the default column family and is left implicit.
	if ve.HasColumnFamily && ve.ColumnFamily != 0 {
		dst = encoding.AppendVarint32(dst, uint32(TagColumnFamily))
		dst = encoding.AppendVarint32(dst, ve.ColumnFamily)
	}
	if ve.IsColumnFamilyAdd {
		dst = encoding.AppendVarint32(dst, uint32(TagColumnFamilyAdd))
		dst = encoding.AppendLengthPrefixedSlice(dst, []byte(ve.ColumnFamilyName))
	}
	if ve.IsColumnFamilyDrop {
		dst = encoding.AppendVarint32(dst, uint32(TagColumnFamilyDrop))
	}

	return dst
}

// DecodeFrom parses an encoded edit, replacing ve's contents.
func (ve *VersionEdit) DecodeFrom(src []byte) error {
	*ve = VersionEdit{}
	s := encoding.NewSlice(src)

	for s.Remaining() > 0 {
		rawTag, ok := s.GetVarint32()
		if !ok {
			return fmt.Errorf("%w: bad tag", ErrCorruptedEdit)
		}
		tag := Tag(rawTag)

		switch tag {
		case TagComparator:
			name, ok := s.GetLengthPrefixedSlice()
			if !ok {
				return fmt.Errorf("%w: comparator", ErrCorruptedEdit)
			}
			ve.Comparator = string(name)
			ve.HasComparator = true

		case TagLogNumber:
			n, ok := s.GetVarint64()
			if !ok {
				return fmt.Errorf("%w: log number", ErrCorruptedEdit)
			}
			ve.LogNumber = n
			ve.HasLogNumber = true

		case TagNextFileNumber:
			n, ok := s.GetVarint64()
			if !ok {
				return fmt.Errorf("%w: next file number", ErrCorruptedEdit)
			}
			ve.NextFileNumber = n
			ve.HasNextFileNumber = true

		case TagLastSequence:
			n, ok := s.GetVarint64()
			if !ok {
				return fmt.Errorf("%w: last sequence", ErrCorruptedEdit)
			}
			ve.LastSequence = dbformat.SequenceNumber(n)
			ve.HasLastSequence = true

		case TagMaxColumnFamily:
			id, ok := s.GetVarint32()
			if !ok {
				return fmt.Errorf("%w: max column family", ErrCorruptedEdit)
			}
			ve.MaxColumnFamily = id
			ve.HasMaxColumnFamily = true

		case TagDeletedFile:
			n, ok := s.GetVarint64()
			if !ok {
				return fmt.Errorf("%w: deleted file", ErrCorruptedEdit)
			}
			ve.DeletedFiles = append(ve.DeletedFiles, n)

		case TagNewFile:
			var f FileMeta
			var ok1, ok2, ok3, ok4, ok5 bool
			f.FileNumber, ok1 = s.GetVarint64()
			f.FileSize, ok2 = s.GetVarint64()
			var smallest, largest []byte
			smallest, ok3 = s.GetLengthPrefixedSlice()
			largest, ok4 = s.GetLengthPrefixedSlice()
			var seq uint64
			seq, ok5 = s.GetVarint64()
			if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
				return fmt.Errorf("%w: new file", ErrCorruptedEdit)
			}
			f.Smallest = append([]byte(nil), smallest...)
			f.Largest = append([]byte(nil), largest...)
			f.LargestSeq = dbformat.SequenceNumber(seq)
			ve.NewFiles = append(ve.NewFiles, f)

		case TagColumnFamily:
			id, ok := s.GetVarint32()
			if !ok {
				return fmt.Errorf("%w: column family", ErrCorruptedEdit)
			}
			ve.ColumnFamily = id
			ve.HasColumnFamily = true

		case TagColumnFamilyAdd:
			name, ok := s.GetLengthPrefixedSlice()
			if !ok {
				return fmt.Errorf("%w: column family add", ErrCorruptedEdit)
			}
			ve.ColumnFamilyName = string(name)
			ve.IsColumnFamilyAdd = true

		case TagColumnFamilyDrop:
			ve.IsColumnFamilyDrop = true

		default:
			if !tag.IsSafeToIgnore() {
				return fmt.Errorf("%w: unknown tag %d", ErrCorruptedEdit, rawTag)
			}
			// Ignorable future tags carry a length-prefixed payload.
			if _, ok := s.GetLengthPrefixedSlice(); !ok {
				return fmt.Errorf("%w: ignorable tag %d", ErrCorruptedEdit, rawTag)
			}
		}
	}
	return nil
}
