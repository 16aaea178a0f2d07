package manifest

import (
	"bytes"
	"errors"
	"testing"

	"github.com/quarrydb/quarry/internal/encoding"
)

func roundTrip(t *testing.T, edit *VersionEdit) *VersionEdit {
	t.Helper()
	var decoded VersionEdit
	if err := decoded.DecodeFrom(edit.EncodeTo()); err != nil {
		t.Fatalf("DecodeFrom: %v", err)
	}
	return &decoded
}

func TestEncodeDecodeAddColumnFamily(t *testing.T) {
	var edit VersionEdit
	edit.SetColumnFamily(3)
	edit.AddColumnFamily("metrics")
	edit.SetLogNumber(12)
	edit.SetMaxColumnFamily(3)

	got := roundTrip(t, &edit)
	if !got.HasColumnFamily || got.ColumnFamily != 3 {
		t.Errorf("column family: %v %d", got.HasColumnFamily, got.ColumnFamily)
	}
	if !got.IsColumnFamilyAdd || got.ColumnFamilyName != "metrics" {
		t.Errorf("add: %v %q", got.IsColumnFamilyAdd, got.ColumnFamilyName)
	}
	if !got.HasLogNumber || got.LogNumber != 12 {
		t.Errorf("log number: %v %d", got.HasLogNumber, got.LogNumber)
	}
	if !got.HasMaxColumnFamily || got.MaxColumnFamily != 3 {
		t.Errorf("max cf: %v %d", got.HasMaxColumnFamily, got.MaxColumnFamily)
	}
}

func TestEncodeDecodeDrop(t *testing.T) {
	var edit VersionEdit
	edit.SetColumnFamily(5)
	edit.DropColumnFamily()

	got := roundTrip(t, &edit)
	if !got.IsColumnFamilyDrop || got.ColumnFamily != 5 {
		t.Errorf("drop: %v cf=%d", got.IsColumnFamilyDrop, got.ColumnFamily)
	}
}

func TestDefaultColumnFamilyImplicit(t *testing.T) {
	var edit VersionEdit
	edit.SetColumnFamily(0)
	edit.SetLogNumber(7)

	encoded := edit.EncodeTo()
	got := roundTrip(t, &edit)
	// Id 0 is not written; decoding leaves HasColumnFamily unset and the
	// fold treats that as the default family.
	if got.HasColumnFamily {
		t.Error("id 0 should not be encoded")
	}
	if got.ColumnFamily != 0 || got.LogNumber != 7 {
		t.Errorf("cf=%d log=%d", got.ColumnFamily, got.LogNumber)
	}

	// The encoding must consist solely of the log number field.
	want := encoding.AppendVarint32(nil, uint32(TagLogNumber))
	want = encoding.AppendVarint64(want, 7)
	if !bytes.Equal(encoded, want) {
		t.Errorf("encoded %v, want %v", encoded, want)
	}
}

func TestEncodeDecodeSnapshotFields(t *testing.T) {
	var edit VersionEdit
	edit.SetComparator("bytewise")
	edit.SetNextFileNumber(42)
	edit.SetLastSequence(9000)

	got := roundTrip(t, &edit)
	if got.Comparator != "bytewise" || got.NextFileNumber != 42 || got.LastSequence != 9000 {
		t.Errorf("got %+v", got)
	}
}

func TestEncodeDecodeFiles(t *testing.T) {
	var edit VersionEdit
	edit.SetColumnFamily(2)
	edit.AddFile(FileMeta{
		FileNumber: 15,
		FileSize:   4096,
		Smallest:   []byte("aardvark"),
		Largest:    []byte("zebra"),
		LargestSeq: 777,
	})
	edit.DeleteFile(9)

	got := roundTrip(t, &edit)
	if len(got.NewFiles) != 1 {
		t.Fatalf("new files: %d", len(got.NewFiles))
	}
	f := got.NewFiles[0]
	if f.FileNumber != 15 || f.FileSize != 4096 || string(f.Smallest) != "aardvark" ||
		string(f.Largest) != "zebra" || f.LargestSeq != 777 {
		t.Errorf("file meta %+v", f)
	}
	if len(got.DeletedFiles) != 1 || got.DeletedFiles[0] != 9 {
		t.Errorf("deleted files %v", got.DeletedFiles)
	}
}

func TestDecodeUnknownTagFails(t *testing.T) {
	data := encoding.AppendVarint32(nil, 99)
	data = encoding.AppendVarint64(data, 1)

	var edit VersionEdit
	if err := edit.DecodeFrom(data); !errors.Is(err, ErrCorruptedEdit) {
		t.Errorf("expected ErrCorruptedEdit, got %v", err)
	}
}

func TestDecodeIgnorableTagSkipped(t *testing.T) {
	// A future tag with the safe-ignore bit and a length-prefixed payload
	// must be skipped without error.
	data := encoding.AppendVarint32(nil, uint32(TagSafeIgnoreMask|1))
	data = encoding.AppendLengthPrefixedSlice(data, []byte("future"))
	data = encoding.AppendVarint32(data, uint32(TagLogNumber))
	data = encoding.AppendVarint64(data, 33)

	var edit VersionEdit
	if err := edit.DecodeFrom(data); err != nil {
		t.Fatalf("DecodeFrom: %v", err)
	}
	if !edit.HasLogNumber || edit.LogNumber != 33 {
		t.Errorf("log number after skip: %v %d", edit.HasLogNumber, edit.LogNumber)
	}
}

func TestDecodeTruncated(t *testing.T) {
	var edit VersionEdit
	edit.SetColumnFamily(1)
	edit.AddColumnFamily("partial")
	data := edit.EncodeTo()

	var decoded VersionEdit
	if err := decoded.DecodeFrom(data[:len(data)-3]); !errors.Is(err, ErrCorruptedEdit) {
		t.Errorf("expected ErrCorruptedEdit, got %v", err)
	}
}
