package wal

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func bigString(partialPattern string, n int) []byte {
	return []byte(strings.Repeat(partialPattern, n/len(partialPattern)+1)[:n])
}

func writeRecords(t *testing.T, records ...[]byte) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)
	for i, rec := range records {
		if err := w.AddRecord(rec); err != nil {
			t.Fatalf("AddRecord %d: %v", i, err)
		}
	}
	return &buf
}

func readAll(t *testing.T, data []byte) ([][]byte, error) {
	t.Helper()
	r := NewReader(bytes.NewReader(data), nil, true)
	var out [][]byte
	for {
		rec, err := r.ReadRecord()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

func TestReadWrite(t *testing.T) {
	records := [][]byte{
		[]byte("foo"),
		[]byte("bar"),
		{},
		[]byte("xxxx"),
	}
	buf := writeRecords(t, records...)

	got, err := readAll(t, buf.Bytes())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("got %d records, want %d", len(got), len(records))
	}
	for i := range records {
		if !bytes.Equal(got[i], records[i]) {
			t.Errorf("record %d: got %q, want %q", i, got[i], records[i])
		}
	}
}

func TestFragmentation(t *testing.T) {
	records := [][]byte{
		[]byte("small"),
		bigString("medium", 50000),
		bigString("large", 100000),
	}
	buf := writeRecords(t, records...)

	got, err := readAll(t, buf.Bytes())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("got %d records, want %d", len(got), len(records))
	}
	for i := range records {
		if !bytes.Equal(got[i], records[i]) {
			t.Errorf("record %d: length %d, want %d", i, len(got[i]), len(records[i]))
		}
	}
}

func TestMarginalTrailer(t *testing.T) {
	// Make a record that ends exactly HeaderSize bytes before a block
	// boundary, so the next record starts in the padded region.
	n := BlockSize - 2*HeaderSize
	buf := writeRecords(t, bigString("foo", n), []byte("bar"))

	got, err := readAll(t, buf.Bytes())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || string(got[1]) != "bar" {
		t.Fatalf("unexpected records: %d", len(got))
	}
}

func TestTruncatedTailIsQuietEOF(t *testing.T) {
	buf := writeRecords(t, []byte("first"), bigString("second", 1000))
	data := buf.Bytes()

	// Chop bytes off the final record; every truncation point must read the
	// intact prefix and then end quietly.
	for cut := 1; cut < 900; cut += 123 {
		got, err := readAll(t, data[:len(data)-cut])
		if err != nil {
			t.Fatalf("cut %d: unexpected error %v", cut, err)
		}
		if len(got) != 1 || string(got[0]) != "first" {
			t.Fatalf("cut %d: got %d records", cut, len(got))
		}
	}
}

func TestTruncatedFragmentedRecordIsQuietEOF(t *testing.T) {
	buf := writeRecords(t, []byte("keep"), bigString("spans-blocks", 2*BlockSize))
	data := buf.Bytes()

	// Cut inside the Last fragment: the First/Middle pieces were read but
	// the logical record must be dropped entirely.
	got, err := readAll(t, data[:len(data)-100])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || string(got[0]) != "keep" {
		t.Fatalf("got %d records", len(got))
	}
}

func TestChecksumMismatchIsFatal(t *testing.T) {
	buf := writeRecords(t, []byte("aaaaaaaa"), []byte("bbbbbbbb"))
	data := buf.Bytes()

	// Flip a payload byte of the first record: mid-stream corruption.
	data[HeaderSize] ^= 0xff

	_, err := readAll(t, data)
	if !errors.Is(err, ErrCorruptedRecord) {
		t.Fatalf("expected ErrCorruptedRecord, got %v", err)
	}
}

func TestBadRecordTypeIsFatal(t *testing.T) {
	buf := writeRecords(t, []byte("aaaaaaaa"), []byte("bbbbbbbb"))
	data := buf.Bytes()

	// Corrupt the type byte of the second record. The checksum covers the
	// type, so this trips the CRC check first; either way it must be fatal.
	second := HeaderSize + 8
	data[second+6] = 0x7f

	_, err := readAll(t, data)
	if !errors.Is(err, ErrCorruptedRecord) {
		t.Fatalf("expected ErrCorruptedRecord, got %v", err)
	}
}

type countingReporter struct {
	calls int
	last  error
}

func (c *countingReporter) Corruption(bytes int, err error) {
	c.calls++
	c.last = err
}

func TestReporterSeesCorruption(t *testing.T) {
	buf := writeRecords(t, []byte("aaaaaaaa"))
	data := buf.Bytes()
	data[HeaderSize] ^= 0xff

	rep := &countingReporter{}
	r := NewReader(bytes.NewReader(data), rep, true)
	if _, err := r.ReadRecord(); !errors.Is(err, ErrCorruptedRecord) {
		t.Fatalf("expected ErrCorruptedRecord, got %v", err)
	}
	if rep.calls != 1 {
		t.Errorf("reporter called %d times", rep.calls)
	}
}

func TestResumeOffsetContinuesBlockAccounting(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)
	if err := w.AddRecord([]byte("first")); err != nil {
		t.Fatal(err)
	}

	// Reopen mid-block, as the store does when appending to an existing log.
	w2 := NewWriter(&buf, int64(buf.Len()))
	if w2.BlockOffset() != buf.Len()%BlockSize {
		t.Fatalf("block offset %d", w2.BlockOffset())
	}
	if err := w2.AddRecord(bigString("resumed", 40000)); err != nil {
		t.Fatal(err)
	}

	got, err := readAll(t, buf.Bytes())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || string(got[0]) != "first" || len(got[1]) != 40000 {
		t.Fatalf("unexpected records: %d", len(got))
	}
}

func TestEmptyLog(t *testing.T) {
	got, err := readAll(t, nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("got %d records, err %v", len(got), err)
	}
}
