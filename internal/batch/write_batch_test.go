package batch

import (
	"errors"
	"fmt"
	"testing"

	"github.com/quarrydb/quarry/internal/dbformat"
)

// recordingHandler captures iterated operations as printable strings.
type recordingHandler struct {
	ops []string
}

func (h *recordingHandler) PutCF(cfID uint32, key, value []byte) error {
	h.ops = append(h.ops, fmt.Sprintf("put(%d,%s,%s)", cfID, key, value))
	return nil
}

func (h *recordingHandler) DeleteCF(cfID uint32, key []byte) error {
	h.ops = append(h.ops, fmt.Sprintf("delete(%d,%s)", cfID, key))
	return nil
}

func (h *recordingHandler) MergeCF(cfID uint32, key, value []byte) error {
	h.ops = append(h.ops, fmt.Sprintf("merge(%d,%s,%s)", cfID, key, value))
	return nil
}

func (h *recordingHandler) LogData(blob []byte) {
	h.ops = append(h.ops, fmt.Sprintf("logdata(%s)", blob))
}

func iterate(t *testing.T, b *WriteBatch) []string {
	t.Helper()
	h := &recordingHandler{}
	if err := b.Iterate(h); err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	return h.ops
}

func TestEmptyBatch(t *testing.T) {
	b := New()
	if b.Count() != 0 {
		t.Errorf("count %d", b.Count())
	}
	if len(b.Data()) != HeaderSize {
		t.Errorf("data length %d", len(b.Data()))
	}
	if ops := iterate(t, b); len(ops) != 0 {
		t.Errorf("ops %v", ops)
	}
}

func TestMultipleOperationsInOrder(t *testing.T) {
	b := New()
	b.Put(0, []byte("foo"), []byte("v1"))
	b.Delete(0, []byte("bar"))
	b.Merge(0, []byte("cnt"), []byte("one"))
	b.LogData([]byte("note"))
	b.Put(0, []byte("baz"), []byte("v2"))

	if b.Count() != 4 {
		t.Errorf("count %d, want 4 (LogData consumes no sequence)", b.Count())
	}

	want := []string{
		"put(0,foo,v1)",
		"delete(0,bar)",
		"merge(0,cnt,one)",
		"logdata(note)",
		"put(0,baz,v2)",
	}
	got := iterate(t, b)
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("op %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestColumnFamilyRouting(t *testing.T) {
	b := New()
	b.Put(0, []byte("a"), []byte("1"))
	b.Put(7, []byte("a"), []byte("2"))
	b.Delete(7, []byte("b"))
	b.Merge(300, []byte("c"), []byte("3"))

	want := []string{
		"put(0,a,1)",
		"put(7,a,2)",
		"delete(7,b)",
		"merge(300,c,3)",
	}
	got := iterate(t, b)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("op %d: got %q, want %q", i, got[i], want[i])
		}
	}

	// cf 0 must use the compact non-CF tags.
	if b.Data()[HeaderSize] != byte(dbformat.TypeValue) {
		t.Errorf("cf0 put tag %#x", b.Data()[HeaderSize])
	}
}

func TestSequenceStamp(t *testing.T) {
	b := New()
	b.Put(0, []byte("k"), []byte("v"))
	if b.Sequence() != 0 {
		t.Errorf("fresh batch sequence %d", b.Sequence())
	}
	b.SetSequence(1000)
	if b.Sequence() != 1000 {
		t.Errorf("sequence %d", b.Sequence())
	}
}

func TestRoundTripThroughData(t *testing.T) {
	b := New()
	b.SetSequence(55)
	b.Put(1, []byte("k1"), []byte("v1"))
	b.Merge(2, []byte("k2"), []byte("v2"))

	decoded, err := NewFromData(b.Data())
	if err != nil {
		t.Fatalf("NewFromData: %v", err)
	}
	if decoded.Sequence() != 55 || decoded.Count() != 2 {
		t.Errorf("seq %d count %d", decoded.Sequence(), decoded.Count())
	}
	got := iterate(t, decoded)
	if len(got) != 2 || got[0] != "put(1,k1,v1)" || got[1] != "merge(2,k2,v2)" {
		t.Errorf("ops %v", got)
	}
}

func TestAppend(t *testing.T) {
	a := New()
	a.Put(0, []byte("a"), []byte("1"))
	b := New()
	b.Delete(3, []byte("b"))

	a.Append(b)
	if a.Count() != 2 {
		t.Errorf("count %d", a.Count())
	}
	got := iterate(t, a)
	if got[0] != "put(0,a,1)" || got[1] != "delete(3,b)" {
		t.Errorf("ops %v", got)
	}
}

func TestClear(t *testing.T) {
	b := New()
	b.SetSequence(9)
	b.Put(0, []byte("k"), []byte("v"))
	b.Clear()
	if b.Count() != 0 || b.Sequence() != 0 || len(b.Data()) != HeaderSize {
		t.Errorf("clear left count=%d seq=%d len=%d", b.Count(), b.Sequence(), len(b.Data()))
	}
}

func TestCorruptedBatch(t *testing.T) {
	if _, err := NewFromData([]byte("short")); !errors.Is(err, ErrBatchTooSmall) {
		t.Errorf("short data: %v", err)
	}

	b := New()
	b.Put(0, []byte("key"), []byte("value"))

	// Truncate mid-record.
	trunc, err := NewFromData(b.Data()[:len(b.Data())-2])
	if err != nil {
		t.Fatalf("NewFromData: %v", err)
	}
	if err := trunc.Iterate(&recordingHandler{}); !errors.Is(err, ErrBatchCorrupted) {
		t.Errorf("truncated record: %v", err)
	}

	// Unknown tag.
	data := append([]byte(nil), b.Data()...)
	data[HeaderSize] = 0x7f
	bad, err := NewFromData(data)
	if err != nil {
		t.Fatalf("NewFromData: %v", err)
	}
	if err := bad.Iterate(&recordingHandler{}); !errors.Is(err, ErrBatchCorrupted) {
		t.Errorf("unknown tag: %v", err)
	}
}

func TestCountMismatch(t *testing.T) {
	b := New()
	b.Put(0, []byte("k"), []byte("v"))
	data := append([]byte(nil), b.Data()...)
	data[8] = 5 // header claims 5 operations

	bad, err := NewFromData(data)
	if err != nil {
		t.Fatalf("NewFromData: %v", err)
	}
	if err := bad.Iterate(&recordingHandler{}); !errors.Is(err, ErrBatchCorrupted) {
		t.Errorf("count mismatch: %v", err)
	}
}
