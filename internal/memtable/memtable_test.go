package memtable

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/quarrydb/quarry/internal/dbformat"
)

func TestGetNewestVersionWins(t *testing.T) {
	m := New(nil)
	m.Add(1, dbformat.TypeValue, []byte("foo"), []byte("v1"))
	m.Add(2, dbformat.TypeValue, []byte("foo"), []byte("v2"))

	base, operands, state := m.Get([]byte("foo"))
	if state != LookupFound || string(base) != "v2" || len(operands) != 0 {
		t.Errorf("got state=%v base=%q operands=%d", state, base, len(operands))
	}
}

func TestGetMissing(t *testing.T) {
	m := New(nil)
	m.Add(1, dbformat.TypeValue, []byte("foo"), []byte("v1"))

	if _, _, state := m.Get([]byte("bar")); state != LookupMissing {
		t.Errorf("state %v", state)
	}
	// A key sorting after every entry must also come back missing.
	if _, _, state := m.Get([]byte("zzz")); state != LookupMissing {
		t.Errorf("state %v", state)
	}
}

func TestDeletionShadowsValue(t *testing.T) {
	m := New(nil)
	m.Add(1, dbformat.TypeValue, []byte("foo"), []byte("v1"))
	m.Add(2, dbformat.TypeDeletion, []byte("foo"), nil)

	if _, _, state := m.Get([]byte("foo")); state != LookupDeleted {
		t.Errorf("state %v", state)
	}

	// A later write resurrects the key.
	m.Add(3, dbformat.TypeValue, []byte("foo"), []byte("v3"))
	base, _, state := m.Get([]byte("foo"))
	if state != LookupFound || string(base) != "v3" {
		t.Errorf("state=%v base=%q", state, base)
	}
}

func TestMergeOperandChain(t *testing.T) {
	m := New(nil)
	m.Add(1, dbformat.TypeValue, []byte("cnt"), []byte("base"))
	m.Add(2, dbformat.TypeMerge, []byte("cnt"), []byte("op1"))
	m.Add(3, dbformat.TypeMerge, []byte("cnt"), []byte("op2"))

	base, operands, state := m.Get([]byte("cnt"))
	if state != LookupFound || string(base) != "base" {
		t.Fatalf("state=%v base=%q", state, base)
	}
	// Operands come back newest-first.
	if len(operands) != 2 || string(operands[0]) != "op2" || string(operands[1]) != "op1" {
		t.Errorf("operands %q", operands)
	}
}

func TestMergeWithoutBase(t *testing.T) {
	m := New(nil)
	m.Add(1, dbformat.TypeMerge, []byte("cnt"), []byte("op1"))
	m.Add(2, dbformat.TypeMerge, []byte("cnt"), []byte("op2"))

	base, operands, state := m.Get([]byte("cnt"))
	if state != LookupMergeOnly || base != nil {
		t.Errorf("state=%v base=%q", state, base)
	}
	if len(operands) != 2 || string(operands[0]) != "op2" {
		t.Errorf("operands %q", operands)
	}
}

func TestMergeChainStopsAtDeletion(t *testing.T) {
	m := New(nil)
	m.Add(1, dbformat.TypeValue, []byte("k"), []byte("old"))
	m.Add(2, dbformat.TypeDeletion, []byte("k"), nil)
	m.Add(3, dbformat.TypeMerge, []byte("k"), []byte("op"))

	base, operands, state := m.Get([]byte("k"))
	if state != LookupDeleted || base != nil {
		t.Errorf("state=%v base=%q", state, base)
	}
	if len(operands) != 1 || string(operands[0]) != "op" {
		t.Errorf("operands %q", operands)
	}
}

func TestIteratorOrder(t *testing.T) {
	m := New(nil)
	m.Add(3, dbformat.TypeValue, []byte("b"), []byte("b3"))
	m.Add(1, dbformat.TypeValue, []byte("a"), []byte("a1"))
	m.Add(2, dbformat.TypeValue, []byte("a"), []byte("a2"))
	m.Add(4, dbformat.TypeDeletion, []byte("c"), nil)

	var got []string
	for it := m.NewIterator(); it.Valid(); it.Next() {
		ikey := it.InternalKey()
		seq, typ := dbformat.UnpackSequenceAndType(dbformat.ExtractTrailer(ikey))
		got = append(got, fmt.Sprintf("%s@%d.%d=%s", dbformat.ExtractUserKey(ikey), seq, typ, it.Value()))
	}

	want := []string{"a@2.1=a2", "a@1.1=a1", "b@3.1=b3", "c@4.0="}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEmptyAndMemoryUsage(t *testing.T) {
	m := New(nil)
	if !m.Empty() || m.ApproximateMemoryUsage() != 0 {
		t.Error("fresh memtable not empty")
	}
	m.Add(1, dbformat.TypeValue, []byte("k"), []byte("v"))
	if m.Empty() || m.ApproximateMemoryUsage() == 0 {
		t.Error("memtable still empty after Add")
	}
}

func TestCustomComparator(t *testing.T) {
	// Reverse ordering.
	rev := func(a, b []byte) int { return -bytes.Compare(a, b) }
	m := New(rev)
	m.Add(1, dbformat.TypeValue, []byte("a"), []byte("1"))
	m.Add(2, dbformat.TypeValue, []byte("b"), []byte("2"))

	it := m.NewIterator()
	if !it.Valid() || string(dbformat.ExtractUserKey(it.InternalKey())) != "b" {
		t.Error("reverse comparator should order b first")
	}

	if base, _, state := m.Get([]byte("a")); state != LookupFound || string(base) != "1" {
		t.Errorf("Get under custom comparator: state=%v base=%q", state, base)
	}
}
