package memtable

import (
	"sync/atomic"

	"github.com/quarrydb/quarry/internal/dbformat"
	"github.com/quarrydb/quarry/internal/encoding"
)

// MemTable is one column family's mutable write buffer.
//
// Each entry is stored as a single buffer:
//
//	klen    varint32   (len(user key) + 8)
//	key     user key + 8-byte trailer (seq << 8 | type)
//	vlen    varint32
//	value   vlen bytes
//
// Entries sort by user key ascending, then trailer descending, so the
// newest version of a key is reached first.
type MemTable struct {
	list        *skipList
	userCompare dbformat.UserKeyComparer
	memoryUsage atomic.Uint64
}

// New creates an empty memtable using the given user key ordering.
func New(userCompare dbformat.UserKeyComparer) *MemTable {
	if userCompare == nil {
		userCompare = dbformat.BytewiseCompare
	}
	m := &MemTable{userCompare: userCompare}
	m.list = newSkipList(func(a, b []byte) int {
		return dbformat.CompareInternalKeys(userCompare, entryKey(a), entryKey(b))
	})
	return m
}

// entryKey extracts the internal key portion of an encoded entry.
func entryKey(entry []byte) []byte {
	klen, n, err := encoding.DecodeVarint32(entry)
	if err != nil {
		panic("memtable: corrupted entry")
	}
	return entry[n : n+int(klen)]
}

// entryValue extracts the value portion of an encoded entry.
func entryValue(entry []byte) []byte {
	klen, n, err := encoding.DecodeVarint32(entry)
	if err != nil {
		panic("memtable: corrupted entry")
	}
	rest := entry[n+int(klen):]
	vlen, n, err := encoding.DecodeVarint32(rest)
	if err != nil {
		panic("memtable: corrupted entry")
	}
	return rest[n : n+int(vlen)]
}

// Add inserts an entry. The same apply path serves live writes and
// recovery replay.
// REQUIRES: external synchronization.
func (m *MemTable) Add(seq dbformat.SequenceNumber, typ dbformat.ValueType, userKey, value []byte) {
	internalKeyLen := len(userKey) + dbformat.NumInternalBytes
	buf := make([]byte, 0,
		encoding.VarintLength(uint64(internalKeyLen))+internalKeyLen+
			encoding.VarintLength(uint64(len(value)))+len(value))
	buf = encoding.AppendVarint32(buf, uint32(internalKeyLen))
	buf = dbformat.AppendInternalKey(buf, userKey, seq, typ)
	buf = encoding.AppendLengthPrefixedSlice(buf, value)

	m.list.insert(buf)
	m.memoryUsage.Add(uint64(len(buf)))
}

// LookupState describes what a key lookup found.
type LookupState int

const (
	// LookupMissing means no entry for the key exists here.
	LookupMissing LookupState = iota

	// LookupFound means a base value was found (possibly under operands).
	LookupFound

	// LookupDeleted means the newest non-merge entry is a deletion.
	LookupDeleted

	// LookupMergeOnly means only merge operands were found; the search
	// must continue into older storage.
	LookupMergeOnly
)

// Get collects the state of userKey: merge operands newest-first, and the
// base value or deletion that terminates the chain.
func (m *MemTable) Get(userKey []byte) (base []byte, operands [][]byte, state LookupState) {
	// Seek to the newest possible entry for this user key.
	seekEntry := encoding.AppendVarint32(nil, uint32(len(userKey)+dbformat.NumInternalBytes))
	seekEntry = dbformat.AppendInternalKey(seekEntry, userKey, dbformat.MaxSequenceNumber, dbformat.TypeMerge)

	state = LookupMissing
	for node := m.list.findGreaterOrEqual(seekEntry, nil); node != nil; node = node.getNext(0) {
		ikey := entryKey(node.entry)
		if m.userCompare(dbformat.ExtractUserKey(ikey), userKey) != 0 {
			break
		}
		_, typ := dbformat.UnpackSequenceAndType(dbformat.ExtractTrailer(ikey))
		switch typ {
		case dbformat.TypeMerge:
			operands = append(operands, entryValue(node.entry))
			state = LookupMergeOnly
		case dbformat.TypeValue:
			return entryValue(node.entry), operands, LookupFound
		case dbformat.TypeDeletion:
			return nil, operands, LookupDeleted
		}
	}
	return nil, operands, state
}

// Empty reports whether the memtable holds no entries.
func (m *MemTable) Empty() bool {
	return m.list.entries() == 0
}

// ApproximateMemoryUsage returns the bytes consumed by entry buffers.
func (m *MemTable) ApproximateMemoryUsage() uint64 {
	return m.memoryUsage.Load()
}

// Iterator walks entries in internal key order. Used by flush.
type Iterator struct {
	node *skipNode
}

// NewIterator returns an iterator positioned at the first entry.
func (m *MemTable) NewIterator() *Iterator {
	return &Iterator{node: m.list.first()}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool {
	return it.node != nil
}

// Next advances the iterator.
// REQUIRES: Valid().
func (it *Iterator) Next() {
	it.node = it.node.getNext(0)
}

// InternalKey returns the internal key at the current position.
// REQUIRES: Valid().
func (it *Iterator) InternalKey() []byte {
	return entryKey(it.node.entry)
}

// Value returns the value at the current position.
// REQUIRES: Valid().
func (it *Iterator) Value() []byte {
	return entryValue(it.node.entry)
}
