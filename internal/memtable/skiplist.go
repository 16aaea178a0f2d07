// Package memtable implements the in-memory write buffer: a skiplist of
// internal-key entries that both live writes and recovery replay into.
//
// Reads are lock-free; writes require external synchronization. Nodes are
// never removed until the whole structure is dropped.
package memtable

import (
	"math/rand"
	"sync/atomic"
)

const (
	maxHeight       = 12
	branchingFactor = 4
)

// entryComparator orders skiplist entries.
type entryComparator func(a, b []byte) int

type skipNode struct {
	entry []byte
	next  []*atomic.Pointer[skipNode]
}

func newSkipNode(entry []byte, height int) *skipNode {
	node := &skipNode{
		entry: entry,
		next:  make([]*atomic.Pointer[skipNode], height),
	}
	for i := range node.next {
		node.next[i] = &atomic.Pointer[skipNode]{}
	}
	return node
}

func (n *skipNode) getNext(level int) *skipNode {
	return n.next[level].Load()
}

func (n *skipNode) setNext(level int, node *skipNode) {
	n.next[level].Store(node)
}

type skipList struct {
	head      *skipNode
	height    int32
	compare   entryComparator
	rng       *rand.Rand
	count     int64
	scaledInv uint32
}

func newSkipList(cmp entryComparator) *skipList {
	return &skipList{
		head:      newSkipNode(nil, maxHeight),
		height:    1,
		compare:   cmp,
		rng:       rand.New(rand.NewSource(0xdecade)),
		scaledInv: uint32(0xffffffff) / branchingFactor,
	}
}

// insert adds an entry. Entries are unique because every internal key
// carries a distinct sequence number.
// REQUIRES: external synchronization.
func (sl *skipList) insert(entry []byte) {
	prev := make([]*skipNode, maxHeight)
	sl.findGreaterOrEqual(entry, prev)

	height := sl.randomHeight()
	cur := int(atomic.LoadInt32(&sl.height))
	if height > cur {
		for i := cur; i < height; i++ {
			prev[i] = sl.head
		}
		atomic.StoreInt32(&sl.height, int32(height))
	}

	node := newSkipNode(entry, height)
	for i := 0; i < height; i++ {
		node.setNext(i, prev[i].getNext(i))
		prev[i].setNext(i, node)
	}
	atomic.AddInt64(&sl.count, 1)
}

func (sl *skipList) entries() int64 {
	return atomic.LoadInt64(&sl.count)
}

// findGreaterOrEqual returns the first node with entry >= target. When prev
// is non-nil it is filled with the predecessor at each level.
func (sl *skipList) findGreaterOrEqual(target []byte, prev []*skipNode) *skipNode {
	x := sl.head
	level := int(atomic.LoadInt32(&sl.height)) - 1
	for {
		next := x.getNext(level)
		if next != nil && sl.compare(target, next.entry) > 0 {
			x = next
			continue
		}
		if prev != nil {
			prev[level] = x
		}
		if level == 0 {
			return next
		}
		level--
	}
}

func (sl *skipList) randomHeight() int {
	height := 1
	for height < maxHeight && sl.rng.Uint32() < sl.scaledInv {
		height++
	}
	return height
}

// first returns the lowest entry, or nil when empty.
func (sl *skipList) first() *skipNode {
	return sl.head.getNext(0)
}
