package quarry

import "bytes"

// Comparator defines a total order over user keys. The comparator's name
// is recorded in the manifest when the database is created and checked on
// every reopen; opening with a differently named comparator fails.
type Comparator interface {
	// Compare returns a value <0, 0 or >0 as a sorts before, equal to or
	// after b.
	Compare(a, b []byte) int

	// Name identifies the ordering. Change the name when the ordering
	// changes, or existing databases will sort incorrectly.
	Name() string
}

type bytewiseComparator struct{}

func (bytewiseComparator) Compare(a, b []byte) int { return bytes.Compare(a, b) }
func (bytewiseComparator) Name() string            { return "quarry.BytewiseComparator" }

// BytewiseComparator orders keys lexicographically by byte. It is the
// default when Options.Comparator is nil.
var BytewiseComparator Comparator = bytewiseComparator{}
