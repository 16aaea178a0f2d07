package quarry

import "encoding/binary"

// MergeOperator combines a key's base value with the merge operands
// recorded against it. Without an operator a family's merge entries are
// unreadable, so a database written with merges must be reopened with the
// same operator.
//
// FullMerge receives operands oldest first, in the order they were
// committed. existing is nil when the key had no base value (never
// written, or last written entry was a deletion). Returning ok=false
// signals an unmergeable input and surfaces to the reader as corruption.
type MergeOperator interface {
	FullMerge(key, existing []byte, operands [][]byte) (value []byte, ok bool)

	// Name is recorded for operators the way comparator names are: it
	// identifies the semantics, it is not validated against the manifest.
	Name() string
}

// AssociativeMergeOperator is the simpler contract for operators where
// combining is pairwise and order-insensitive enough to fold left.
type AssociativeMergeOperator interface {
	Merge(key, existing, operand []byte) (value []byte, ok bool)
	Name() string
}

type associativeAdapter struct {
	op AssociativeMergeOperator
}

// NewAssociativeMergeOperator lifts an associative operator into the full
// interface by folding operands left to right.
func NewAssociativeMergeOperator(op AssociativeMergeOperator) MergeOperator {
	return associativeAdapter{op: op}
}

func (a associativeAdapter) FullMerge(key, existing []byte, operands [][]byte) ([]byte, bool) {
	value := existing
	for _, operand := range operands {
		var ok bool
		value, ok = a.op.Merge(key, value, operand)
		if !ok {
			return nil, false
		}
	}
	return value, true
}

func (a associativeAdapter) Name() string { return a.op.Name() }

// UInt64AddOperator treats values as little-endian uint64 counters and
// adds operands to the base. A missing base counts as zero; any value of
// the wrong width is unmergeable.
type UInt64AddOperator struct{}

func (UInt64AddOperator) Merge(_, existing, operand []byte) ([]byte, bool) {
	var sum uint64
	if existing != nil {
		if len(existing) != 8 {
			return nil, false
		}
		sum = binary.LittleEndian.Uint64(existing)
	}
	if len(operand) != 8 {
		return nil, false
	}
	sum += binary.LittleEndian.Uint64(operand)

	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, sum)
	return out, true
}

func (UInt64AddOperator) Name() string { return "quarry.UInt64AddOperator" }

// EncodeUInt64 renders a counter value for UInt64AddOperator.
func EncodeUInt64(v uint64) []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, v)
	return out
}

// DecodeUInt64 reads a counter value produced by UInt64AddOperator.
func DecodeUInt64(v []byte) (uint64, bool) {
	if len(v) != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(v), true
}

// StringAppendOperator concatenates operands onto the base value with a
// single-byte delimiter.
type StringAppendOperator struct {
	Delimiter byte
}

func (s StringAppendOperator) Merge(_, existing, operand []byte) ([]byte, bool) {
	if existing == nil {
		return append([]byte(nil), operand...), true
	}
	out := make([]byte, 0, len(existing)+1+len(operand))
	out = append(out, existing...)
	out = append(out, s.Delimiter)
	out = append(out, operand...)
	return out, true
}

func (StringAppendOperator) Name() string { return "quarry.StringAppendOperator" }
