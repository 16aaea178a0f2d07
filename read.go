package quarry

import (
	"fmt"

	"github.com/quarrydb/quarry/internal/memtable"
	"github.com/quarrydb/quarry/internal/table"
)

// Get returns the value of key in the given family, resolving any merge
// operands on the way. A nil handle targets the default family. Keys
// that were never written, or whose newest entry is a deletion, return
// ErrNotFound.
func (db *DB) Get(ro ReadOptions, handle *ColumnFamilyHandle, key []byte) ([]byte, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrDatabaseClosed
	}
	cf, err := db.resolveHandle(handle)
	if err != nil {
		return nil, err
	}

	// Walk storage newest to oldest, collecting merge operands until a
	// base value or deletion terminates the chain.
	var operands [][]byte

	base, ops, memState := cf.mem.Get(key)
	operands = append(operands, ops...)
	switch memState {
	case memtable.LookupFound:
		return db.resolveValue(key, base, true, operands)
	case memtable.LookupDeleted:
		return db.resolveValue(key, nil, false, operands)
	}

	files := db.tableFiles(cf)
	for i := len(files) - 1; i >= 0; i-- {
		r, err := db.tableReader(files[i].FileNumber, ro.VerifyChecksums)
		if err != nil {
			return nil, err
		}
		base, ops, fileState := r.Get(key)
		operands = append(operands, ops...)
		switch fileState {
		case table.LookupFound:
			return db.resolveValue(key, base, true, operands)
		case table.LookupDeleted:
			return db.resolveValue(key, nil, false, operands)
		}
	}
	return db.resolveValue(key, nil, false, operands)
}

// resolveValue finishes a lookup: without operands the base value is the
// answer; with operands the merge operator folds them over the base.
func (db *DB) resolveValue(key, base []byte, haveBase bool, operands [][]byte) ([]byte, error) {
	if len(operands) == 0 {
		if !haveBase {
			return nil, ErrNotFound
		}
		return append([]byte(nil), base...), nil
	}

	op := db.opts.MergeOperator
	if op == nil {
		return nil, ErrNoMergeOperator
	}

	// Operands were collected newest first; the operator sees them in
	// commit order.
	for i, j := 0, len(operands)-1; i < j; i, j = i+1, j-1 {
		operands[i], operands[j] = operands[j], operands[i]
	}
	var existing []byte
	if haveBase {
		existing = base
		if existing == nil {
			existing = []byte{}
		}
	}
	value, ok := op.FullMerge(key, existing, operands)
	if !ok {
		return nil, fmt.Errorf("%w: merge operator %q could not combine %d operands",
			ErrCorruption, op.Name(), len(operands))
	}
	return value, nil
}
