package quarry

import (
	"fmt"

	"github.com/quarrydb/quarry/internal/dbformat"
)

// Write commits a batch atomically: one WAL record, one contiguous run
// of sequence numbers, then the memtable applies. Every family the batch
// touches must be live when Write is called.
func (db *DB) Write(wo WriteOptions, wb *WriteBatch) error {
	if wb == nil {
		return fmt.Errorf("%w: nil batch", ErrInvalidArgument)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrDatabaseClosed
	}

	// Validate before anything reaches the log: a rejected batch must
	// leave no trace.
	if err := wb.b.Iterate(&writeValidator{db: db}); err != nil {
		return err
	}

	seq := db.versions.LastSequence() + 1
	wb.b.SetSequence(seq)

	if err := db.wal.writer.AddRecord(wb.b.Data()); err != nil {
		return ioError("append WAL", err)
	}
	if wo.Sync || db.opts.SyncWrites {
		if err := db.wal.writer.Sync(); err != nil {
			return ioError("sync WAL", err)
		}
	}

	applier := &memTableApplier{db: db, seq: seq}
	if err := wb.b.Iterate(applier); err != nil {
		// The validator accepted this batch; failure here means the
		// encoding changed underneath us.
		return corruptionError(err)
	}

	if count := wb.b.Count(); count > 0 {
		db.versions.SetLastSequence(seq + dbformat.SequenceNumber(count) - 1)
	}
	return db.maybeFlushLocked()
}

// Put writes key to value in the given family. A nil handle targets the
// default family.
func (db *DB) Put(wo WriteOptions, cf *ColumnFamilyHandle, key, value []byte) error {
	wb := NewWriteBatch()
	wb.Put(cf, key, value)
	return db.Write(wo, wb)
}

// Delete removes key from the given family. Deleting an absent key is
// not an error.
func (db *DB) Delete(wo WriteOptions, cf *ColumnFamilyHandle, key []byte) error {
	wb := NewWriteBatch()
	wb.Delete(cf, key)
	return db.Write(wo, wb)
}

// Merge records a merge operand for key in the given family. The
// database must be configured with a merge operator.
func (db *DB) Merge(wo WriteOptions, cf *ColumnFamilyHandle, key, operand []byte) error {
	wb := NewWriteBatch()
	wb.Merge(cf, key, operand)
	return db.Write(wo, wb)
}

// writeValidator rejects batches that reference families the registry
// does not have, and merges without an operator to resolve them.
type writeValidator struct {
	db *DB
}

func (v *writeValidator) check(cfID uint32) error {
	_, err := v.db.familyByID(cfID)
	return err
}

func (v *writeValidator) PutCF(cfID uint32, _, _ []byte) error {
	return v.check(cfID)
}

func (v *writeValidator) DeleteCF(cfID uint32, _ []byte) error {
	return v.check(cfID)
}

func (v *writeValidator) MergeCF(cfID uint32, _, _ []byte) error {
	if v.db.opts.MergeOperator == nil {
		return ErrNoMergeOperator
	}
	return v.check(cfID)
}

func (v *writeValidator) LogData([]byte) {}

// memTableApplier inserts a committed batch's operations, assigning each
// one its sequence number in batch order.
type memTableApplier struct {
	db  *DB
	seq dbformat.SequenceNumber
}

func (a *memTableApplier) add(cfID uint32, typ dbformat.ValueType, key, value []byte) error {
	cf, err := a.db.familyByID(cfID)
	if err != nil {
		return err
	}
	cf.mem.Add(a.seq, typ, key, value)
	a.seq++
	return nil
}

func (a *memTableApplier) PutCF(cfID uint32, key, value []byte) error {
	return a.add(cfID, dbformat.TypeValue, key, value)
}

func (a *memTableApplier) DeleteCF(cfID uint32, key []byte) error {
	return a.add(cfID, dbformat.TypeDeletion, key, nil)
}

func (a *memTableApplier) MergeCF(cfID uint32, key, operand []byte) error {
	return a.add(cfID, dbformat.TypeMerge, key, operand)
}

func (a *memTableApplier) LogData([]byte) {}
