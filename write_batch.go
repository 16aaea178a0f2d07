package quarry

import "github.com/quarrydb/quarry/internal/batch"

// WriteBatch collects operations to be committed atomically by DB.Write.
// All of a batch's operations reach the write-ahead log as one record, so
// after a crash either all of them replay or none do.
//
// A batch is not safe for concurrent use, but may be reused after Clear.
type WriteBatch struct {
	b *batch.WriteBatch
}

// NewWriteBatch returns an empty batch.
func NewWriteBatch() *WriteBatch {
	return &WriteBatch{b: batch.New()}
}

func familyID(cf *ColumnFamilyHandle) uint32 {
	if cf == nil {
		return 0
	}
	return cf.cf.id
}

// Put records a key/value write. A nil handle targets the default family.
func (wb *WriteBatch) Put(cf *ColumnFamilyHandle, key, value []byte) {
	wb.b.Put(familyID(cf), key, value)
}

// Delete records a deletion.
func (wb *WriteBatch) Delete(cf *ColumnFamilyHandle, key []byte) {
	wb.b.Delete(familyID(cf), key)
}

// Merge records a merge operand.
func (wb *WriteBatch) Merge(cf *ColumnFamilyHandle, key, operand []byte) {
	wb.b.Merge(familyID(cf), key, operand)
}

// LogData attaches an opaque blob that is written to the WAL but never
// applied to any family.
func (wb *WriteBatch) LogData(blob []byte) {
	wb.b.LogData(blob)
}

// Count returns the number of operations recorded so far.
func (wb *WriteBatch) Count() int {
	return int(wb.b.Count())
}

// Clear empties the batch for reuse.
func (wb *WriteBatch) Clear() {
	wb.b.Clear()
}
