package quarry

import (
	"fmt"
	"io"
	"sort"

	"github.com/quarrydb/quarry/internal/batch"
	"github.com/quarrydb/quarry/internal/dbformat"
	"github.com/quarrydb/quarry/internal/logging"
	"github.com/quarrydb/quarry/internal/manifest"
	"github.com/quarrydb/quarry/internal/version"
	"github.com/quarrydb/quarry/internal/wal"
)

// replayLogSegments replays the write-ahead log into the memtables.
//
// Eligibility is decided per entry, not per segment: an entry applies only
// if its column family is live and the segment's number is at or above
// the family's log number checkpoint. Entries for dropped or unknown
// families, and entries a flush already subsumed, are skipped. Skipped
// batches still advance the sequence watermark so no sequence number is
// ever handed out twice.
func (db *DB) replayLogSegments() error {
	names, err := db.fs.ListDir(db.walDir)
	if err != nil {
		return ioError("list WAL directory", err)
	}

	var segments []uint64
	for _, name := range names {
		if number, ok := version.ParseLogFileName(name); ok {
			segments = append(segments, number)
		}
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i] < segments[j] })

	minLog := db.versions.MinLogNumber()
	for _, number := range segments {
		if number < minLog {
			// Below every family's checkpoint: fully subsumed.
			continue
		}
		if err := db.replaySegment(number); err != nil {
			return err
		}
	}
	return nil
}

type replayReporter struct {
	logger  Logger
	segment uint64
}

func (r replayReporter) Corruption(bytes int, err error) {
	r.logger.Errorf(logging.NamespaceRecovery+"segment %06d: corruption (%d bytes): %v",
		r.segment, bytes, err)
}

func (db *DB) replaySegment(number uint64) error {
	name := version.LogFileName(db.walDir, number)
	f, err := db.fs.Open(name)
	if err != nil {
		return ioError("open WAL segment", err)
	}
	defer func() { _ = f.Close() }()

	reader := wal.NewReader(f, replayReporter{db.logger, number}, true)
	var records, applied int
	for {
		record, err := reader.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			return corruptionError(fmt.Errorf("segment %06d: %w", number, err))
		}

		b, err := batch.NewFromData(record)
		if err != nil {
			return corruptionError(fmt.Errorf("segment %06d: %w", number, err))
		}

		applier := &replayApplier{db: db, segment: number, seq: b.Sequence()}
		if err := b.Iterate(applier); err != nil {
			return corruptionError(fmt.Errorf("segment %06d: %w", number, err))
		}
		records++
		applied += applier.applied

		if count := b.Count(); count > 0 {
			db.versions.SetLastSequence(b.Sequence() + dbformat.SequenceNumber(count) - 1)
		}
	}

	db.logger.Infof(logging.NamespaceRecovery+"segment %06d: %d batches, %d operations applied",
		number, records, applied)
	return nil
}

// replayApplier feeds a recovered batch into the memtables through the
// same apply path live writes use. The sequence counter advances for
// every operation, applied or skipped.
type replayApplier struct {
	db      *DB
	segment uint64
	seq     dbformat.SequenceNumber
	applied int
}

// eligible returns the target family if this entry must be applied.
func (r *replayApplier) eligible(cfID uint32) *columnFamily {
	cf, ok := r.db.familiesByID[cfID]
	if !ok {
		// Dropped since the entry was written, or foreign to this
		// database's registry entirely.
		return nil
	}
	meta, ok := r.db.versions.ColumnFamily(cfID)
	if !ok || r.segment < meta.LogNumber {
		return nil
	}
	return cf
}

func (r *replayApplier) apply(cfID uint32, typ dbformat.ValueType, key, value []byte) error {
	if cf := r.eligible(cfID); cf != nil {
		cf.mem.Add(r.seq, typ, key, value)
		r.applied++
	}
	r.seq++
	return nil
}

func (r *replayApplier) PutCF(cfID uint32, key, value []byte) error {
	return r.apply(cfID, dbformat.TypeValue, key, value)
}

func (r *replayApplier) DeleteCF(cfID uint32, key []byte) error {
	return r.apply(cfID, dbformat.TypeDeletion, key, nil)
}

func (r *replayApplier) MergeCF(cfID uint32, key, operand []byte) error {
	return r.apply(cfID, dbformat.TypeMerge, key, operand)
}

func (r *replayApplier) LogData([]byte) {}

// finishRecovery makes the replay's effects durable and retires the old
// segments. A fresh segment is opened, every recovered memtable is
// flushed to a table file, and every family's checkpoint advances to the
// fresh segment in one manifest application. After that no pre-existing
// segment is eligible for any family, so replayed entries can never be
// applied a second time even if an old segment file reappears.
func (db *DB) finishRecovery() error {
	if err := db.rotateWAL(); err != nil {
		return err
	}

	ids := make([]uint32, 0, len(db.familiesByID))
	for id := range db.familiesByID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var edits []*manifest.VersionEdit
	for _, id := range ids {
		cf := db.familiesByID[id]
		edit := &manifest.VersionEdit{}
		edit.SetColumnFamily(cf.id)
		edit.SetLogNumber(db.wal.number)
		if !cf.mem.Empty() {
			meta, err := db.writeTableFile(cf)
			if err != nil {
				return err
			}
			edit.AddFile(meta)
		}
		edits = append(edits, edit)
	}

	global := &manifest.VersionEdit{}
	global.SetNextFileNumber(db.versions.NextFileNumber())
	global.SetLastSequence(db.versions.LastSequence())
	edits = append(edits, global)

	if err := db.versions.LogAndApply(edits...); err != nil {
		return corruptionError(err)
	}

	for _, id := range ids {
		cf := db.familiesByID[id]
		if !cf.mem.Empty() {
			cf.mem = db.newMemTable()
		}
	}

	db.removeObsoleteSegments()
	return nil
}

// removeObsoleteSegments deletes WAL segments below every family's
// checkpoint. Failures only delay reclamation.
func (db *DB) removeObsoleteSegments() {
	names, err := db.fs.ListDir(db.walDir)
	if err != nil {
		db.logger.Warnf(logging.NamespaceWAL+"list %s: %v", db.walDir, err)
		return
	}
	minLog := db.versions.MinLogNumber()
	for _, name := range names {
		number, ok := version.ParseLogFileName(name)
		if !ok || number >= minLog || number == db.wal.number {
			continue
		}
		path := version.LogFileName(db.walDir, number)
		if err := db.fs.Remove(path); err != nil {
			db.logger.Warnf(logging.NamespaceWAL+"remove %s: %v", path, err)
			continue
		}
		db.logger.Debugf(logging.NamespaceWAL+"removed obsolete segment %06d", number)
	}
}
