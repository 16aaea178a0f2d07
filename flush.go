package quarry

import (
	"fmt"

	"github.com/quarrydb/quarry/internal/logging"
	"github.com/quarrydb/quarry/internal/manifest"
	"github.com/quarrydb/quarry/internal/table"
	"github.com/quarrydb/quarry/internal/version"
	"github.com/quarrydb/quarry/internal/wal"
)

// Flush writes a family's memtable to a table file and advances its
// replay checkpoint past the current WAL segment. A flush of an empty
// memtable is a no-op.
func (db *DB) Flush(handle *ColumnFamilyHandle) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	cf, err := db.resolveHandle(handle)
	if err != nil {
		return err
	}
	if cf.dropped {
		return fmt.Errorf("%w: %q", ErrColumnFamilyNotFound, cf.name)
	}
	return db.flushLocked(cf)
}

// flushLocked is the synchronous flush: table file first, then WAL
// rotation, then a single manifest application that both publishes the
// file and moves the family's checkpoint to the fresh segment. The
// checkpoint move is what makes the flushed entries in older segments
// ineligible for replay.
func (db *DB) flushLocked(cf *columnFamily) error {
	if cf.mem.Empty() {
		return nil
	}

	meta, err := db.writeTableFile(cf)
	if err != nil {
		return err
	}

	if err := db.rotateWAL(); err != nil {
		return err
	}

	edit := &manifest.VersionEdit{}
	edit.SetColumnFamily(cf.id)
	edit.AddFile(meta)
	edit.SetLogNumber(db.wal.number)

	global := &manifest.VersionEdit{}
	global.SetNextFileNumber(db.versions.NextFileNumber())
	global.SetLastSequence(db.versions.LastSequence())

	if err := db.versions.LogAndApply(edit, global); err != nil {
		return corruptionError(err)
	}

	cf.mem = db.newMemTable()
	db.removeObsoleteSegments()

	db.logger.Infof(logging.NamespaceFlush+"family %q: file %06d, %d bytes, keys %q..%q",
		cf.name, meta.FileNumber, meta.FileSize, meta.Smallest, meta.Largest)
	return nil
}

// writeTableFile persists cf's memtable as a new table file and returns
// its metadata. The file and its directory entry are synced before the
// metadata is handed to the manifest.
func (db *DB) writeTableFile(cf *columnFamily) (manifest.FileMeta, error) {
	fileNumber := db.versions.NewFileNumber()
	name := version.TableFileName(db.dir, fileNumber)

	builder := table.NewBuilder(db.opts.Compression.internal())
	for it := cf.mem.NewIterator(); it.Valid(); it.Next() {
		builder.Add(it.InternalKey(), it.Value())
	}

	f, err := db.fs.Create(name)
	if err != nil {
		return manifest.FileMeta{}, ioError("create table file", err)
	}
	size, err := builder.Finish(f)
	if err != nil {
		_ = f.Close()
		return manifest.FileMeta{}, ioError("write table file", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return manifest.FileMeta{}, ioError("sync table file", err)
	}
	if err := f.Close(); err != nil {
		return manifest.FileMeta{}, ioError("close table file", err)
	}
	if err := db.fs.SyncDir(db.dir); err != nil {
		return manifest.FileMeta{}, ioError("sync database directory", err)
	}

	return manifest.FileMeta{
		FileNumber: fileNumber,
		FileSize:   uint64(size),
		Smallest:   append([]byte(nil), builder.Smallest()...),
		Largest:    append([]byte(nil), builder.Largest()...),
		LargestSeq: builder.LargestSeq(),
	}, nil
}

// rotateWAL opens a fresh segment and retires the previous one. Entries
// in older segments stay replayable until every family's checkpoint moves
// past them.
func (db *DB) rotateWAL() error {
	number := db.versions.NewFileNumber()
	name := version.LogFileName(db.walDir, number)

	f, err := db.fs.Create(name)
	if err != nil {
		return ioError("create WAL segment", err)
	}
	if err := db.fs.SyncDir(db.walDir); err != nil {
		_ = f.Close()
		return ioError("sync WAL directory", err)
	}

	if db.wal.file != nil {
		if err := db.wal.file.Sync(); err != nil {
			_ = f.Close()
			return ioError("sync WAL segment", err)
		}
		if err := db.wal.file.Close(); err != nil {
			_ = f.Close()
			return ioError("close WAL segment", err)
		}
	}

	db.wal = walState{
		number: number,
		file:   f,
		writer: wal.NewWriter(f, 0),
	}
	db.logger.Debugf(logging.NamespaceWAL+"opened segment %06d", number)
	return nil
}

// maybeFlushLocked flushes any family whose memtable has outgrown the
// write buffer.
func (db *DB) maybeFlushLocked() error {
	for _, cf := range db.familiesByID {
		if cf.mem.ApproximateMemoryUsage() >= uint64(db.opts.WriteBufferSize) {
			if err := db.flushLocked(cf); err != nil {
				return err
			}
		}
	}
	return nil
}
