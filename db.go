package quarry

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/quarrydb/quarry/internal/logging"
	"github.com/quarrydb/quarry/internal/table"
	"github.com/quarrydb/quarry/internal/version"
	"github.com/quarrydb/quarry/internal/vfs"
	"github.com/quarrydb/quarry/internal/wal"
)

// DB is a persistent key/value store with column families. All methods
// are safe for concurrent use; a single mutex serializes the core.
type DB struct {
	opts   *Options
	fs     vfs.FS
	dir    string
	walDir string
	logger Logger

	fileLock io.Closer

	mu           sync.Mutex
	closed       bool
	versions     *version.VersionSet
	families     map[string]*columnFamily
	familiesByID map[uint32]*columnFamily
	wal          walState
	tables       map[uint64]cachedTable
}

// cachedTable remembers whether a cached reader's checksum was checked,
// so a later read that demands verification reopens the file.
type cachedTable struct {
	reader   *table.Reader
	verified bool
}

// walState is the open write-ahead log segment.
type walState struct {
	number uint64
	file   vfs.WritableFile
	writer *wal.Writer
}

// Open opens or creates the database at path with only the default
// column family. Opening a database that has additional families fails;
// use OpenColumnFamilies and name all of them.
func Open(path string, opts *Options) (*DB, error) {
	db, _, err := OpenColumnFamilies(path, opts, []string{DefaultColumnFamilyName})
	return db, err
}

// OpenColumnFamilies opens the database at path. names must list every
// column family the database has, the default included; a missing or
// unknown name fails the open. The returned handles parallel names.
//
// Opening replays the write-ahead log and flushes whatever it recovers,
// so a clean open never depends on the same log entries twice.
func OpenColumnFamilies(path string, opts *Options, names []string) (*DB, []*ColumnFamilyHandle, error) {
	o := opts.sanitized()

	db := &DB{
		opts:         o,
		fs:           vfs.Default,
		dir:          path,
		walDir:       path,
		logger:       o.Logger,
		families:     make(map[string]*columnFamily),
		familiesByID: make(map[uint32]*columnFamily),
		tables:       make(map[uint64]cachedTable),
	}
	if o.WALDir != "" {
		db.walDir = o.WALDir
	}

	if err := db.fs.MkdirAll(db.dir); err != nil {
		return nil, nil, ioError("create database directory", err)
	}
	if db.walDir != db.dir {
		if err := db.fs.MkdirAll(db.walDir); err != nil {
			return nil, nil, ioError("create WAL directory", err)
		}
	}

	fileLock, err := db.fs.Lock(version.LockFileName(db.dir))
	if err != nil {
		return nil, nil, ioError("lock database", err)
	}
	db.fileLock = fileLock

	handles, err := db.open(names)
	if err != nil {
		if db.versions != nil {
			_ = db.versions.Close()
		}
		if db.wal.file != nil {
			_ = db.wal.file.Close()
		}
		_ = fileLock.Close()
		return nil, nil, err
	}
	return db, handles, nil
}

func (db *DB) open(names []string) ([]*ColumnFamilyHandle, error) {
	db.versions = version.New(db.fs, db.dir, db.opts.Comparator.Name(), db.logger)

	exists := db.fs.Exists(version.CurrentFileName(db.dir))
	switch {
	case !exists && !db.opts.CreateIfMissing:
		return nil, fmt.Errorf("%w: database %q does not exist", ErrInvalidArgument, db.dir)
	case exists && db.opts.ErrorIfExists:
		return nil, fmt.Errorf("%w: database %q", ErrAlreadyExists, db.dir)
	case !exists:
		if err := db.versions.Create(); err != nil {
			return nil, ioError("create manifest", err)
		}
		db.logger.Infof(logging.NamespaceDB+"created database %q", db.dir)
	default:
		if err := db.versions.Recover(false); err != nil {
			return nil, mapVersionError(err)
		}
	}

	handles, err := db.reconcileFamilies(names)
	if err != nil {
		return nil, err
	}

	if err := db.replayLogSegments(); err != nil {
		return nil, err
	}
	if err := db.finishRecovery(); err != nil {
		return nil, err
	}

	db.logger.Infof(logging.NamespaceDB+"opened %q: %d column families, last sequence %d",
		db.dir, len(db.families), db.versions.LastSequence())
	return handles, nil
}

// reconcileFamilies checks the requested names against the persistent
// registry. Both directions must match: a requested name the registry
// does not have, and a registered family the caller did not name, are
// each an error. This forces callers to acknowledge every family before
// its log entries are interpreted.
func (db *DB) reconcileFamilies(names []string) ([]*ColumnFamilyHandle, error) {
	requested := make(map[string]bool, len(names))
	for _, name := range names {
		if requested[name] {
			return nil, fmt.Errorf("%w: column family %q requested twice", ErrInvalidArgument, name)
		}
		requested[name] = true
	}

	byName := make(map[string]*version.ColumnFamilyMeta)
	for _, meta := range db.versions.ColumnFamilies() {
		byName[meta.Name] = meta
	}

	for _, name := range names {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrColumnFamilyNotFound, name)
		}
	}
	for name := range byName {
		if !requested[name] {
			return nil, fmt.Errorf("%w: column family %q exists but was not opened", ErrInvalidArgument, name)
		}
	}

	handles := make([]*ColumnFamilyHandle, len(names))
	for i, name := range names {
		meta := byName[name]
		cf := db.newColumnFamily(meta.ID, meta.Name)
		db.families[name] = cf
		db.familiesByID[meta.ID] = cf
		handles[i] = cf.handle
	}
	return handles, nil
}

func mapVersionError(err error) error {
	switch {
	case errors.Is(err, version.ErrComparatorMismatch):
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	case errors.Is(err, version.ErrCorruptedManifest):
		return corruptionError(err)
	default:
		return ioError("recover manifest", err)
	}
}

// tableReader returns a cached reader for a table file, opening it on
// first use. A read that demands checksum verification upgrades a cached
// unverified reader.
func (db *DB) tableReader(fileNumber uint64, verify bool) (*table.Reader, error) {
	if c, ok := db.tables[fileNumber]; ok && (c.verified || !verify) {
		return c.reader, nil
	}
	name := version.TableFileName(db.dir, fileNumber)
	f, err := db.fs.OpenRandomAccess(name)
	if err != nil {
		return nil, ioError("open table file", err)
	}
	r, err := table.Open(f, db.opts.Comparator.Compare, verify)
	_ = f.Close()
	if err != nil {
		return nil, corruptionError(fmt.Errorf("%s: %w", name, err))
	}
	db.tables[fileNumber] = cachedTable{reader: r, verified: verify}
	return r, nil
}

func (db *DB) dropTableReader(fileNumber uint64) {
	delete(db.tables, fileNumber)
}

// Close releases the database. Unflushed writes stay in the write-ahead
// log and are replayed on the next open.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true

	var firstErr error
	if db.wal.file != nil {
		if err := db.wal.file.Close(); err != nil && firstErr == nil {
			firstErr = ioError("close WAL", err)
		}
	}
	if err := db.versions.Close(); err != nil && firstErr == nil {
		firstErr = ioError("close manifest", err)
	}
	if err := db.fileLock.Close(); err != nil && firstErr == nil {
		firstErr = ioError("unlock database", err)
	}
	db.logger.Infof(logging.NamespaceDB+"closed %q", db.dir)
	return firstErr
}

// ListColumnFamilies returns the names of the column families in the
// database at path by folding its manifest. No lock is taken and no
// write-ahead log is read; the database itself is not opened.
func ListColumnFamilies(path string) ([]string, error) {
	vs := version.New(vfs.Default, path, "", logging.Discard)
	defer func() { _ = vs.Close() }()
	if err := vs.Recover(true); err != nil {
		if errors.Is(err, version.ErrCorruptedManifest) {
			return nil, corruptionError(err)
		}
		return nil, ioError("list column families", err)
	}
	return vs.LiveNames(), nil
}

// Destroy removes the database at path, including write-ahead log
// segments in Options.WALDir when one is set. The database must not be
// open.
func Destroy(path string, opts *Options) error {
	o := opts.sanitized()
	fs := vfs.Default
	if !fs.Exists(path) {
		return nil
	}

	fileLock, err := fs.Lock(version.LockFileName(path))
	if err != nil {
		return ioError("lock database", err)
	}
	defer func() { _ = fileLock.Close() }()

	if o.WALDir != "" && o.WALDir != path {
		names, err := fs.ListDir(o.WALDir)
		if err == nil {
			for _, name := range names {
				if number, ok := version.ParseLogFileName(name); ok {
					_ = fs.Remove(version.LogFileName(o.WALDir, number))
				}
			}
		}
	}
	if err := fs.RemoveAll(path); err != nil {
		return ioError("remove database", err)
	}
	return nil
}
