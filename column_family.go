package quarry

import (
	"fmt"

	"github.com/quarrydb/quarry/internal/logging"
	"github.com/quarrydb/quarry/internal/manifest"
	"github.com/quarrydb/quarry/internal/memtable"
	"github.com/quarrydb/quarry/internal/version"
)

// DefaultColumnFamilyName names the family every database has. It cannot
// be created or dropped.
const DefaultColumnFamilyName = version.DefaultColumnFamilyName

// ColumnFamilyHandle identifies a column family to the write and read
// APIs. A nil handle means the default family.
//
// A handle holds a reference on its family: after DropColumnFamily the
// family accepts no new writes, but a handle that was open at drop time
// keeps reading the family's data until the handle is closed. The
// family's files are reclaimed only once it is dropped and every handle
// released.
type ColumnFamilyHandle struct {
	db     *DB
	cf     *columnFamily
	closed bool
}

// ID returns the family's permanent id. Ids are never reused, even after
// a drop.
func (h *ColumnFamilyHandle) ID() uint32 { return h.cf.id }

// Name returns the family's name.
func (h *ColumnFamilyHandle) Name() string { return h.cf.name }

// Close releases the handle's reference. Closing is idempotent; after
// Close the handle no longer resolves.
func (h *ColumnFamilyHandle) Close() error {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.db.unrefFamilyLocked(h.cf)
	return nil
}

// columnFamily is the in-memory side of one family: its mutable write
// buffer, the handle given out to callers, and the reference count that
// defers physical release past a drop. Durable metadata (log number,
// table files) lives in the version set while the family is live.
type columnFamily struct {
	id   uint32
	name string
	mem  *memtable.MemTable

	// refs counts open handles. Seeded at 1 by create and open.
	refs    int
	dropped bool

	// files snapshots the family's table files at drop time so held
	// handles can keep reading them after the version set forgets the
	// family.
	files []manifest.FileMeta

	handle *ColumnFamilyHandle
}

func (db *DB) newMemTable() *memtable.MemTable {
	return memtable.New(db.opts.Comparator.Compare)
}

func (db *DB) newColumnFamily(id uint32, name string) *columnFamily {
	cf := &columnFamily{
		id:   id,
		name: name,
		mem:  db.newMemTable(),
		refs: 1,
	}
	cf.handle = &ColumnFamilyHandle{db: db, cf: cf}
	return cf
}

// CreateColumnFamily adds a family under a fresh, never-used id. The
// creation is durable before the handle is returned.
func (db *DB) CreateColumnFamily(name string) (*ColumnFamilyHandle, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrDatabaseClosed
	}
	if name == "" {
		return nil, fmt.Errorf("%w: empty column family name", ErrInvalidArgument)
	}
	if _, exists := db.families[name]; exists {
		return nil, fmt.Errorf("%w: %q", ErrColumnFamilyExists, name)
	}

	id := db.versions.MaxColumnFamily() + 1

	var edit manifest.VersionEdit
	edit.SetColumnFamily(id)
	edit.AddColumnFamily(name)
	edit.SetMaxColumnFamily(id)
	// The new family has nothing before the current segment, so nothing
	// older can ever be eligible for it.
	edit.SetLogNumber(db.wal.number)
	if err := db.versions.LogAndApply(&edit); err != nil {
		return nil, corruptionError(err)
	}

	cf := db.newColumnFamily(id, name)
	db.familiesByID[id] = cf
	db.families[name] = cf
	db.logger.Infof(logging.NamespaceDB+"created column family %q (id %d)", name, id)
	return cf.handle, nil
}

// DropColumnFamily removes a family from the registry: the drop is
// durable before the call returns, the name is immediately reusable, and
// the id is never handed out again. New writes to the family fail, but
// handles open at drop time keep reading it until they are closed; the
// family's table files are deleted only once the last handle goes away.
// Dropping the default family is an error.
func (db *DB) DropColumnFamily(handle *ColumnFamilyHandle) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	if handle == nil || handle.cf.id == version.DefaultColumnFamilyID {
		return ErrDropDefaultFamily
	}
	cf := handle.cf
	if cf.dropped {
		return fmt.Errorf("%w: id %d", ErrColumnFamilyNotFound, cf.id)
	}

	meta, _ := db.versions.ColumnFamily(cf.id)

	var edit manifest.VersionEdit
	edit.SetColumnFamily(cf.id)
	edit.DropColumnFamily()
	if err := db.versions.LogAndApply(&edit); err != nil {
		return corruptionError(err)
	}

	delete(db.familiesByID, cf.id)
	delete(db.families, cf.name)

	cf.dropped = true
	if meta != nil {
		cf.files = append([]manifest.FileMeta(nil), meta.Files...)
	}
	if cf.refs <= 0 {
		db.releaseFamilyFilesLocked(cf)
	}
	db.logger.Infof(logging.NamespaceDB+"dropped column family %q (id %d)", cf.name, cf.id)
	return nil
}

// unrefFamilyLocked drops one handle reference and reclaims the family's
// files once it is both dropped and unreferenced.
func (db *DB) unrefFamilyLocked(cf *columnFamily) {
	cf.refs--
	if cf.refs <= 0 && cf.dropped {
		db.releaseFamilyFilesLocked(cf)
	}
}

// releaseFamilyFilesLocked deletes a dropped family's table files.
// Removal failures only leak disk space; the files are unreachable.
func (db *DB) releaseFamilyFilesLocked(cf *columnFamily) {
	for _, f := range cf.files {
		db.dropTableReader(f.FileNumber)
		name := version.TableFileName(db.dir, f.FileNumber)
		if err := db.fs.Remove(name); err != nil {
			db.logger.Warnf(logging.NamespaceDB+"remove %s: %v", name, err)
		}
	}
	cf.files = nil
	cf.mem = nil
}

// ColumnFamilyNames returns the sorted names of the live families.
func (db *DB) ColumnFamilyNames() ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrDatabaseClosed
	}
	return db.versions.LiveNames(), nil
}

// familyByID resolves a batch's family id against the live set. Dropped
// families are absent: writes never reach a tombstone.
func (db *DB) familyByID(id uint32) (*columnFamily, error) {
	cf, ok := db.familiesByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrColumnFamilyNotFound, id)
	}
	return cf, nil
}

// resolveHandle maps a caller-supplied handle (nil meaning default) to
// its family. Unlike familyByID this resolves dropped families too, as
// long as the handle is still open: reads through a held handle survive
// the drop.
func (db *DB) resolveHandle(handle *ColumnFamilyHandle) (*columnFamily, error) {
	if handle == nil {
		return db.familyByID(version.DefaultColumnFamilyID)
	}
	if handle.closed {
		return nil, fmt.Errorf("%w: handle released", ErrColumnFamilyNotFound)
	}
	return handle.cf, nil
}

// tableFiles returns the family's live table files, oldest first.
func (db *DB) tableFiles(cf *columnFamily) []manifest.FileMeta {
	if cf.dropped {
		return cf.files
	}
	if meta, ok := db.versions.ColumnFamily(cf.id); ok {
		return meta.Files
	}
	return nil
}
