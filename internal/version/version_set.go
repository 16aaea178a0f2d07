// Package version maintains the durable metadata of a database: the
// column family registry, file number allocator, sequence watermark and
// the manifest log they are reconstructed from.
//
// The registry's state is always the fold of manifest edits in order.
// Mutations go through LogAndApply, which appends and syncs the edit
// before applying it in memory; state is never changed without its edit
// having been made durable first.
package version

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/quarrydb/quarry/internal/dbformat"
	"github.com/quarrydb/quarry/internal/logging"
	"github.com/quarrydb/quarry/internal/manifest"
	"github.com/quarrydb/quarry/internal/vfs"
	"github.com/quarrydb/quarry/internal/wal"
)

const (
	// DefaultColumnFamilyName is the name of the implicit column family.
	DefaultColumnFamilyName = "default"

	// DefaultColumnFamilyID is its permanent id.
	DefaultColumnFamilyID uint32 = 0
)

var (
	// ErrCorruptedManifest indicates an unreadable or internally
	// inconsistent manifest.
	ErrCorruptedManifest = errors.New("version: corrupted manifest")

	// ErrComparatorMismatch indicates the database was created with a
	// different user comparator than the one supplied at open.
	ErrComparatorMismatch = errors.New("version: comparator mismatch")
)

// ColumnFamilyMeta is the durable metadata of one live column family.
type ColumnFamilyMeta struct {
	ID   uint32
	Name string

	// LogNumber is the smallest WAL segment whose entries for this
	// family are not yet subsumed by a flush. It never decreases.
	LogNumber uint64

	// Files are the family's live table files, oldest first.
	Files []manifest.FileMeta
}

// VersionSet owns the manifest log and the folded state it encodes.
// Callers serialize access externally; the database's write mutex covers
// all mutations.
type VersionSet struct {
	fs     vfs.FS
	dbDir  string
	logger logging.Logger

	comparatorName string

	nextFileNumber  uint64
	lastSequence    dbformat.SequenceNumber
	maxColumnFamily uint32

	cfs map[uint32]*ColumnFamilyMeta

	manifestFileNumber uint64
	manifestFile       vfs.WritableFile
	manifestWriter     *wal.Writer
}

// New creates an empty, not-yet-durable version set.
func New(fs vfs.FS, dbDir, comparatorName string, logger logging.Logger) *VersionSet {
	vs := &VersionSet{
		fs:             fs,
		dbDir:          dbDir,
		logger:         logging.OrDefault(logger),
		comparatorName: comparatorName,
		nextFileNumber: 1,
		cfs:            make(map[uint32]*ColumnFamilyMeta),
	}
	vs.cfs[DefaultColumnFamilyID] = &ColumnFamilyMeta{
		ID:   DefaultColumnFamilyID,
		Name: DefaultColumnFamilyName,
	}
	return vs
}

// Create writes the initial manifest for a brand new database and points
// CURRENT at it.
func (vs *VersionSet) Create() error {
	return vs.installNewManifest()
}

// Recover rebuilds state from the current manifest. When readOnly is set
// no new manifest is written; the caller only wants the folded state.
func (vs *VersionSet) Recover(readOnly bool) error {
	currentBase, err := vs.readCurrent()
	if err != nil {
		return err
	}
	currentPath := filepath.Join(vs.dbDir, currentBase)

	f, err := vs.fs.Open(currentPath)
	if err != nil {
		return fmt.Errorf("version: open manifest: %w", err)
	}
	defer func() { _ = f.Close() }()

	var (
		sawComparator     bool
		sawNextFileNumber bool
	)
	reader := wal.NewReader(f, manifestReporter{vs.logger}, true)
	for {
		record, err := reader.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorruptedManifest, err)
		}

		var edit manifest.VersionEdit
		if err := edit.DecodeFrom(record); err != nil {
			return fmt.Errorf("%w: %w", ErrCorruptedManifest, err)
		}

		if edit.HasComparator {
			sawComparator = true
			// An empty expected name means the caller only wants the
			// folded metadata and cannot check the comparator.
			if vs.comparatorName != "" && edit.Comparator != vs.comparatorName {
				return fmt.Errorf("%w: database uses %q, options use %q",
					ErrComparatorMismatch, edit.Comparator, vs.comparatorName)
			}
		}
		if edit.HasNextFileNumber {
			sawNextFileNumber = true
		}
		if err := vs.apply(&edit); err != nil {
			return err
		}
	}

	if !sawComparator || !sawNextFileNumber {
		return fmt.Errorf("%w: incomplete snapshot", ErrCorruptedManifest)
	}

	if number, ok := ParseManifestFileName(currentBase); ok {
		vs.markFileNumberUsed(number)
	}

	vs.logger.Infof(logging.NamespaceManifest+"recovered %d column families, last sequence %d",
		len(vs.cfs), vs.lastSequence)

	if readOnly {
		return nil
	}

	// Start a fresh manifest so the edit history does not grow without
	// bound across reopens.
	if err := vs.installNewManifest(); err != nil {
		return err
	}
	if err := vs.fs.Remove(currentPath); err != nil {
		vs.logger.Warnf(logging.NamespaceManifest+"remove obsolete %s: %v", currentPath, err)
	}
	return nil
}

type manifestReporter struct {
	logger logging.Logger
}

func (r manifestReporter) Corruption(bytes int, err error) {
	r.logger.Errorf(logging.NamespaceManifest+"corruption (%d bytes): %v", bytes, err)
}

// readCurrent returns the base name of the manifest CURRENT points at.
func (vs *VersionSet) readCurrent() (string, error) {
	data, err := vs.fs.ReadFile(CurrentFileName(vs.dbDir))
	if err != nil {
		return "", fmt.Errorf("version: read CURRENT: %w", err)
	}
	if len(data) == 0 || data[len(data)-1] != '\n' {
		return "", fmt.Errorf("%w: malformed CURRENT", ErrCorruptedManifest)
	}
	name := strings.TrimSuffix(string(data), "\n")
	if _, ok := ParseManifestFileName(name); !ok {
		return "", fmt.Errorf("%w: CURRENT names %q", ErrCorruptedManifest, name)
	}
	return name, nil
}

// LogAndApply durably appends edits as one sync boundary, then applies
// them to the in-memory state.
func (vs *VersionSet) LogAndApply(edits ...*manifest.VersionEdit) error {
	if vs.manifestWriter == nil {
		return errors.New("version: no manifest open")
	}

	// Validate against current state before writing anything: a rejected
	// edit must leave both the log and the state untouched.
	staged := vs.cloneState()
	for _, edit := range edits {
		if err := staged.apply(edit); err != nil {
			return err
		}
	}

	for _, edit := range edits {
		if err := vs.manifestWriter.AddRecord(edit.EncodeTo()); err != nil {
			return fmt.Errorf("version: append manifest edit: %w", err)
		}
	}
	if err := vs.manifestWriter.Sync(); err != nil {
		return fmt.Errorf("version: sync manifest: %w", err)
	}

	// Append succeeded; adopt the staged fold.
	vs.adoptState(staged)
	return nil
}

// cloneState copies the foldable state for staging.
func (vs *VersionSet) cloneState() *VersionSet {
	clone := &VersionSet{
		comparatorName:  vs.comparatorName,
		nextFileNumber:  vs.nextFileNumber,
		lastSequence:    vs.lastSequence,
		maxColumnFamily: vs.maxColumnFamily,
		cfs:             make(map[uint32]*ColumnFamilyMeta, len(vs.cfs)),
	}
	for id, cf := range vs.cfs {
		cfCopy := *cf
		cfCopy.Files = append([]manifest.FileMeta(nil), cf.Files...)
		clone.cfs[id] = &cfCopy
	}
	return clone
}

func (vs *VersionSet) adoptState(staged *VersionSet) {
	vs.nextFileNumber = staged.nextFileNumber
	vs.lastSequence = staged.lastSequence
	vs.maxColumnFamily = staged.maxColumnFamily
	vs.cfs = staged.cfs
}

// apply folds one edit into the state. Inconsistent edits are corruption:
// the manifest is the authority, and an edit that cannot be folded means
// the log and the fold have diverged.
func (vs *VersionSet) apply(edit *manifest.VersionEdit) error {
	if edit.HasNextFileNumber && edit.NextFileNumber > vs.nextFileNumber {
		vs.nextFileNumber = edit.NextFileNumber
	}
	if edit.HasLastSequence && edit.LastSequence > vs.lastSequence {
		vs.lastSequence = edit.LastSequence
	}
	if edit.HasMaxColumnFamily && edit.MaxColumnFamily > vs.maxColumnFamily {
		vs.maxColumnFamily = edit.MaxColumnFamily
	}

	id := edit.ColumnFamily

	switch {
	case edit.IsColumnFamilyAdd:
		if _, exists := vs.cfs[id]; exists {
			return fmt.Errorf("%w: add of existing column family id %d", ErrCorruptedManifest, id)
		}
		for _, cf := range vs.cfs {
			if cf.Name == edit.ColumnFamilyName {
				return fmt.Errorf("%w: add of duplicate name %q", ErrCorruptedManifest, edit.ColumnFamilyName)
			}
		}
		cf := &ColumnFamilyMeta{ID: id, Name: edit.ColumnFamilyName}
		if edit.HasLogNumber {
			cf.LogNumber = edit.LogNumber
		}
		vs.cfs[id] = cf
		if id > vs.maxColumnFamily {
			vs.maxColumnFamily = id
		}

	case edit.IsColumnFamilyDrop:
		if id == DefaultColumnFamilyID {
			return fmt.Errorf("%w: drop of default column family", ErrCorruptedManifest)
		}
		if _, exists := vs.cfs[id]; !exists {
			return fmt.Errorf("%w: drop of unknown column family id %d", ErrCorruptedManifest, id)
		}
		delete(vs.cfs, id)

	default:
		cf, exists := vs.cfs[id]
		if !exists {
			if edit.HasLogNumber || len(edit.NewFiles) > 0 || len(edit.DeletedFiles) > 0 {
				return fmt.Errorf("%w: edit for unknown column family id %d", ErrCorruptedManifest, id)
			}
			break
		}
		if edit.HasLogNumber && edit.LogNumber > cf.LogNumber {
			// Checkpoints only advance.
			cf.LogNumber = edit.LogNumber
		}
		for _, fileNumber := range edit.DeletedFiles {
			for i, f := range cf.Files {
				if f.FileNumber == fileNumber {
					cf.Files = append(cf.Files[:i], cf.Files[i+1:]...)
					break
				}
			}
		}
		cf.Files = append(cf.Files, edit.NewFiles...)
	}
	return nil
}

// installNewManifest writes a snapshot of the current state into a fresh
// manifest file and atomically repoints CURRENT at it.
func (vs *VersionSet) installNewManifest() error {
	number := vs.NewFileNumber()
	name := ManifestFileName(vs.dbDir, number)

	f, err := vs.fs.Create(name)
	if err != nil {
		return fmt.Errorf("version: create manifest: %w", err)
	}
	w := wal.NewWriter(f, 0)

	if err := vs.writeSnapshot(w); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("version: sync manifest: %w", err)
	}

	if err := vs.setCurrentFile(number); err != nil {
		_ = f.Close()
		return err
	}

	if vs.manifestFile != nil {
		_ = vs.manifestFile.Close()
	}
	vs.manifestFileNumber = number
	vs.manifestFile = f
	vs.manifestWriter = w
	return nil
}

// writeSnapshot encodes the full current state: one global record, then
// one record per column family in id order.
func (vs *VersionSet) writeSnapshot(w *wal.Writer) error {
	var global manifest.VersionEdit
	global.SetComparator(vs.comparatorName)
	global.SetNextFileNumber(vs.nextFileNumber)
	global.SetLastSequence(vs.lastSequence)
	global.SetMaxColumnFamily(vs.maxColumnFamily)
	if err := w.AddRecord(global.EncodeTo()); err != nil {
		return fmt.Errorf("version: write snapshot: %w", err)
	}

	ids := make([]uint32, 0, len(vs.cfs))
	for id := range vs.cfs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		cf := vs.cfs[id]
		var edit manifest.VersionEdit
		edit.SetColumnFamily(id)
		if id != DefaultColumnFamilyID {
			edit.AddColumnFamily(cf.Name)
		}
		edit.SetLogNumber(cf.LogNumber)
		for _, f := range cf.Files {
			edit.AddFile(f)
		}
		if err := w.AddRecord(edit.EncodeTo()); err != nil {
			return fmt.Errorf("version: write snapshot: %w", err)
		}
	}
	return nil
}

// setCurrentFile atomically points CURRENT at the given manifest: write a
// temp file, sync it, rename over CURRENT, sync the directory.
func (vs *VersionSet) setCurrentFile(number uint64) error {
	tmp := CurrentFileName(vs.dbDir) + ".tmp"
	contents := fmt.Sprintf("MANIFEST-%06d\n", number)

	f, err := vs.fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("version: create CURRENT.tmp: %w", err)
	}
	if _, err := f.Write([]byte(contents)); err != nil {
		_ = f.Close()
		return fmt.Errorf("version: write CURRENT.tmp: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("version: sync CURRENT.tmp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("version: close CURRENT.tmp: %w", err)
	}
	if err := vs.fs.Rename(tmp, CurrentFileName(vs.dbDir)); err != nil {
		return fmt.Errorf("version: install CURRENT: %w", err)
	}
	return vs.fs.SyncDir(vs.dbDir)
}

// Close releases the open manifest file.
func (vs *VersionSet) Close() error {
	if vs.manifestFile == nil {
		return nil
	}
	err := vs.manifestFile.Close()
	vs.manifestFile = nil
	vs.manifestWriter = nil
	return err
}

// NewFileNumber allocates the next file number.
func (vs *VersionSet) NewFileNumber() uint64 {
	n := vs.nextFileNumber
	vs.nextFileNumber++
	return n
}

// markFileNumberUsed advances the allocator past an observed number.
func (vs *VersionSet) markFileNumberUsed(number uint64) {
	if number >= vs.nextFileNumber {
		vs.nextFileNumber = number + 1
	}
}

// NextFileNumber returns the allocator watermark without consuming it.
func (vs *VersionSet) NextFileNumber() uint64 {
	return vs.nextFileNumber
}

// LastSequence returns the highest committed sequence number.
func (vs *VersionSet) LastSequence() dbformat.SequenceNumber {
	return vs.lastSequence
}

// SetLastSequence raises the committed sequence watermark.
func (vs *VersionSet) SetLastSequence(s dbformat.SequenceNumber) {
	if s > vs.lastSequence {
		vs.lastSequence = s
	}
}

// MaxColumnFamily returns the highest column family id ever assigned.
func (vs *VersionSet) MaxColumnFamily() uint32 {
	return vs.maxColumnFamily
}

// ColumnFamily returns the metadata of a live column family.
func (vs *VersionSet) ColumnFamily(id uint32) (*ColumnFamilyMeta, bool) {
	cf, ok := vs.cfs[id]
	return cf, ok
}

// ColumnFamilies returns the live column families keyed by id.
func (vs *VersionSet) ColumnFamilies() map[uint32]*ColumnFamilyMeta {
	return vs.cfs
}

// LiveNames returns the sorted names of all live column families.
func (vs *VersionSet) LiveNames() []string {
	names := make([]string, 0, len(vs.cfs))
	for _, cf := range vs.cfs {
		names = append(names, cf.Name)
	}
	sort.Strings(names)
	return names
}

// MinLogNumber returns the smallest replay checkpoint across live column
// families: segments below it are subsumed for every family.
func (vs *VersionSet) MinLogNumber() uint64 {
	first := true
	var minLog uint64
	for _, cf := range vs.cfs {
		if first || cf.LogNumber < minLog {
			minLog = cf.LogNumber
			first = false
		}
	}
	return minLog
}

// ManifestFileNumber returns the number of the open manifest.
func (vs *VersionSet) ManifestFileNumber() uint64 {
	return vs.manifestFileNumber
}
