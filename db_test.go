package quarry

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/quarrydb/quarry/internal/table"
)

func testOptions() *Options {
	opts := DefaultOptions()
	opts.Logger = DiscardLogger
	return opts
}

func openTestDB(t *testing.T, dir string, opts *Options) *DB {
	t.Helper()
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return db
}

func mustPut(t *testing.T, db *DB, cf *ColumnFamilyHandle, key, value string) {
	t.Helper()
	if err := db.Put(WriteOptions{}, cf, []byte(key), []byte(value)); err != nil {
		t.Fatalf("Put %q: %v", key, err)
	}
}

func mustGet(t *testing.T, db *DB, cf *ColumnFamilyHandle, key, want string) {
	t.Helper()
	got, err := db.Get(ReadOptions{}, cf, []byte(key))
	if err != nil {
		t.Fatalf("Get %q: %v", key, err)
	}
	if string(got) != want {
		t.Fatalf("Get %q: got %q, want %q", key, got, want)
	}
}

func mustNotFound(t *testing.T, db *DB, cf *ColumnFamilyHandle, key string) {
	t.Helper()
	if _, err := db.Get(ReadOptions{}, cf, []byte(key)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get %q: expected ErrNotFound, got %v", key, err)
	}
}

func TestOpenMissingWithoutCreate(t *testing.T) {
	opts := testOptions()
	opts.CreateIfMissing = false
	if _, err := Open(t.TempDir(), opts); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestOpenErrorIfExists(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, testOptions())
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	opts := testOptions()
	opts.ErrorIfExists = true
	if _, err := Open(dir, opts); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestReadWriteAcrossReopens(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()

	db := openTestDB(t, dir, opts)
	for cycle := 0; cycle < 3; cycle++ {
		key := fmt.Sprintf("key%d", cycle)
		mustPut(t, db, nil, key, fmt.Sprintf("value%d", cycle))
		if err := db.Close(); err != nil {
			t.Fatalf("cycle %d close: %v", cycle, err)
		}

		db = openTestDB(t, dir, opts)
		for i := 0; i <= cycle; i++ {
			mustGet(t, db, nil, fmt.Sprintf("key%d", i), fmt.Sprintf("value%d", i))
		}
	}
	_ = db.Close()
}

func TestDeleteHidesOlderValue(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, testOptions())
	defer func() { _ = db.Close() }()

	mustPut(t, db, nil, "k", "v1")
	if err := db.Delete(WriteOptions{}, nil, []byte("k")); err != nil {
		t.Fatal(err)
	}
	mustNotFound(t, db, nil, "k")

	mustPut(t, db, nil, "k", "v2")
	mustGet(t, db, nil, "k", "v2")
}

func TestOverwriteReturnsNewest(t *testing.T) {
	db := openTestDB(t, t.TempDir(), testOptions())
	defer func() { _ = db.Close() }()

	mustPut(t, db, nil, "k", "old")
	mustPut(t, db, nil, "k", "new")
	mustGet(t, db, nil, "k", "new")
}

func TestBatchAtomicAcrossFamilies(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	db := openTestDB(t, dir, opts)

	events, err := db.CreateColumnFamily("events")
	if err != nil {
		t.Fatal(err)
	}

	wb := NewWriteBatch()
	wb.Put(nil, []byte("a"), []byte("1"))
	wb.Put(events, []byte("b"), []byte("2"))
	wb.Delete(nil, []byte("missing"))
	wb.LogData([]byte("audit trail"))
	if wb.Count() != 3 {
		t.Fatalf("count %d", wb.Count())
	}
	if err := db.Write(Sync, wb); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db2, handles, err := OpenColumnFamilies(dir, opts, []string{DefaultColumnFamilyName, "events"})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db2.Close() }()
	mustGet(t, db2, handles[0], "a", "1")
	mustGet(t, db2, handles[1], "b", "2")
}

func TestFlushMovesDataToTableFiles(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	db := openTestDB(t, dir, opts)

	for i := 0; i < 100; i++ {
		mustPut(t, db, nil, fmt.Sprintf("key%03d", i), fmt.Sprintf("value%03d", i))
	}
	if err := db.Flush(nil); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var sawTable bool
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".sst" {
			sawTable = true
		}
	}
	if !sawTable {
		t.Error("flush produced no table file")
	}

	// Reads hit the table file now.
	mustGet(t, db, nil, "key042", "value042")
	mustNotFound(t, db, nil, "key100")

	// Newer writes shadow flushed data.
	mustPut(t, db, nil, "key042", "updated")
	mustGet(t, db, nil, "key042", "updated")

	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	db2 := openTestDB(t, dir, opts)
	defer func() { _ = db2.Close() }()
	mustGet(t, db2, nil, "key042", "updated")
	mustGet(t, db2, nil, "key099", "value099")
}

func TestVerifyChecksumsDetectsDamage(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.Compression = NoCompression
	db := openTestDB(t, dir, opts)

	mustPut(t, db, nil, "k", "v")
	if err := db.Flush(nil); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	// Flip a value byte inside the table file. The entry framing stays
	// intact, so only the checksum can tell.
	ssts, err := filepath.Glob(filepath.Join(dir, "*.sst"))
	if err != nil || len(ssts) != 1 {
		t.Fatalf("table files %v: %v", ssts, err)
	}
	data, err := os.ReadFile(ssts[0])
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-table.FooterSize-1] ^= 0xff
	if err := os.WriteFile(ssts[0], data, 0o644); err != nil {
		t.Fatal(err)
	}

	db2 := openTestDB(t, dir, opts)
	defer func() { _ = db2.Close() }()

	// A plain read does not checksum the payload.
	if _, err := db2.Get(ReadOptions{}, nil, []byte("k")); err != nil {
		t.Errorf("unverified Get: %v", err)
	}
	// A verifying read rechecks the file even though a reader is cached.
	if _, err := db2.Get(ReadOptions{VerifyChecksums: true}, nil, []byte("k")); !errors.Is(err, ErrCorruption) {
		t.Errorf("verified Get: expected ErrCorruption, got %v", err)
	}
}

func TestAutomaticFlushOnWriteBufferFull(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.WriteBufferSize = 4 << 10
	db := openTestDB(t, dir, opts)
	defer func() { _ = db.Close() }()

	value := bytes.Repeat([]byte("x"), 512)
	for i := 0; i < 64; i++ {
		if err := db.Put(WriteOptions{}, nil, []byte(fmt.Sprintf("key%02d", i)), value); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	tables := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".sst" {
			tables++
		}
	}
	if tables == 0 {
		t.Error("no automatic flush happened")
	}
	for i := 0; i < 64; i++ {
		got, err := db.Get(ReadOptions{}, nil, []byte(fmt.Sprintf("key%02d", i)))
		if err != nil || !bytes.Equal(got, value) {
			t.Fatalf("key%02d: %v", i, err)
		}
	}
}

func TestWriteAfterClose(t *testing.T) {
	db := openTestDB(t, t.TempDir(), testOptions())
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	if err := db.Put(WriteOptions{}, nil, []byte("k"), []byte("v")); !errors.Is(err, ErrDatabaseClosed) {
		t.Errorf("Put: %v", err)
	}
	if _, err := db.Get(ReadOptions{}, nil, []byte("k")); !errors.Is(err, ErrDatabaseClosed) {
		t.Errorf("Get: %v", err)
	}
	// Close is idempotent.
	if err := db.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestSecondOpenBlockedByLock(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, testOptions())
	defer func() { _ = db.Close() }()

	if _, err := Open(dir, testOptions()); err == nil {
		t.Error("second open of a locked database succeeded")
	}
}

func TestComparatorNameChecked(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, testOptions())
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	opts := testOptions()
	opts.Comparator = namedComparator{name: "test.Reversed"}
	if _, err := Open(dir, opts); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

type namedComparator struct {
	name string
}

func (c namedComparator) Compare(a, b []byte) int { return bytes.Compare(a, b) }
func (c namedComparator) Name() string            { return c.name }

func TestDestroyRemovesEverything(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.WALDir = filepath.Join(t.TempDir(), "wal")

	db := openTestDB(t, dir, opts)
	mustPut(t, db, nil, "k", "v")
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	if err := Destroy(dir, opts); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("database directory survived Destroy")
	}
	entries, err := os.ReadDir(opts.WALDir)
	if err == nil {
		for _, e := range entries {
			if filepath.Ext(e.Name()) == ".log" {
				t.Errorf("WAL segment %s survived Destroy", e.Name())
			}
		}
	}

	// Destroying a missing database is a no-op.
	if err := Destroy(dir, opts); err != nil {
		t.Errorf("second Destroy: %v", err)
	}
}

func TestEmptyKeyAndValue(t *testing.T) {
	db := openTestDB(t, t.TempDir(), testOptions())
	defer func() { _ = db.Close() }()

	mustPut(t, db, nil, "", "empty key")
	mustGet(t, db, nil, "", "empty key")
	mustPut(t, db, nil, "empty value", "")
	mustGet(t, db, nil, "empty value", "")
}
