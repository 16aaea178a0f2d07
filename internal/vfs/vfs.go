// Package vfs abstracts the filesystem operations the store performs so
// tests can interpose on them. The Default implementation is a thin wrapper
// over the os package.
package vfs

import (
	"io"
	"os"
	"path/filepath"
	"sort"
)

// WritableFile is an append-only file.
type WritableFile interface {
	io.Writer

	// Sync flushes written data to stable storage.
	Sync() error

	io.Closer
}

// SequentialFile is a read-once stream over a file.
type SequentialFile interface {
	io.Reader
	io.Closer
}

// RandomAccessFile supports positional reads.
type RandomAccessFile interface {
	io.ReaderAt

	// Size returns the file's length in bytes.
	Size() (int64, error)

	io.Closer
}

// FS is the filesystem interface used by the store.
type FS interface {
	// Create opens a new file for appending, truncating any existing file.
	Create(name string) (WritableFile, error)

	// Append opens an existing file for appending, creating it if absent.
	Append(name string) (WritableFile, error)

	// Open opens a file for sequential reading.
	Open(name string) (SequentialFile, error)

	// OpenRandomAccess opens a file for positional reads.
	OpenRandomAccess(name string) (RandomAccessFile, error)

	// ReadFile reads a whole file.
	ReadFile(name string) ([]byte, error)

	// WriteFile writes data to a file, truncating it first.
	WriteFile(name string, data []byte) error

	// Rename atomically renames oldname to newname.
	Rename(oldname, newname string) error

	// Remove deletes a file.
	Remove(name string) error

	// RemoveAll deletes a directory tree.
	RemoveAll(name string) error

	// MkdirAll creates a directory and any missing parents.
	MkdirAll(name string) error

	// Exists reports whether the named file or directory exists.
	Exists(name string) bool

	// FileSize returns the size of the named file.
	FileSize(name string) (int64, error)

	// ListDir returns the sorted names of a directory's entries.
	ListDir(name string) ([]string, error)

	// Lock acquires an exclusive advisory lock on the named file,
	// creating it if needed. Closing the returned Closer releases it.
	Lock(name string) (io.Closer, error)

	// SyncDir fsyncs a directory so renames and creations within it are
	// durable.
	SyncDir(name string) error
}

// Default is the os-backed filesystem.
var Default FS = osFS{}

type osFS struct{}

type osFile struct {
	*os.File
}

func (osFS) Create(name string) (WritableFile, error) {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return osFile{f}, nil
}

func (osFS) Append(name string) (WritableFile, error) {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return osFile{f}, nil
}

func (osFS) Open(name string) (SequentialFile, error) {
	return os.Open(name)
}

type randomAccessFile struct {
	*os.File
}

func (f randomAccessFile) Size() (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (osFS) OpenRandomAccess(name string) (RandomAccessFile, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return randomAccessFile{f}, nil
}

func (osFS) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

func (osFS) WriteFile(name string, data []byte) error {
	return os.WriteFile(name, data, 0o644)
}

func (osFS) Rename(oldname, newname string) error {
	return os.Rename(oldname, newname)
}

func (osFS) Remove(name string) error {
	return os.Remove(name)
}

func (osFS) RemoveAll(name string) error {
	return os.RemoveAll(name)
}

func (osFS) MkdirAll(name string) error {
	return os.MkdirAll(name, 0o755)
}

func (osFS) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

func (osFS) FileSize(name string) (int64, error) {
	info, err := os.Stat(name)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (osFS) ListDir(name string) ([]string, error) {
	entries, err := os.ReadDir(name)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (osFS) Lock(name string) (io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return nil, err
	}
	return lockFile(name)
}

func (osFS) SyncDir(name string) error {
	d, err := os.Open(name)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Sync()
}
