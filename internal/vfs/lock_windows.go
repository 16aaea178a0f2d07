//go:build windows

// Best-effort locking on Windows: exclusive create of the lock file stands
// in for flock, which is unavailable.
package vfs

import (
	"io"
	"os"
)

type fileLock struct {
	f    *os.File
	name string
}

func lockFile(name string) (io.Closer, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileLock{f: f, name: name}, nil
}

func (l *fileLock) Close() error {
	return l.f.Close()
}
