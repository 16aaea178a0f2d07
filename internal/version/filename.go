package version

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// File naming within a database directory. WAL segments may live in a
// separate directory when Options.WALDir is set; everything else lives in
// the database directory.

// CurrentFileName returns the path of the CURRENT pointer file.
func CurrentFileName(dbDir string) string {
	return filepath.Join(dbDir, "CURRENT")
}

// ManifestFileName returns the path of a numbered manifest file.
func ManifestFileName(dbDir string, number uint64) string {
	return filepath.Join(dbDir, fmt.Sprintf("MANIFEST-%06d", number))
}

// LogFileName returns the path of a numbered WAL segment.
func LogFileName(walDir string, number uint64) string {
	return filepath.Join(walDir, fmt.Sprintf("%06d.log", number))
}

// TableFileName returns the path of a numbered table file.
func TableFileName(dbDir string, number uint64) string {
	return filepath.Join(dbDir, fmt.Sprintf("%06d.sst", number))
}

// LockFileName returns the path of the database lock file.
func LockFileName(dbDir string) string {
	return filepath.Join(dbDir, "LOCK")
}

// ParseLogFileName extracts the segment number from a WAL file name.
func ParseLogFileName(name string) (uint64, bool) {
	return parseNumberedName(name, ".log")
}

// ParseTableFileName extracts the file number from a table file name.
func ParseTableFileName(name string) (uint64, bool) {
	return parseNumberedName(name, ".sst")
}

// ParseManifestFileName extracts the number from a manifest file name.
func ParseManifestFileName(name string) (uint64, bool) {
	rest, ok := strings.CutPrefix(name, "MANIFEST-")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseNumberedName(name, ext string) (uint64, bool) {
	base, ok := strings.CutSuffix(name, ext)
	if !ok || len(base) == 0 {
		return 0, false
	}
	for _, c := range base {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(base, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
