package quarry

import (
	"errors"
	"fmt"
)

// Every error returned by the public API wraps exactly one of the five
// category sentinels below, so callers can classify failures with
// errors.Is without parsing messages.
var (
	// ErrNotFound means the key has no visible value: it was never
	// written, or its newest entry is a deletion.
	ErrNotFound = errors.New("quarry: not found")

	// ErrInvalidArgument means the caller asked for something the
	// current state cannot satisfy: unknown column family, dropping the
	// default family, opening without a required option.
	ErrInvalidArgument = errors.New("quarry: invalid argument")

	// ErrCorruption means stored data failed validation: a bad manifest,
	// a damaged log record inside a segment, a table file that does not
	// checksum.
	ErrCorruption = errors.New("quarry: corruption")

	// ErrIOError means the filesystem failed underneath us.
	ErrIOError = errors.New("quarry: i/o error")

	// ErrAlreadyExists means a create collided with existing state.
	ErrAlreadyExists = errors.New("quarry: already exists")
)

// Common specific errors. Each wraps its category sentinel.
var (
	ErrColumnFamilyNotFound = fmt.Errorf("%w: column family not found", ErrInvalidArgument)
	ErrColumnFamilyExists   = fmt.Errorf("%w: column family already exists", ErrAlreadyExists)
	ErrDropDefaultFamily    = fmt.Errorf("%w: cannot drop the default column family", ErrInvalidArgument)
	ErrNoMergeOperator      = fmt.Errorf("%w: merge requires a merge operator", ErrInvalidArgument)
	ErrDatabaseClosed       = fmt.Errorf("%w: database is closed", ErrInvalidArgument)
)

// ioError wraps a filesystem failure into the IOError category.
func ioError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIOError, op, err)
}

// corruptionError wraps a validation failure into the Corruption category.
func corruptionError(err error) error {
	return fmt.Errorf("%w: %w", ErrCorruption, err)
}
