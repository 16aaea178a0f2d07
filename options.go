package quarry

import (
	"github.com/quarrydb/quarry/internal/compression"
	"github.com/quarrydb/quarry/internal/logging"
)

// CompressionType selects the algorithm applied to table file payloads.
type CompressionType int

const (
	// NoCompression stores table payloads verbatim.
	NoCompression CompressionType = iota

	// SnappyCompression is the default: fast with moderate ratios.
	SnappyCompression

	// ZlibCompression trades speed for ratio.
	ZlibCompression

	// LZ4Compression is the fastest option.
	LZ4Compression

	// ZstdCompression gives the best ratios at reasonable speed.
	ZstdCompression
)

func (c CompressionType) internal() compression.Type {
	switch c {
	case SnappyCompression:
		return compression.Snappy
	case ZlibCompression:
		return compression.Zlib
	case LZ4Compression:
		return compression.LZ4
	case ZstdCompression:
		return compression.Zstd
	default:
		return compression.None
	}
}

// Logger receives the store's diagnostic output. The standard logger
// writes to stderr; use DiscardLogger to silence a database.
type Logger = logging.Logger

// DiscardLogger drops all output.
var DiscardLogger Logger = logging.Discard

// Options configures a database at open.
type Options struct {
	// CreateIfMissing creates the database when the directory holds none.
	CreateIfMissing bool

	// ErrorIfExists fails the open when a database already exists.
	ErrorIfExists bool

	// WALDir places write-ahead log segments in a separate directory,
	// e.g. on a different device. Empty means the database directory.
	WALDir string

	// Comparator orders user keys. Nil means BytewiseComparator. The
	// name is validated against the manifest on reopen.
	Comparator Comparator

	// MergeOperator resolves merge entries at read time. Required before
	// the first Merge call and on any reopen of merged data.
	MergeOperator MergeOperator

	// Compression applies to table files written by flushes. Existing
	// files keep whatever they were written with.
	Compression CompressionType

	// WriteBufferSize is the memtable size that triggers a flush.
	WriteBufferSize int

	// SyncWrites fsyncs the WAL on every write, as if every WriteOptions
	// had Sync set.
	SyncWrites bool

	// Logger receives diagnostics. Nil means the stderr logger.
	Logger Logger
}

// DefaultWriteBufferSize is used when Options.WriteBufferSize is zero.
const DefaultWriteBufferSize = 4 << 20

// DefaultOptions returns options that create the database if missing.
func DefaultOptions() *Options {
	return &Options{
		CreateIfMissing: true,
		Compression:     SnappyCompression,
		WriteBufferSize: DefaultWriteBufferSize,
	}
}

// sanitized fills defaults into a copy of opts.
func (o *Options) sanitized() *Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.Comparator == nil {
		out.Comparator = BytewiseComparator
	}
	if out.WriteBufferSize <= 0 {
		out.WriteBufferSize = DefaultWriteBufferSize
	}
	if out.Logger == nil {
		out.Logger = logging.Default
	}
	return &out
}

// ReadOptions configures one read call.
type ReadOptions struct {
	// VerifyChecksums validates the checksum of every table file the
	// read consults, even ones already open. Damage is reported as
	// ErrCorruption.
	VerifyChecksums bool
}

// WriteOptions configures one write call.
type WriteOptions struct {
	// Sync fsyncs the WAL before the write returns. Unsynced writes are
	// durable against process crashes but not power loss.
	Sync bool
}

// Sync is a WriteOptions with Sync set.
var Sync = WriteOptions{Sync: true}
