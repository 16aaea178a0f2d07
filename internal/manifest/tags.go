// Package manifest encodes and decodes the edits recorded in MANIFEST
// files. The registry's durable state is the in-order fold of these edits
// from database creation to present.
//
// Tag numbers follow RocksDB's db/version_edit.h so the field layout stays
// recognizable; only the subset this store records is implemented.
package manifest

// Tag identifies a serialized VersionEdit field. The values are written to
// disk and must not change.
type Tag uint32

const (
	TagComparator     Tag = 1
	TagLogNumber      Tag = 2
	TagNextFileNumber Tag = 3
	TagLastSequence   Tag = 4
	TagDeletedFile    Tag = 6
	TagNewFile        Tag = 7

	// TagColumnFamily scopes an edit to a column family id. Absent means
	// the default column family (id 0).
	TagColumnFamily     Tag = 200
	TagColumnFamilyAdd  Tag = 201
	TagColumnFamilyDrop Tag = 202
	TagMaxColumnFamily  Tag = 203

	// TagSafeIgnoreMask marks tags from future versions that carry a
	// length-prefixed payload and may be skipped when unknown.
	TagSafeIgnoreMask Tag = 1 << 13
)

// IsSafeToIgnore reports whether an unknown tag may be skipped.
func (t Tag) IsSafeToIgnore() bool {
	return t&TagSafeIgnoreMask != 0
}
