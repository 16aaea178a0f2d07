// Package quarry is an embedded persistent key/value store with column
// families, write batches, merge operators and crash recovery.
//
// Data is partitioned into column families: independently keyed
// namespaces that share one write-ahead log and one manifest. Every
// database has a default family; more are added with CreateColumnFamily
// and retired with DropColumnFamily. Family ids are permanent and names
// are unique among live families.
//
// Writes go through WriteBatch, the unit of atomicity: a batch reaches
// the write-ahead log as a single record and either replays completely
// after a crash or not at all. Put, Delete and Merge are one-operation
// conveniences.
//
// Recovery replays the write-ahead log per entry against each family's
// durable checkpoint, so a family whose data was already flushed never
// sees the same entries twice. Reopening a database requires naming all
// of its column families:
//
//	db, handles, err := quarry.OpenColumnFamilies(path, opts,
//	    []string{quarry.DefaultColumnFamilyName, "events"})
//
// Merge operands are resolved at read time by Options.MergeOperator; see
// UInt64AddOperator and StringAppendOperator for ready-made operators.
package quarry
