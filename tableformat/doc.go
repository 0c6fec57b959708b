// Package tableformat reads and writes Delta-style transactional tables on
// a storage.Storage.
//
// A table is a directory of Parquet data files plus a transaction log
// under _delta_log/. Each commit is a newline-delimited JSON file named
// by its zero-padded version (00000000000000000000.json, ...) holding
// protocol, metaData, add, remove and commitInfo actions. Replaying the log
// in version order yields a Snapshot: the active files, tombstones, schema
// and partition columns.
//
// Commits are optimistic. A writer reads the latest version v, prepares
// its data files and then creates version v+1 with PutIfAbsent. If another
// writer created v+1 first the commit fails with *gatewayerr.ConflictError
// and nothing is retried; the data files it wrote stay unreferenced until
// Vacuum removes them.
package tableformat
