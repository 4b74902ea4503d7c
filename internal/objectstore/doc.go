// Package objectstore is the system of record for places: an embedded,
// file-backed, transactional object store with a root mapping of named trees.
//
// Every committed transaction gets a new transaction id (tid) and writes one
// revision per touched key. A connection reads the newest revision at or below
// the tid it observed when it was opened, so it sees a consistent snapshot and
// its own buffered writes, and nothing committed by others afterwards.
//
// Commit fails with a ConflictError when any key in the write set has a
// revision newer than the connection's snapshot. Readers never conflict.
//
// Typical use is scoped through Transact:
//
//	err := db.Transact(ctx, func(conn *objectstore.Conn) error {
//	    return conn.Root().Tree("places").Set("p-1", place)
//	})
package objectstore
