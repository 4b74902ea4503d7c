package objectstore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"place-service/internal/errs"
	"place-service/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// Options configures Open.
type Options struct {
	SlowQueryThreshold time.Duration
}

// DB is the process-wide handle on one object store file. It is created once
// at startup, shared by all requests, and closed at shutdown.
type DB struct {
	sql  *sql.DB
	path string

	mu       sync.Mutex
	nextConn uint64
	live     map[uint64]uint64 // connection serial -> snapshot tid
	closed   bool
}

// Open creates or opens the store at path. The file and its directory are
// created when absent; opening an existing store is safe.
func Open(path string, opts Options) (*DB, error) {
	sqlDB, err := storage.OpenSQLite(path, storage.SQLiteOptions{SlowQueryThreshold: opts.SlowQueryThreshold})
	if err != nil {
		return nil, errs.Storage("objectstore.open", err)
	}
	if _, err := sqlDB.Exec(schemaSQL); err != nil {
		sqlDB.Close()
		return nil, errs.Storage("objectstore.schema", err)
	}
	return &DB{
		sql:  sqlDB,
		path: path,
		live: make(map[uint64]uint64),
	}, nil
}

// Path returns the file backing the store.
func (db *DB) Path() string { return db.path }

// Close releases the underlying file. Connections still open afterwards fail
// on their next read or commit.
func (db *DB) Close() error {
	db.mu.Lock()
	db.closed = true
	db.mu.Unlock()
	return db.sql.Close()
}

// Open acquires a new connection positioned at the latest committed
// transaction. The caller must Close it exactly once.
func (db *DB) Open(ctx context.Context) (*Conn, error) {
	// The serial is registered at tid 0 before the snapshot is read, which
	// pins every revision for a concurrent Pack until setSnapshot runs.
	// db.mu is not held across the query: Pack holds the only SQL
	// connection while it reads the live snapshots.
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil, errs.Storage("objectstore.open", errors.New("store is closed"))
	}
	db.nextConn++
	serial := db.nextConn
	db.live[serial] = 0
	db.mu.Unlock()

	tid, err := db.lastTID(ctx, db.sql)
	if err != nil {
		db.release(serial)
		return nil, errs.Storage("objectstore.open", err)
	}
	db.setSnapshot(serial, tid)

	return &Conn{
		db:       db,
		serial:   serial,
		snapshot: tid,
		writes:   make(map[treeKey]pendingWrite),
	}, nil
}

// Transact runs fn inside a scoped connection. The connection is committed
// when fn returns nil and aborted otherwise; it is closed on every path,
// including a panic inside fn.
func (db *DB) Transact(ctx context.Context, fn func(conn *Conn) error) error {
	conn, err := db.Open(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer func() {
		if p := recover(); p != nil {
			conn.Abort()
			panic(p)
		}
	}()

	if err := fn(conn); err != nil {
		conn.Abort()
		return err
	}
	return conn.Commit(ctx)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (db *DB) lastTID(ctx context.Context, q querier) (uint64, error) {
	var tid uint64
	err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(tid), 0) FROM transactions`).Scan(&tid)
	return tid, err
}

func (db *DB) setSnapshot(serial, tid uint64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.live[serial]; ok {
		db.live[serial] = tid
	}
}

func (db *DB) release(serial uint64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.live, serial)
}

// oldestSnapshot returns the lowest tid still visible to an open connection,
// or ok=false when no connection is open.
func (db *DB) oldestSnapshot() (tid uint64, ok bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, s := range db.live {
		if !ok || s < tid {
			tid, ok = s, true
		}
	}
	return tid, ok
}

// PackResult describes what Pack removed.
type PackResult struct {
	Bound            uint64 `json:"bound"`
	RevisionsRemoved int64  `json:"revisionsRemoved"`
	TombstonesPurged int64  `json:"tombstonesPurged"`
}

// Pack drops revisions no open connection of this DB can observe any more:
// revisions superseded at or below the oldest live snapshot, and deletion
// tombstones that every snapshot already sees. Connections held by other
// processes are not tracked, so packing from a separate process requires
// every other user of the file to be stopped.
func (db *DB) Pack(ctx context.Context) (PackResult, error) {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return PackResult{}, errs.Storage("objectstore.pack", err)
	}
	defer tx.Rollback()

	bound, err := db.lastTID(ctx, tx)
	if err != nil {
		return PackResult{}, errs.Storage("objectstore.pack", err)
	}
	if oldest, ok := db.oldestSnapshot(); ok && oldest < bound {
		bound = oldest
	}
	result := PackResult{Bound: bound}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM revisions
		WHERE tid <= ?1
		AND EXISTS (
			SELECT 1 FROM revisions n
			WHERE n.tree = revisions.tree AND n.key = revisions.key
			AND n.tid > revisions.tid AND n.tid <= ?1
		)
	`, bound)
	if err != nil {
		return PackResult{}, errs.Storage("objectstore.pack", err)
	}
	result.RevisionsRemoved, _ = res.RowsAffected()

	res, err = tx.ExecContext(ctx, `
		DELETE FROM revisions
		WHERE deleted = 1 AND tid <= ?1
		AND NOT EXISTS (
			SELECT 1 FROM revisions n
			WHERE n.tree = revisions.tree AND n.key = revisions.key AND n.tid > revisions.tid
		)
	`, bound)
	if err != nil {
		return PackResult{}, errs.Storage("objectstore.pack", err)
	}
	result.TombstonesPurged, _ = res.RowsAffected()

	// The newest transaction row is kept so tids never go backwards.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM transactions
		WHERE tid < (SELECT MAX(tid) FROM transactions)
		AND tid NOT IN (SELECT DISTINCT tid FROM revisions)
	`); err != nil {
		return PackResult{}, errs.Storage("objectstore.pack", err)
	}

	if err := tx.Commit(); err != nil {
		return PackResult{}, errs.Storage("objectstore.pack", err)
	}
	return result, nil
}

// Snapshot writes a consistent copy of the whole store to dest, which must
// not exist yet.
func (db *DB) Snapshot(ctx context.Context, dest string) error {
	stmt := fmt.Sprintf("VACUUM INTO '%s'", strings.ReplaceAll(dest, "'", "''"))
	if _, err := db.sql.ExecContext(ctx, stmt); err != nil {
		return errs.Storage("objectstore.snapshot", err)
	}
	return nil
}

// Stats summarizes the store contents.
type Stats struct {
	LastTID     uint64         `json:"lastTid"`
	Revisions   int64          `json:"revisions"`
	Trees       map[string]int `json:"trees"`
	OpenConns   int            `json:"openConns"`
	StoragePath string         `json:"storagePath"`
}

// Stats reports the latest tid, the revision count and the live key count
// of every tree.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Trees: make(map[string]int), StoragePath: db.path}

	tid, err := db.lastTID(ctx, db.sql)
	if err != nil {
		return st, errs.Storage("objectstore.stats", err)
	}
	st.LastTID = tid

	if err := db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM revisions`).Scan(&st.Revisions); err != nil {
		return st, errs.Storage("objectstore.stats", err)
	}

	rows, err := db.sql.QueryContext(ctx, `
		SELECT r.tree, COUNT(*) FROM revisions r
		WHERE r.deleted = 0
		AND r.tid = (SELECT MAX(n.tid) FROM revisions n WHERE n.tree = r.tree AND n.key = r.key)
		GROUP BY r.tree
	`)
	if err != nil {
		return st, errs.Storage("objectstore.stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return st, errs.Storage("objectstore.stats", err)
		}
		st.Trees[name] = n
	}
	if err := rows.Err(); err != nil {
		return st, errs.Storage("objectstore.stats", err)
	}

	db.mu.Lock()
	st.OpenConns = len(db.live)
	db.mu.Unlock()
	return st, nil
}
