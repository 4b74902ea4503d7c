package objectstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"

	"place-service/internal/errs"
)

type treeKey struct {
	tree string
	key  string
}

type pendingWrite struct {
	deleted bool
	data    []byte
}

// Conn is a single unit of work against the store. It is owned by one
// request and is not safe for concurrent use.
type Conn struct {
	db       *DB
	serial   uint64
	snapshot uint64
	writes   map[treeKey]pendingWrite
	closed   bool
}

// Dirty reports whether the connection holds uncommitted writes.
func (c *Conn) Dirty() bool { return len(c.writes) > 0 }

// Root returns the root mapping of named trees.
func (c *Conn) Root() Root { return Root{conn: c} }

// Commit persists every buffered write as one new transaction. On success the
// connection moves its snapshot to the committed tid and may be reused.
func (c *Conn) Commit(ctx context.Context) error {
	if c.closed {
		return errs.Storage("objectstore.commit", errors.New("connection is closed"))
	}
	if len(c.writes) == 0 {
		return nil
	}
	tid, err := c.commit(ctx)
	c.writes = make(map[treeKey]pendingWrite)
	if err != nil {
		return err
	}
	c.snapshot = tid
	c.db.setSnapshot(c.serial, tid)
	return nil
}

func (c *Conn) commit(ctx context.Context) (uint64, error) {
	tx, err := c.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, errs.Storage("objectstore.commit", err)
	}
	defer tx.Rollback() // No-op if committed

	keys := c.sortedWrites()
	for _, k := range keys {
		var latest uint64
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(tid), 0) FROM revisions WHERE tree = ? AND key = ?`,
			k.tree, k.key,
		).Scan(&latest)
		if err != nil {
			return 0, errs.Storage("objectstore.commit", err)
		}
		if latest > c.snapshot {
			return 0, &errs.ConflictError{Tree: k.tree, Key: k.key}
		}
	}

	last, err := c.db.lastTID(ctx, tx)
	if err != nil {
		return 0, errs.Storage("objectstore.commit", err)
	}
	tid := last + 1
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (tid, committed_at) VALUES (?, ?)`,
		tid, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return 0, errs.Storage("objectstore.commit", err)
	}

	for _, k := range keys {
		w := c.writes[k]
		deleted := 0
		if w.deleted {
			deleted = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO revisions (tree, key, tid, deleted, data) VALUES (?, ?, ?, ?, ?)`,
			k.tree, k.key, tid, deleted, w.data,
		); err != nil {
			return 0, errs.Storage("objectstore.commit", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errs.Storage("objectstore.commit", err)
	}
	return tid, nil
}

func (c *Conn) sortedWrites() []treeKey {
	keys := make([]treeKey, 0, len(c.writes))
	for k := range c.writes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].tree != keys[j].tree {
			return keys[i].tree < keys[j].tree
		}
		return keys[i].key < keys[j].key
	})
	return keys
}

// Abort discards every buffered write. It never fails.
func (c *Conn) Abort() {
	c.writes = make(map[treeKey]pendingWrite)
}

// Close releases the connection, discarding uncommitted writes. Calling it
// more than once is a no-op.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.Abort()
	c.closed = true
	c.db.release(c.serial)
	return nil
}

// load returns the snapshot-visible revision of key, ignoring the write set.
func (c *Conn) load(ctx context.Context, tree, key string) ([]byte, bool, error) {
	var deleted int
	var data []byte
	err := c.db.sql.QueryRowContext(ctx, `
		SELECT deleted, data FROM revisions
		WHERE tree = ? AND key = ? AND tid <= ?
		ORDER BY tid DESC LIMIT 1
	`, tree, key, c.snapshot).Scan(&deleted, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Storage("objectstore.load", err)
	}
	if deleted == 1 {
		return nil, false, nil
	}
	return data, true, nil
}

// Root is the top-level mapping of a connection.
type Root struct {
	conn *Conn
}

// Tree returns the named tree. Trees come into existence with their first key.
func (r Root) Tree(name string) *Tree {
	return &Tree{conn: r.conn, name: name}
}

// Tree is an ordered persistent mapping from string keys to JSON-encoded
// object graphs, viewed through one connection.
type Tree struct {
	conn *Conn
	name string
}

// Get decodes the value stored under key into out. It reports false when the
// key is absent.
func (t *Tree) Get(ctx context.Context, key string, out any) (bool, error) {
	data, ok, err := t.raw(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return false, errors.Wrapf(err, "decode %s/%s", t.name, key)
		}
	}
	return true, nil
}

// Has reports whether key is present.
func (t *Tree) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := t.raw(ctx, key)
	return ok, err
}

func (t *Tree) raw(ctx context.Context, key string) ([]byte, bool, error) {
	if t.conn.closed {
		return nil, false, errs.Storage("objectstore.get", errors.New("connection is closed"))
	}
	if w, ok := t.conn.writes[treeKey{t.name, key}]; ok {
		if w.deleted {
			return nil, false, nil
		}
		return w.data, true, nil
	}
	return t.conn.load(ctx, t.name, key)
}

// Set buffers value under key. The value is encoded immediately, so later
// changes to it are not captured.
func (t *Tree) Set(key string, value any) error {
	if t.conn.closed {
		return errs.Storage("objectstore.set", errors.New("connection is closed"))
	}
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encode %s/%s", t.name, key)
	}
	t.conn.writes[treeKey{t.name, key}] = pendingWrite{data: data}
	return nil
}

// Delete buffers the removal of key.
func (t *Tree) Delete(key string) error {
	if t.conn.closed {
		return errs.Storage("objectstore.delete", errors.New("connection is closed"))
	}
	t.conn.writes[treeKey{t.name, key}] = pendingWrite{deleted: true}
	return nil
}

// Keys returns every visible key in ascending order.
func (t *Tree) Keys(ctx context.Context) ([]string, error) {
	if t.conn.closed {
		return nil, errs.Storage("objectstore.keys", errors.New("connection is closed"))
	}
	rows, err := t.conn.db.sql.QueryContext(ctx, `
		SELECT r.key FROM revisions r
		WHERE r.tree = ?1 AND r.deleted = 0
		AND r.tid = (
			SELECT MAX(n.tid) FROM revisions n
			WHERE n.tree = r.tree AND n.key = r.key AND n.tid <= ?2
		)
	`, t.name, t.conn.snapshot)
	if err != nil {
		return nil, errs.Storage("objectstore.keys", err)
	}
	defer rows.Close()

	visible := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errs.Storage("objectstore.keys", err)
		}
		visible[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("objectstore.keys", err)
	}

	for k, w := range t.conn.writes {
		if k.tree != t.name {
			continue
		}
		if w.deleted {
			delete(visible, k.key)
		} else {
			visible[k.key] = struct{}{}
		}
	}

	keys := make([]string, 0, len(visible))
	for k := range visible {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of visible keys.
func (t *Tree) Len(ctx context.Context) (int, error) {
	keys, err := t.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
