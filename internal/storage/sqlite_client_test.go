package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLite_CreatesParentAndUsesWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "test.db")

	db, err := OpenSQLite(path, SQLiteOptions{})
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(path)
	require.NoError(t, err)

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestOpenSQLite_Twice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	first, err := OpenSQLite(path, SQLiteOptions{})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := OpenSQLite(path, SQLiteOptions{SlowQueryThreshold: time.Second})
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestHooks_CarryStartTime(t *testing.T) {
	h := &Hooks{}
	h.SetSlowQueryThreshold(time.Nanosecond)

	ctx, err := h.Before(context.Background(), "SELECT 1")
	require.NoError(t, err)
	_, ok := ctx.Value(hookBeginKey{}).(time.Time)
	assert.True(t, ok)

	_, err = h.After(ctx, "SELECT 1")
	assert.NoError(t, err)
	_, err = h.After(context.Background(), "SELECT 1")
	assert.NoError(t, err)
}
