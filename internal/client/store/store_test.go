package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func TestOpen_CreatesSchema(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, table := range []string{"folders", "images", "sync_queue", "analysis_results"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, "table %s must exist", table)
		assert.Equal(t, table, name)
	}
}

func TestOpen_Reopen_Idempotent(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "cellsync.db")

	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO folders (local_id, name, created_at) VALUES ('f1', 'Batch-1', '2026-01-01T00:00:00Z')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// second open re-runs migration check without side effects
	db, err = Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var n int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM folders`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOpen_SchemaVersionRecorded(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var version int64
	err = db.QueryRow(`SELECT max(version_id) FROM goose_db_version`).Scan(&version)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, version, int64(2))
}
