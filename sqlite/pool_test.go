package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestPool(t *testing.T) *Pool {
	t.Helper()
	pool, err := Open(Config{URL: "sqlite:" + filepath.Join(t.TempDir(), "store.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestDatabasePath(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"sqlite:data/node.db", "data/node.db"},
		{"sqlite://data/node.db", "data/node.db"},
		{"sqlite::memory:", ":memory:"},
		{"data/node.db", "data/node.db"},
		{"sqlite: data/node.db ", "data/node.db"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, databasePath(tt.url), tt.url)
	}
}

func TestOpenRejectsEmptyURL(t *testing.T) {
	_, err := Open(Config{}, nil)
	assert.Error(t, err)
}

func TestOpenCreatesSchema(t *testing.T) {
	pool := openTestPool(t)

	rows, err := pool.QueryContext(context.Background(),
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	require.NoError(t, err)
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		tables = append(tables, name)
	}
	require.NoError(t, rows.Err())

	assert.Equal(t, []string{
		"document_view_fields",
		"document_views",
		"documents",
		"operation_fields_v1",
		"operations_v1",
	}, tables)
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	url := "sqlite:" + filepath.Join(dir, "store.db")

	first, err := Open(Config{URL: url}, nil)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(Config{URL: url}, nil)
	require.NoError(t, err)
	defer second.Close()
}

func TestOpenMemory(t *testing.T) {
	pool, err := Open(Config{URL: "sqlite::memory:"}, nil)
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.ExecContext(context.Background(),
		`INSERT INTO documents (document_id, document_view_id, schema_id) VALUES ('d1', 'v1', 's1')`)
	require.NoError(t, err)

	var n int
	err = pool.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM documents`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestForeignKeysEnforced(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	_, err := pool.ExecContext(ctx,
		`INSERT INTO document_views (document_view_id, document_id, schema_id) VALUES ('v1', 'missing', 's1')`)
	assert.Error(t, err, "view rows must reference an existing document")

	_, err = pool.ExecContext(ctx,
		`INSERT INTO operation_fields_v1 (operation_id, name, field_type, value, list_index)
		 VALUES ('missing', 'title', 'str', 'x', 0)`)
	assert.Error(t, err, "field rows must reference an existing operation")
}

func TestActionCheckConstraint(t *testing.T) {
	pool := openTestPool(t)

	_, err := pool.ExecContext(context.Background(),
		`INSERT INTO operations_v1 (operation_id, public_key, document_id, schema_id, action)
		 VALUES ('o1', 'k1', 'd1', 's1', 'merge')`)
	assert.Error(t, err)
}

func TestTransactCommitsOnSuccess(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	err := pool.Transact(ctx, func(tx *Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO documents (document_id, document_view_id, schema_id) VALUES ('d1', 'v1', 's1')`)
		return err
	})
	require.NoError(t, err)

	var n int
	require.NoError(t, pool.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestTransactRollsBackOnError(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	err := pool.Transact(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (document_id, document_view_id, schema_id) VALUES ('d1', 'v1', 's1')`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO document_views (document_view_id, document_id, schema_id) VALUES ('v1', 'unknown', 's1')`)
		return err
	})
	require.Error(t, err)

	var n int
	require.NoError(t, pool.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n))
	assert.Equal(t, 0, n, "the first insert must roll back with the second")
}

func TestTxRollbackAfterCommit(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.NoError(t, tx.Rollback(), "rollback after commit is a no-op")
}

func TestAcquireReturnsUsableConnection(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Close()

	var one int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT 1`).Scan(&one))
	assert.Equal(t, 1, one)

	stats := pool.Stats()
	assert.GreaterOrEqual(t, stats.OpenConnections, 1)
}
