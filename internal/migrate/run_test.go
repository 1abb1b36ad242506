package migrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialect_Rebind(t *testing.T) {
	q := "UPDATE t SET a = ?, b = ? WHERE id = ?"
	assert.Equal(t, "UPDATE t SET a = $1, b = $2 WHERE id = $3", Postgres.Rebind(q))
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, q, MySQL.Rebind(q))
}

func TestParseDialect(t *testing.T) {
	tests := map[string]Dialect{
		"postgres":   Postgres,
		"postgresql": Postgres,
		"SQLITE":     SQLite,
		"sqlite3":    SQLite,
		"mysql":      MySQL,
	}
	for in, want := range tests {
		got, err := ParseDialect(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseDialect("redis")
	assert.Error(t, err)
}

func TestEmbeddedMigrationsPerDialect(t *testing.T) {
	for _, d := range []Dialect{Postgres, SQLite, MySQL} {
		entries, err := migrationsFS.ReadDir("migrations/" + string(d))
		require.NoError(t, err, d)
		assert.NotEmpty(t, entries, d)
	}
}

func TestRun_SQLiteIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "frog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, Run(ctx, db, SQLite))
	require.NoError(t, Run(ctx, db, SQLite))

	var applied int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	assert.Equal(t, 2, applied)

	_, err = db.ExecContext(ctx,
		`INSERT INTO frog_tasks (id, status, created_at, updated_at) VALUES ('x', 'PENDING', 1, 1)`)
	assert.NoError(t, err)
}
