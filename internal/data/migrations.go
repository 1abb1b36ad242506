package data

import (
	"context"
	"database/sql"

	"github.com/runfrog/runfrog/internal/migrate"
)

// RunMigrations creates the frog_tasks schema for the dialect by delegating to the migrate package.
func RunMigrations(ctx context.Context, db *sql.DB, dialect migrate.Dialect) error {
	return migrate.Run(ctx, db, dialect)
}
