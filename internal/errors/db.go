package errors

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

const mysqlDuplicateEntry = 1062

// MapDBError maps database errors from any supported SQL driver to AppError instances.
// It handles:
// - sql.ErrNoRows / pgx.ErrNoRows → NotFound
// - Unique constraint violations (postgres, mysql, sqlite) → Conflict
// - Other driver errors → Internal
// - Context timeouts/cancellations → Timeout/Canceled
//
// If the error is not a recognized database error, it returns the original error.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(err, ErrCodeTimeout, "database request timed out")
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(err, ErrCodeCanceled, "database request was canceled")
	}

	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
		return Wrap(err, ErrCodeNotFound, "task not found")
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgerrcode.UniqueViolation {
			return conflict(err, pgErr.ColumnName)
		}
		return Wrap(err, ErrCodeInternal, "a database error occurred")
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		if myErr.Number == mysqlDuplicateEntry {
			return conflict(err, "")
		}
		return Wrap(err, ErrCodeInternal, "a database error occurred")
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		if liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return conflict(err, "")
		}
		return Wrap(err, ErrCodeInternal, "a database error occurred")
	}

	return err
}

func conflict(cause error, field string) error {
	e := Wrap(cause, ErrCodeConflict, "task already exists")
	e.Field = field
	return e
}
