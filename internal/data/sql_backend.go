package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/runfrog/runfrog/internal/domain/model"
	apperrors "github.com/runfrog/runfrog/internal/errors"
	"github.com/runfrog/runfrog/internal/migrate"
)

// SQLResultBackend stores task records in the frog_tasks table of a
// Postgres, SQLite or MySQL database. Timestamps are Unix milliseconds so the
// same schema reads identically through every driver.
type SQLResultBackend struct {
	db      *sql.DB
	dialect migrate.Dialect
	now     func() time.Time
}

// SQLResultBackendOptions configures a SQLResultBackend.
type SQLResultBackendOptions struct {
	DB      *sql.DB
	Dialect migrate.Dialect
}

// NewSQLResultBackend creates a SQL result backend. The schema must already exist (see RunMigrations).
func NewSQLResultBackend(opts SQLResultBackendOptions) *SQLResultBackend {
	return &SQLResultBackend{db: opts.DB, dialect: opts.Dialect, now: time.Now}
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func encodeResult(r model.TaskResult) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode result: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// Create inserts a new record.
func (b *SQLResultBackend) Create(ctx context.Context, task *model.Task) error {
	if task == nil || task.ID == "" {
		return ErrTaskIDRequired
	}
	if !task.Status.Valid() {
		return ErrInvalidTaskStatus
	}

	result, err := encodeResult(task.Result)
	if err != nil {
		return err
	}
	now := b.now()
	created := task.CreatedAt
	if created.IsZero() {
		created = now
	}

	q := b.dialect.Rebind(`INSERT INTO frog_tasks (id, status, result, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := b.db.ExecContext(ctx, q,
		task.ID, string(task.Status), result, task.Source, toMillis(created), toMillis(now),
	); err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

func (b *SQLResultBackend) upsertQuery() string {
	const insert = `INSERT INTO frog_tasks (id, status, result, source, created_at, updated_at, date_done)
		VALUES (?, ?, ?, '', ?, ?, ?)`
	switch b.dialect {
	case migrate.MySQL:
		return insert + ` ON DUPLICATE KEY UPDATE
			status = VALUES(status), result = VALUES(result),
			updated_at = VALUES(updated_at), date_done = VALUES(date_done)`
	default:
		return b.dialect.Rebind(insert + ` ON CONFLICT (id) DO UPDATE SET
			status = excluded.status, result = excluded.result,
			updated_at = excluded.updated_at, date_done = excluded.date_done`)
	}
}

// SetStatus upserts the record for id.
func (b *SQLResultBackend) SetStatus(
	ctx context.Context,
	id string,
	status model.TaskStatus,
	result model.TaskResult,
) error {
	if id == "" {
		return ErrTaskIDRequired
	}
	if !status.Valid() {
		return ErrInvalidTaskStatus
	}

	now := toMillis(b.now())
	var (
		encoded sql.NullString
		done    sql.NullInt64
	)
	if status.Finished() {
		var err error
		if encoded, err = encodeResult(result); err != nil {
			return err
		}
		done = sql.NullInt64{Int64: now, Valid: true}
	}

	if _, err := b.db.ExecContext(ctx, b.upsertQuery(),
		id, string(status), encoded, now, now, done,
	); err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// Get loads the record for id.
func (b *SQLResultBackend) Get(ctx context.Context, id string) (*model.Task, error) {
	q := b.dialect.Rebind(`SELECT id, status, result, source, created_at, updated_at, date_done
		FROM frog_tasks WHERE id = ?`)

	var (
		task             model.Task
		status           string
		result           sql.NullString
		created, updated int64
		done             sql.NullInt64
	)
	err := b.db.QueryRowContext(ctx, q, id).Scan(&task.ID, &status, &result, &task.Source, &created, &updated, &done)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFoundf("task %s not found", id)
		}
		return nil, apperrors.MapDBError(err)
	}

	task.Status = model.TaskStatus(status)
	task.CreatedAt = fromMillis(created)
	task.UpdatedAt = fromMillis(updated)
	if done.Valid {
		t := fromMillis(done.Int64)
		task.DoneAt = &t
	}
	if result.Valid {
		if err := json.Unmarshal([]byte(result.String), &task.Result); err != nil {
			return nil, fmt.Errorf("decode result for task %s: %w", id, err)
		}
	}
	return &task, nil
}

// Delete removes the record.
func (b *SQLResultBackend) Delete(ctx context.Context, id string) error {
	q := b.dialect.Rebind(`DELETE FROM frog_tasks WHERE id = ?`)
	if _, err := b.db.ExecContext(ctx, q, id); err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// DeleteFinishedBefore removes up to limit finished records last updated before cutoff.
func (b *SQLResultBackend) DeleteFinishedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	ids, err := b.selectIDs(ctx, `status IN (?, ?)`, cutoff, limit,
		string(model.TaskStatusSuccess), string(model.TaskStatusFailure))
	if err != nil || len(ids) == 0 {
		return 0, err
	}

	var n int64
	q := b.dialect.Rebind(`DELETE FROM frog_tasks WHERE id = ?`)
	for _, id := range ids {
		res, err := b.db.ExecContext(ctx, q, id)
		if err != nil {
			return n, apperrors.MapDBError(err)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	return n, nil
}

// FailStaleBefore marks up to limit PENDING or RUNNING records not updated since cutoff as FAILURE.
func (b *SQLResultBackend) FailStaleBefore(
	ctx context.Context,
	cutoff time.Time,
	limit int,
	result model.TaskResult,
) (int64, error) {
	ids, err := b.selectIDs(ctx, `status IN (?, ?)`, cutoff, limit,
		string(model.TaskStatusPending), string(model.TaskStatusRunning))
	if err != nil || len(ids) == 0 {
		return 0, err
	}

	var n int64
	for _, id := range ids {
		if err := b.SetStatus(ctx, id, model.TaskStatusFailure, result); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// selectIDs returns ids matching statusCond and updated_at < cutoff. Ids are
// selected first and then processed one at a time, since MySQL rejects
// DELETE with a subquery on the same table.
func (b *SQLResultBackend) selectIDs(
	ctx context.Context,
	statusCond string,
	cutoff time.Time,
	limit int,
	statuses ...any,
) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	q := b.dialect.Rebind(`SELECT id FROM frog_tasks WHERE ` + statusCond +
		` AND updated_at < ? ORDER BY updated_at LIMIT ?`)
	args := append(statuses, toMillis(cutoff), limit)

	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Health pings the database.
func (b *SQLResultBackend) Health(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close closes the database handle.
func (b *SQLResultBackend) Close() error {
	return b.db.Close()
}
