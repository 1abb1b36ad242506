package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/runfrog/runfrog/internal/domain/model"
	apperrors "github.com/runfrog/runfrog/internal/errors"
)

const redisTaskKeyPrefix = "frog-task-meta-"

// RedisResultBackend stores each task as a JSON document with a TTL.
// Every write refreshes the TTL, so retention counts from the last update.
type RedisResultBackend struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
}

// RedisResultBackendOptions configures a RedisResultBackend.
type RedisResultBackendOptions struct {
	Client redis.UniversalClient
	TTL    time.Duration
}

// NewRedisResultBackend creates a Redis result backend.
func NewRedisResultBackend(opts RedisResultBackendOptions) *RedisResultBackend {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisResultBackend{client: opts.Client, ttl: ttl, now: time.Now}
}

func redisTaskKey(id string) string { return redisTaskKeyPrefix + id }

// Create stores a new record, failing with a conflict if the key exists.
func (b *RedisResultBackend) Create(ctx context.Context, task *model.Task) error {
	if task == nil || task.ID == "" {
		return ErrTaskIDRequired
	}
	if !task.Status.Valid() {
		return ErrInvalidTaskStatus
	}

	stored := *task
	now := b.now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	body, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	status, err := b.client.SetArgs(ctx, redisTaskKey(task.ID), body, redis.SetArgs{Mode: "NX", TTL: b.ttl}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return apperrors.Conflict("task already exists")
		}
		return fmt.Errorf("redis SET NX: %w", err)
	}
	if status != "OK" {
		return apperrors.Conflict("task already exists")
	}
	return nil
}

// SetStatus rewrites the record for id, creating it if it expired or never existed.
func (b *RedisResultBackend) SetStatus(
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

	now := b.now().UTC()
	task, err := b.Get(ctx, id)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			return err
		}
		task = &model.Task{ID: id, CreatedAt: now}
	}
	applyStatus(task, status, result, now)

	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := b.client.Set(ctx, redisTaskKey(id), body, b.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get loads the record for id.
func (b *RedisResultBackend) Get(ctx context.Context, id string) (*model.Task, error) {
	raw, err := b.client.Get(ctx, redisTaskKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFoundf("task %s not found", id)
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var task model.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &task, nil
}

// Delete removes the record.
func (b *RedisResultBackend) Delete(ctx context.Context, id string) error {
	if err := b.client.Del(ctx, redisTaskKey(id)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Health pings Redis.
func (b *RedisResultBackend) Health(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close is a no-op; the shared client is closed by its owner.
func (b *RedisResultBackend) Close() error { return nil }
