package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/runfrog/runfrog/internal/core"
	"github.com/runfrog/runfrog/internal/domain/model"
)

// RedisBroker is a reliable list queue. Publish pushes onto the queue list;
// Receive atomically moves the oldest entry into a processing list, and Ack
// removes it from there. Entries left in the processing list by a crashed
// worker can be returned with Requeue.
type RedisBroker struct {
	client     redis.UniversalClient
	queue      string
	processing string
}

// NewRedisBroker creates a broker using the given key name as queue.
func NewRedisBroker(client redis.UniversalClient, name string) *RedisBroker {
	return &RedisBroker{
		client:     client,
		queue:      name,
		processing: name + ":processing",
	}
}

// Publish enqueues a task message.
func (b *RedisBroker) Publish(ctx context.Context, msg model.TaskMessage) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := b.client.LPush(ctx, b.queue, body).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

// Receive blocks up to wait for a message.
func (b *RedisBroker) Receive(ctx context.Context, wait time.Duration) (*core.Delivery, error) {
	raw, err := b.client.BLMove(ctx, b.queue, b.processing, "RIGHT", "LEFT", wait).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrNoMessage
		}
		if errors.Is(err, redis.ErrClosed) {
			return nil, ErrBrokerClosed
		}
		return nil, fmt.Errorf("redis blmove: %w", err)
	}

	msg, err := model.DecodeTaskMessage([]byte(raw))
	if err != nil {
		// drop poison messages so they are not redelivered forever
		_ = b.client.LRem(ctx, b.processing, 1, raw).Err()
		return nil, err
	}
	return &core.Delivery{Message: msg, Body: []byte(raw), Handle: raw}, nil
}

// Ack removes a delivery from the processing list.
func (b *RedisBroker) Ack(ctx context.Context, d *core.Delivery) error {
	removed, err := b.client.LRem(ctx, b.processing, 1, d.Handle).Result()
	if err != nil {
		return fmt.Errorf("redis lrem: %w", err)
	}
	if removed == 0 {
		return ErrUnknownDelivery
	}
	return nil
}

// Extend is a no-op: entries stay in the processing list until acked, and only
// Requeue at worker start returns them to the queue.
func (b *RedisBroker) Extend(context.Context, *core.Delivery) error { return nil }

// Requeue moves every entry in the processing list back onto the queue and
// returns how many were moved. Only call it when no worker is running.
func (b *RedisBroker) Requeue(ctx context.Context) (int, error) {
	n := 0
	for {
		_, err := b.client.LMove(ctx, b.processing, b.queue, "RIGHT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("redis lmove: %w", err)
		}
		n++
	}
}

// Health pings Redis.
func (b *RedisBroker) Health(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close is a no-op; the shared client is closed by its owner.
func (b *RedisBroker) Close() error { return nil }
