package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runfrog/runfrog/internal/core"
	"github.com/runfrog/runfrog/internal/domain/model"
	"github.com/runfrog/runfrog/internal/testutil"
)

func TestRedisResultBackend(t *testing.T) {
	_, client := testutil.SetupMiniRedis(t)

	backend := NewRedisResultBackend(RedisResultBackendOptions{Client: client, TTL: time.Hour})
	runResultBackendSuite(t, backend)

	t.Run("records carry a ttl", func(t *testing.T) {
		ctx := context.Background()
		id := model.NewTaskID()
		require.NoError(t, backend.Create(ctx, &model.Task{ID: id, Status: model.TaskStatusPending}))

		ttl := client.TTL(ctx, redisTaskKey(id)).Val()
		assert.True(t, ttl > 0 && ttl <= time.Hour, "ttl %v", ttl)
	})
}

func TestRedisResultBackend_Server(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	client := testutil.SetupTestRedis(t)
	runResultBackendSuite(t, NewRedisResultBackend(RedisResultBackendOptions{Client: client, TTL: time.Hour}))
}

func TestRedisBroker(t *testing.T) {
	_, client := testutil.SetupMiniRedis(t)
	broker := NewRedisBroker(client, "frog-test")
	ctx := context.Background()

	t.Run("empty queue", func(t *testing.T) {
		_, err := broker.Receive(ctx, time.Second)
		assert.ErrorIs(t, err, core.ErrNoMessage)
	})

	t.Run("fifo with ack", func(t *testing.T) {
		first := model.TaskMessage{TaskID: model.NewTaskID(), SourcePath: "/frog_data/a"}
		second := model.TaskMessage{TaskID: model.NewTaskID(), SourcePath: "/frog_data/b"}
		require.NoError(t, broker.Publish(ctx, first))
		require.NoError(t, broker.Publish(ctx, second))

		d, err := broker.Receive(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, first.TaskID, d.Message.TaskID)
		assert.Equal(t, int64(1), client.LLen(ctx, "frog-test:processing").Val())
		require.NoError(t, broker.Extend(ctx, d))
		assert.Equal(t, int64(1), client.LLen(ctx, "frog-test:processing").Val(), "extend leaves the delivery in place")

		require.NoError(t, broker.Ack(ctx, d))
		assert.Equal(t, int64(0), client.LLen(ctx, "frog-test:processing").Val())
		assert.ErrorIs(t, broker.Ack(ctx, d), ErrUnknownDelivery)

		d, err = broker.Receive(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, second.TaskID, d.Message.TaskID)
		require.NoError(t, broker.Ack(ctx, d))
	})

	t.Run("requeue unacked", func(t *testing.T) {
		msg := model.TaskMessage{TaskID: model.NewTaskID(), SourcePath: "/frog_data/c"}
		require.NoError(t, broker.Publish(ctx, msg))
		_, err := broker.Receive(ctx, time.Second)
		require.NoError(t, err)

		n, err := broker.Requeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		d, err := broker.Receive(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, msg.TaskID, d.Message.TaskID)
		require.NoError(t, broker.Ack(ctx, d))
	})

	t.Run("poison message is dropped", func(t *testing.T) {
		require.NoError(t, client.LPush(ctx, "frog-test", "not json").Err())
		_, err := broker.Receive(ctx, time.Second)
		assert.Error(t, err)
		assert.Equal(t, int64(0), client.LLen(ctx, "frog-test:processing").Val())
	})
}

func TestRedisBroker_ClosedClient(t *testing.T) {
	_, client := testutil.SetupMiniRedis(t)
	broker := NewRedisBroker(client, "frog-closed")
	require.NoError(t, client.Close())

	_, err := broker.Receive(context.Background(), 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrBrokerClosed)
}
