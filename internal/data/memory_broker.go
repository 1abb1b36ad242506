package data

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/runfrog/runfrog/internal/core"
	"github.com/runfrog/runfrog/internal/domain/model"
)

// MemoryBroker is an in-process broker for single-binary deployments
// (SERVICES=http,worker) and tests. Messages do not survive a restart.
type MemoryBroker struct {
	mu       sync.Mutex
	queue    [][]byte
	inflight map[string][]byte
	nextID   uint64
	notify   chan struct{}
	closed   bool
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		inflight: make(map[string][]byte),
		notify:   make(chan struct{}, 1),
	}
}

// Publish appends the message to the queue.
func (b *MemoryBroker) Publish(_ context.Context, msg model.TaskMessage) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBrokerClosed
	}
	b.queue = append(b.queue, body)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

// Receive pops the oldest message, waiting up to wait for one to arrive.
func (b *MemoryBroker) Receive(ctx context.Context, wait time.Duration) (*core.Delivery, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		d, err := b.pop()
		if d != nil || err != nil {
			return d, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, core.ErrNoMessage
		case <-b.notify:
		}
	}
}

func (b *MemoryBroker) pop() (*core.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBrokerClosed
	}
	if len(b.queue) == 0 {
		return nil, nil
	}

	body := b.queue[0]
	b.queue = b.queue[1:]
	if len(b.queue) > 0 {
		// wake another waiting receiver
		select {
		case b.notify <- struct{}{}:
		default:
		}
	}

	msg, err := model.DecodeTaskMessage(body)
	if err != nil {
		return nil, err
	}

	b.nextID++
	handle := strconv.FormatUint(b.nextID, 10)
	b.inflight[handle] = body
	return &core.Delivery{Message: msg, Body: body, Handle: handle}, nil
}

// Ack forgets an in-flight delivery.
func (b *MemoryBroker) Ack(_ context.Context, d *core.Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inflight[d.Handle]; !ok {
		return ErrUnknownDelivery
	}
	delete(b.inflight, d.Handle)
	return nil
}

// Extend checks that the delivery is still in flight. In-process deliveries
// are never redelivered, so there is no lease to renew.
func (b *MemoryBroker) Extend(_ context.Context, d *core.Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inflight[d.Handle]; !ok {
		return ErrUnknownDelivery
	}
	return nil
}

// Len returns the number of queued, undelivered messages.
func (b *MemoryBroker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// InFlight returns the number of delivered, unacknowledged messages.
func (b *MemoryBroker) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.inflight)
}

// Close stops the broker. Pending receivers return ErrBrokerClosed.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}
