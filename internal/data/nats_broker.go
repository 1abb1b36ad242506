package data

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/runfrog/runfrog/internal/core"
	"github.com/runfrog/runfrog/internal/domain/model"
)

// NATSBroker queues task messages on a JetStream work-queue stream so
// messages published while no worker is connected are retained.
type NATSBroker struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	stream  string
	subject string
	durable string
	ackWait time.Duration

	subOnce sync.Once
	sub     *nats.Subscription
	subErr  error

	mu       sync.Mutex
	inflight map[string]*nats.Msg
}

// ConnectNATS dials a NATS server with reconnects enabled.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("runfrog"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

// NewNATSBroker binds to (creating if needed) the stream for queue name.
// ackWait is the consumer's redelivery timeout; 0 leaves the server default.
func NewNATSBroker(nc *nats.Conn, name string, ackWait time.Duration) (*NATSBroker, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	b := &NATSBroker{
		nc:       nc,
		js:       js,
		stream:   streamName(name),
		subject:  name + ".tasks",
		durable:  name + "-workers",
		ackWait:  ackWait,
		inflight: make(map[string]*nats.Msg),
	}
	if err := b.ensureStream(); err != nil {
		return nil, err
	}
	return b, nil
}

// streamName upper-cases the queue name and replaces characters JetStream rejects.
func streamName(name string) string {
	r := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")
	return strings.ToUpper(r.Replace(name))
}

func (b *NATSBroker) ensureStream() error {
	_, err := b.js.StreamInfo(b.stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", b.stream, err)
	}
	_, err = b.js.AddStream(&nats.StreamConfig{
		Name:      b.stream,
		Subjects:  []string{b.subject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("add stream %s: %w", b.stream, err)
	}
	return nil
}

// Publish stores a task message in the stream.
func (b *NATSBroker) Publish(ctx context.Context, msg model.TaskMessage) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	if _, err := b.js.Publish(b.subject, body, nats.Context(ctx), nats.MsgId(msg.TaskID)); err != nil {
		return fmt.Errorf("jetstream publish: %w", err)
	}
	return nil
}

func (b *NATSBroker) subscription() (*nats.Subscription, error) {
	b.subOnce.Do(func() {
		opts := []nats.SubOpt{nats.BindStream(b.stream)}
		if b.ackWait > 0 {
			opts = append(opts, nats.AckWait(b.ackWait))
		}
		b.sub, b.subErr = b.js.PullSubscribe(b.subject, b.durable, opts...)
	})
	return b.sub, b.subErr
}

// Receive fetches one message, waiting up to wait.
func (b *NATSBroker) Receive(ctx context.Context, wait time.Duration) (*core.Delivery, error) {
	sub, err := b.subscription()
	if err != nil {
		if isNATSClosed(err) {
			return nil, ErrBrokerClosed
		}
		return nil, fmt.Errorf("pull subscribe: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	msgs, err := sub.Fetch(1, nats.Context(fetchCtx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, core.ErrNoMessage
		}
		if isNATSClosed(err) {
			return nil, ErrBrokerClosed
		}
		return nil, fmt.Errorf("jetstream fetch: %w", err)
	}
	if len(msgs) == 0 {
		return nil, core.ErrNoMessage
	}

	m := msgs[0]
	task, err := model.DecodeTaskMessage(m.Data)
	if err != nil {
		_ = m.Term()
		return nil, err
	}

	b.mu.Lock()
	b.inflight[m.Reply] = m
	b.mu.Unlock()
	return &core.Delivery{Message: task, Body: m.Data, Handle: m.Reply}, nil
}

func isNATSClosed(err error) bool {
	return errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrConnectionDraining) ||
		errors.Is(err, nats.ErrBadSubscription)
}

// Ack acknowledges the JetStream message behind a delivery.
func (b *NATSBroker) Ack(_ context.Context, d *core.Delivery) error {
	b.mu.Lock()
	m, ok := b.inflight[d.Handle]
	delete(b.inflight, d.Handle)
	b.mu.Unlock()
	if !ok {
		return ErrUnknownDelivery
	}
	if err := m.Ack(); err != nil {
		return fmt.Errorf("jetstream ack: %w", err)
	}
	return nil
}

// Extend marks the message in progress, which restarts its ack wait.
func (b *NATSBroker) Extend(ctx context.Context, d *core.Delivery) error {
	b.mu.Lock()
	m, ok := b.inflight[d.Handle]
	b.mu.Unlock()
	if !ok {
		return ErrUnknownDelivery
	}
	if err := m.InProgress(nats.Context(ctx)); err != nil {
		return fmt.Errorf("jetstream in progress: %w", err)
	}
	return nil
}

// Close drains the connection.
func (b *NATSBroker) Close() error {
	if b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}
