// Package membroker provides an in-process broker.Transport. Channels behave like
// non-exclusive queues: each message goes to exactly one consumer, and messages
// published before anyone consumes are buffered.
package membroker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/morezero/contacts-gateway/pkg/broker"
)

const logPrefix = "membroker:broker"

const defaultBufferSize = 256

// Config configures the broker. Zero values use defaults.
type Config struct {
	// BufferSize is the per-channel queue capacity.
	BufferSize int
}

type queue struct {
	ch chan broker.Delivery
}

// Broker is an in-memory broker.Transport.
type Broker struct {
	cfg Config

	mu     sync.Mutex
	queues map[string]*queue

	closeOnce sync.Once
	done      chan struct{}

	publishErr atomic.Pointer[error]
	published  atomic.Int64
	acked      atomic.Int64
}

// New creates a new in-memory broker.
func New(cfg Config) *Broker {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	return &Broker{
		cfg:    cfg,
		queues: make(map[string]*queue),
		done:   make(chan struct{}),
	}
}

func (b *Broker) queue(name string) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = &queue{ch: make(chan broker.Delivery, b.cfg.BufferSize)}
		b.queues[name] = q
	}
	return q
}

func (b *Broker) isClosed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Declare creates the named channel if it does not exist yet.
func (b *Broker) Declare(_ context.Context, channel string) error {
	if b.isClosed() {
		return broker.ErrClosed
	}
	b.queue(channel)
	return nil
}

// Publish enqueues msg on its channel, blocking while the queue is full.
func (b *Broker) Publish(ctx context.Context, msg *broker.Publishing) error {
	if b.isClosed() {
		return broker.ErrClosed
	}
	if errp := b.publishErr.Load(); errp != nil {
		return fmt.Errorf("%s - publish to %s: %w", logPrefix, msg.Channel, *errp)
	}

	d := broker.Delivery{
		Channel:       msg.Channel,
		CorrelationID: msg.CorrelationID,
		ReplyTo:       msg.ReplyTo,
		ContentType:   msg.ContentType,
		Body:          append([]byte(nil), msg.Body...),
		Headers:       copyHeaders(msg.Headers),
	}
	d = broker.NewDelivery(d, func() error {
		b.acked.Add(1)
		return nil
	})

	q := b.queue(msg.Channel)
	select {
	case q.ch <- d:
		b.published.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return broker.ErrClosed
	}
}

// Consume attaches a consumer to channel. Multiple consumers on one channel compete.
func (b *Broker) Consume(ctx context.Context, channel string) (<-chan broker.Delivery, error) {
	if b.isClosed() {
		return nil, broker.ErrClosed
	}
	q := b.queue(channel)
	out := make(chan broker.Delivery)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case d := <-q.ch:
				select {
				case out <- d:
				case <-ctx.Done():
					b.requeue(q, d)
					return
				case <-b.done:
					return
				}
			}
		}
	}()

	slog.Debug(fmt.Sprintf("%s - consumer attached to %s", logPrefix, channel))
	return out, nil
}

// requeue puts back a delivery taken by a consumer that went away before handing it over.
func (b *Broker) requeue(q *queue, d broker.Delivery) {
	d.Redelivered = true
	select {
	case q.ch <- d:
	default:
		slog.Warn(fmt.Sprintf("%s - dropped delivery correlationId=%s on requeue, queue full", logPrefix, d.CorrelationID))
	}
}

// Close stops all consumers. Subsequent calls return broker.ErrClosed.
func (b *Broker) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}

// Ping reports whether the broker is open.
func (b *Broker) Ping(_ context.Context) error {
	if b.isClosed() {
		return broker.ErrClosed
	}
	return nil
}

// FailPublishes makes every subsequent Publish fail with err. Pass nil to restore.
func (b *Broker) FailPublishes(err error) {
	if err == nil {
		b.publishErr.Store(nil)
		return
	}
	b.publishErr.Store(&err)
}

// Published returns the number of messages accepted by Publish.
func (b *Broker) Published() int64 { return b.published.Load() }

// Acked returns the number of deliveries acknowledged by consumers.
func (b *Broker) Acked() int64 { return b.acked.Load() }

// Depth returns the number of messages waiting on channel.
func (b *Broker) Depth(channel string) int {
	return len(b.queue(channel).ch)
}

func copyHeaders(h map[string]string) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
