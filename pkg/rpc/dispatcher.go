package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/morezero/contacts-gateway/pkg/broker"
)

const dispatcherLogPrefix = "rpc:dispatcher"

// Dispatcher consumes one reply channel and resolves the matching pending calls.
type Dispatcher[T any] struct {
	request   string
	channel   string
	transport broker.Transport
	registry  *Registry[T]
	counters  *counters

	consuming atomic.Bool
	startMu   sync.Mutex
	wg        sync.WaitGroup
}

// NewDispatcher creates an idle dispatcher for replyChannel. Nothing is declared or
// consumed until Start. Errors it produces carry requestChannel, like every *Error of
// the same call.
func NewDispatcher[T any](requestChannel, replyChannel string, t broker.Transport, reg *Registry[T]) *Dispatcher[T] {
	return newDispatcher(requestChannel, replyChannel, t, reg, &counters{})
}

func newDispatcher[T any](requestChannel, replyChannel string, t broker.Transport, reg *Registry[T], c *counters) *Dispatcher[T] {
	return &Dispatcher[T]{
		request:   requestChannel,
		channel:   replyChannel,
		transport: t,
		registry:  reg,
		counters:  c,
	}
}

// Start declares the reply channel and consumes it until lifetime ends. It is safe to
// call concurrently and repeatedly: once consuming, further calls return nil at once,
// and concurrent first callers wait for the single initialization to finish.
// ctx bounds the declaration only.
func (d *Dispatcher[T]) Start(ctx, lifetime context.Context) error {
	if d.consuming.Load() {
		return nil
	}
	d.startMu.Lock()
	defer d.startMu.Unlock()
	if d.consuming.Load() {
		return nil
	}

	if err := d.transport.Declare(ctx, d.channel); err != nil {
		return fmt.Errorf("%s - failed to declare %s: %w", dispatcherLogPrefix, d.channel, err)
	}
	deliveries, err := d.transport.Consume(lifetime, d.channel)
	if err != nil {
		return fmt.Errorf("%s - failed to consume %s: %w", dispatcherLogPrefix, d.channel, err)
	}

	d.consuming.Store(true)
	d.wg.Add(1)
	go d.loop(lifetime, deliveries)

	slog.Info(fmt.Sprintf("%s - Consuming replies on %s", dispatcherLogPrefix, d.channel))
	return nil
}

// Consuming reports whether the dispatch loop is running.
func (d *Dispatcher[T]) Consuming() bool {
	return d.consuming.Load()
}

// Wait blocks until the dispatch loop has exited.
func (d *Dispatcher[T]) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher[T]) loop(lifetime context.Context, deliveries <-chan broker.Delivery) {
	defer d.wg.Done()
	defer d.consuming.Store(false)

	for {
		select {
		case <-lifetime.Done():
			slog.Debug(fmt.Sprintf("%s - Stopped consuming %s", dispatcherLogPrefix, d.channel))
			return
		case del, ok := <-deliveries:
			if !ok {
				if lifetime.Err() == nil {
					slog.Warn(fmt.Sprintf("%s - Delivery channel for %s closed by transport", dispatcherLogPrefix, d.channel))
				}
				return
			}
			d.handle(del)
		}
	}
}

// handle processes one delivery. It never panics and always acknowledges.
func (d *Dispatcher[T]) handle(del broker.Delivery) {
	defer d.ack(del)

	id := strings.TrimSpace(del.CorrelationID)
	if id == "" {
		d.counters.malformed.Add(1)
		slog.Warn(fmt.Sprintf("%s - Discarding reply without correlationId on %s (%d bytes)", dispatcherLogPrefix, d.channel, len(del.Body)))
		return
	}

	p, ok := d.registry.Take(id)
	if !ok {
		d.counters.unmatched.Add(1)
		slog.Warn(fmt.Sprintf("%s - Unmatched reply correlationId=%s on %s (late, duplicate or unknown)", dispatcherLogPrefix, id, d.channel))
		return
	}

	v, err := decodeSafely(p.Decoder, del.Body)
	switch {
	case err == nil:
		d.counters.resolved.Add(1)
		p.resolve(v)
	case errors.Is(err, ErrNullReply):
		d.counters.nullReplies.Add(1)
		slog.Error(fmt.Sprintf("%s - Null reply correlationId=%s on %s", dispatcherLogPrefix, id, d.channel))
		p.fail(newNullReplyError(d.request, id))
	default:
		d.counters.decodeFailures.Add(1)
		decErr := newDecodeError(d.request, id, del.Body, err)
		slog.Error(fmt.Sprintf("%s - %v", dispatcherLogPrefix, decErr))
		p.fail(decErr)
	}
}

func (d *Dispatcher[T]) ack(del broker.Delivery) {
	if err := del.Ack(); err != nil {
		slog.Error(fmt.Sprintf("%s - Failed to ack reply correlationId=%s on %s: %v", dispatcherLogPrefix, del.CorrelationID, d.channel, err))
	}
}

func decodeSafely[T any](dec Decoder[T], body []byte) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decoder panic: %v", r)
		}
	}()
	return dec.Decode(body)
}
