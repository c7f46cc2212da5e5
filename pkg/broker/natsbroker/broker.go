// Package natsbroker implements broker.Transport over core COMMS (NATS) subjects.
// Correlation metadata travels in message headers; the reply channel is also set as
// the native reply subject so plain NATS responders can answer with msg.Respond.
package natsbroker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/contacts-gateway/pkg/broker"
)

const logPrefix = "natsbroker:broker"

// Header names carrying correlation metadata.
const (
	HeaderCorrelationID = "Correlation-Id"
	HeaderReplyTo       = "Reply-To"
	HeaderContentType   = "Content-Type"
)

const (
	defaultBufferSize     = 256
	defaultConnectTimeout = 10 * time.Second
	defaultReconnectWait  = 2 * time.Second
	defaultMaxReconnects  = 60
)

// Config configures the broker.
type Config struct {
	// QueueGroup, when set, makes consumers of the same subject compete for messages.
	// Reply consumers should leave it empty unless every gateway instance uses its own
	// reply subject.
	QueueGroup string
	// BufferSize bounds the per-consumer delivery buffer.
	BufferSize int

	// Dial settings; zero values take the defaults below.
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
}

// Broker is a broker.Transport backed by a COMMS connection.
type Broker struct {
	nc     *comms.Conn
	cfg    Config
	owned  bool
	closed chan struct{}
}

// New wraps an existing connection. The caller keeps ownership of nc.
func New(nc *comms.Conn, cfg Config) *Broker {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	b := &Broker{nc: nc, cfg: cfg, closed: make(chan struct{})}
	nc.SetClosedHandler(chainClosed(nc.Opts.ClosedCB, b.closed))
	return b
}

// Conn returns the underlying connection.
func (b *Broker) Conn() *comms.Conn {
	return b.nc
}

// Declare is a no-op: subjects need no declaration. It fails if the connection is closed.
func (b *Broker) Declare(_ context.Context, channel string) error {
	if b.nc.IsClosed() {
		return broker.ErrClosed
	}
	if strings.TrimSpace(channel) == "" {
		return fmt.Errorf("%s - empty subject", logPrefix)
	}
	return nil
}

// Publish sends msg on its subject.
func (b *Broker) Publish(ctx context.Context, msg *broker.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.nc.IsClosed() {
		return broker.ErrClosed
	}
	if err := b.nc.PublishMsg(toMsg(msg)); err != nil {
		return fmt.Errorf("%s - failed to publish to %s: %w", logPrefix, msg.Channel, err)
	}
	return nil
}

// Consume subscribes to channel. Deliveries stop and the returned channel closes when
// ctx ends or the connection closes. Core COMMS has no acknowledgment, so Ack is a no-op.
func (b *Broker) Consume(ctx context.Context, channel string) (<-chan broker.Delivery, error) {
	if b.nc.IsClosed() {
		return nil, broker.ErrClosed
	}

	msgs := make(chan *comms.Msg, b.cfg.BufferSize)
	var (
		sub *comms.Subscription
		err error
	)
	if b.cfg.QueueGroup != "" {
		sub, err = b.nc.ChanQueueSubscribe(channel, b.cfg.QueueGroup, msgs)
	} else {
		sub, err = b.nc.ChanSubscribe(channel, msgs)
	}
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, channel, err)
	}
	// Make sure the server has the interest registered before the caller publishes.
	if err := b.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("%s - failed to flush subscription to %s: %w", logPrefix, channel, err)
	}

	out := make(chan broker.Delivery)
	closed := b.closed

	go func() {
		defer close(out)
		defer func() {
			if err := sub.Unsubscribe(); err != nil && !b.nc.IsClosed() {
				slog.Warn(fmt.Sprintf("%s - Failed to unsubscribe from %s: %v", logPrefix, channel, err))
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-closed:
				return
			case m := <-msgs:
				select {
				case out <- fromMsg(m):
				case <-ctx.Done():
					return
				case <-closed:
					return
				}
			}
		}
	}()

	slog.Info(fmt.Sprintf("%s - Subscribed to %s (queue=%q)", logPrefix, channel, b.cfg.QueueGroup))
	return out, nil
}

// Ping round-trips to the server.
func (b *Broker) Ping(ctx context.Context) error {
	if b.nc.IsClosed() {
		return broker.ErrClosed
	}
	if err := b.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("%s - ping failed: %w", logPrefix, err)
	}
	return nil
}

// Close drains the connection if the broker owns it.
func (b *Broker) Close() error {
	if !b.owned || b.nc.IsClosed() {
		return nil
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return fmt.Errorf("%s - failed to drain: %w", logPrefix, err)
	}
	return nil
}

// chainClosed keeps the existing closed handler and additionally closes ch.
func chainClosed(prev comms.ConnHandler, ch chan struct{}) comms.ConnHandler {
	return func(c *comms.Conn) {
		close(ch)
		if prev != nil {
			prev(c)
		}
	}
}

func toMsg(p *broker.Publishing) *comms.Msg {
	m := comms.NewMsg(p.Channel)
	m.Data = p.Body
	for k, v := range p.Headers {
		m.Header.Set(k, v)
	}
	if p.CorrelationID != "" {
		m.Header.Set(HeaderCorrelationID, p.CorrelationID)
	}
	if p.ReplyTo != "" {
		m.Header.Set(HeaderReplyTo, p.ReplyTo)
		m.Reply = p.ReplyTo
	}
	if p.ContentType != "" {
		m.Header.Set(HeaderContentType, p.ContentType)
	}
	return m
}

func fromMsg(m *comms.Msg) broker.Delivery {
	d := broker.Delivery{
		Channel: m.Subject,
		Body:    m.Data,
	}
	if len(m.Header) > 0 {
		d.Headers = make(map[string]string, len(m.Header))
		for k := range m.Header {
			d.Headers[k] = m.Header.Get(k)
		}
		d.CorrelationID = m.Header.Get(HeaderCorrelationID)
		d.ReplyTo = m.Header.Get(HeaderReplyTo)
		d.ContentType = m.Header.Get(HeaderContentType)
	}
	if d.ReplyTo == "" {
		d.ReplyTo = m.Reply
	}
	return broker.NewDelivery(d, nil)
}
