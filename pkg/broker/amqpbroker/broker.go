// Package amqpbroker implements broker.Transport over AMQP 0-9-1 (RabbitMQ).
// Channels map to queues on the default exchange, so the channel name doubles as the
// routing key. Correlation metadata uses the native correlation_id, reply_to and
// content_type properties.
package amqpbroker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/morezero/contacts-gateway/pkg/broker"
)

const logPrefix = "amqpbroker:broker"

const (
	defaultPrefetch   = 10
	defaultBufferSize = 256
)

// Config configures the broker.
type Config struct {
	// Prefetch bounds unacknowledged deliveries per consumer.
	Prefetch int
	// BufferSize bounds the per-consumer delivery buffer.
	BufferSize int
	// Durable declares queues as durable. Request/reply queues default to non-durable.
	Durable bool
}

func (c Config) withDefaults() Config {
	if c.Prefetch <= 0 {
		c.Prefetch = defaultPrefetch
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	return c
}

// Broker is a broker.Transport backed by one AMQP connection. Publishing shares a
// single channel under a lock; every consumer gets its own channel.
type Broker struct {
	conn *amqp.Connection
	cfg  Config

	mu    sync.Mutex
	pubCh *amqp.Channel
}

// Dial connects to url.
func Dial(url string, cfg Config) (*Broker, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to AMQP broker", logPrefix))
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect: %w", logPrefix, err)
	}
	pubCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s - failed to open publish channel: %w", logPrefix, err)
	}

	go func() {
		if err := <-conn.NotifyClose(make(chan *amqp.Error, 1)); err != nil {
			slog.Warn(fmt.Sprintf("%s - AMQP connection closed: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - Connected to AMQP broker", logPrefix))
	return &Broker{conn: conn, cfg: cfg.withDefaults(), pubCh: pubCh}, nil
}

// Declare declares a non-exclusive, non-auto-delete queue named channel.
func (b *Broker) Declare(_ context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn.IsClosed() {
		return broker.ErrClosed
	}
	if _, err := b.pubCh.QueueDeclare(channel, b.cfg.Durable, false, false, false, nil); err != nil {
		return fmt.Errorf("%s - failed to declare queue %s: %w", logPrefix, channel, err)
	}
	return nil
}

// Publish sends msg to the queue named by msg.Channel.
func (b *Broker) Publish(ctx context.Context, msg *broker.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn.IsClosed() {
		return broker.ErrClosed
	}
	if err := b.pubCh.PublishWithContext(ctx, "", msg.Channel, false, false, toPublishing(msg)); err != nil {
		return fmt.Errorf("%s - failed to publish to %s: %w", logPrefix, msg.Channel, err)
	}
	return nil
}

// Consume starts a manual-ack consumer on the queue named channel.
func (b *Broker) Consume(ctx context.Context, channel string) (<-chan broker.Delivery, error) {
	if b.conn.IsClosed() {
		return nil, broker.ErrClosed
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s - failed to open consumer channel: %w", logPrefix, err)
	}
	if err := ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("%s - failed to set prefetch: %w", logPrefix, err)
	}
	msgs, err := ch.Consume(channel, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("%s - failed to consume %s: %w", logPrefix, channel, err)
	}

	out := make(chan broker.Delivery, b.cfg.BufferSize)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- fromDelivery(channel, m):
				case <-ctx.Done():
					if err := m.Nack(false, true); err != nil {
						slog.Warn(fmt.Sprintf("%s - Failed to requeue delivery on %s: %v", logPrefix, channel, err))
					}
					return
				}
			}
		}
	}()

	slog.Info(fmt.Sprintf("%s - Consuming %s (prefetch=%d)", logPrefix, channel, b.cfg.Prefetch))
	return out, nil
}

// Ping reports whether the connection is open.
func (b *Broker) Ping(_ context.Context) error {
	if b.conn.IsClosed() {
		return broker.ErrClosed
	}
	return nil
}

// Close closes the connection and every channel on it.
func (b *Broker) Close() error {
	if b.conn.IsClosed() {
		return nil
	}
	if err := b.conn.Close(); err != nil {
		return fmt.Errorf("%s - failed to close: %w", logPrefix, err)
	}
	return nil
}

func toPublishing(p *broker.Publishing) amqp.Publishing {
	out := amqp.Publishing{
		CorrelationId: p.CorrelationID,
		ReplyTo:       p.ReplyTo,
		ContentType:   p.ContentType,
		Body:          p.Body,
	}
	if len(p.Headers) > 0 {
		out.Headers = make(amqp.Table, len(p.Headers))
		for k, v := range p.Headers {
			out.Headers[k] = v
		}
	}
	return out
}

func fromDelivery(channel string, m amqp.Delivery) broker.Delivery {
	d := broker.Delivery{
		Channel:       channel,
		CorrelationID: m.CorrelationId,
		ReplyTo:       m.ReplyTo,
		ContentType:   m.ContentType,
		Body:          m.Body,
		Redelivered:   m.Redelivered,
	}
	if len(m.Headers) > 0 {
		d.Headers = make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			d.Headers[k] = fmt.Sprint(v)
		}
	}
	if m.Acknowledger == nil {
		return broker.NewDelivery(d, nil)
	}
	return broker.NewDelivery(d, func() error { return m.Ack(false) })
}
