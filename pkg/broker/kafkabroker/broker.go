// Package kafkabroker implements broker.Transport over Kafka topics.
// Correlation metadata travels in record headers and the correlation id is also the
// record key. Acknowledging a delivery commits its offset for the consumer group.
package kafkabroker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/morezero/contacts-gateway/pkg/broker"
)

const logPrefix = "kafkabroker:broker"

// Header keys carrying correlation metadata.
const (
	HeaderCorrelationID = "correlation-id"
	HeaderReplyTo       = "reply-to"
	HeaderContentType   = "content-type"
)

const (
	defaultBufferSize  = 256
	defaultDialTimeout = 10 * time.Second
)

// Config configures the broker.
type Config struct {
	Brokers []string
	// GroupID is the consumer group. Consumers sharing it split a topic's partitions.
	GroupID string
	// StartOffset applies when the group has no committed offset.
	// Defaults to kafka.FirstOffset so requests sent before a consumer joins are kept.
	StartOffset int64
	// Partitions and ReplicationFactor are used by Declare.
	Partitions        int
	ReplicationFactor int
	BufferSize        int
}

func (c Config) withDefaults() Config {
	if c.StartOffset == 0 {
		c.StartOffset = kafka.FirstOffset
	}
	if c.Partitions <= 0 {
		c.Partitions = 1
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = 1
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	return c
}

// Broker is a broker.Transport backed by kafka-go readers and a shared writer.
type Broker struct {
	cfg    Config
	writer *kafka.Writer
	closed atomic.Bool
}

// New creates a broker for cfg.Brokers. No connection is made until first use.
func New(cfg Config) (*Broker, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%s - no brokers configured", logPrefix)
	}
	cfg = cfg.withDefaults()
	return &Broker{
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			RequiredAcks:           kafka.RequireOne,
			BatchTimeout:           5 * time.Millisecond,
		},
	}, nil
}

// Declare creates the topic if it does not exist.
func (b *Broker) Declare(ctx context.Context, channel string) error {
	if b.closed.Load() {
		return broker.ErrClosed
	}
	conn, err := b.dialController(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	err = conn.CreateTopics(kafka.TopicConfig{
		Topic:             channel,
		NumPartitions:     b.cfg.Partitions,
		ReplicationFactor: b.cfg.ReplicationFactor,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("%s - failed to create topic %s: %w", logPrefix, channel, err)
	}
	return nil
}

func (b *Broker) dialController(ctx context.Context) (*kafka.Conn, error) {
	dialer := &kafka.Dialer{Timeout: defaultDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", b.cfg.Brokers[0])
	if err != nil {
		return nil, fmt.Errorf("%s - failed to dial %s: %w", logPrefix, b.cfg.Brokers[0], err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return nil, fmt.Errorf("%s - failed to find controller: %w", logPrefix, err)
	}
	addr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	cc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to dial controller %s: %w", logPrefix, addr, err)
	}
	return cc, nil
}

// Publish writes msg to the topic named by msg.Channel.
func (b *Broker) Publish(ctx context.Context, msg *broker.Publishing) error {
	if b.closed.Load() {
		return broker.ErrClosed
	}
	if err := b.writer.WriteMessages(ctx, toMessage(msg)); err != nil {
		return fmt.Errorf("%s - failed to publish to %s: %w", logPrefix, msg.Channel, err)
	}
	return nil
}

// Consume reads channel as a member of the configured consumer group. Without a
// group, the reader starts at StartOffset on partition 0 and Ack is a no-op.
func (b *Broker) Consume(ctx context.Context, channel string) (<-chan broker.Delivery, error) {
	if b.closed.Load() {
		return nil, broker.ErrClosed
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.cfg.Brokers,
		GroupID:     b.cfg.GroupID,
		Topic:       channel,
		StartOffset: b.cfg.StartOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     250 * time.Millisecond,
	})

	out := make(chan broker.Delivery, b.cfg.BufferSize)
	go func() {
		defer close(out)
		defer reader.Close()
		for {
			m, err := reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, io.EOF) {
					slog.Error(fmt.Sprintf("%s - Fetch from %s failed: %v", logPrefix, channel, err))
				}
				return
			}
			var ack func() error
			if b.cfg.GroupID != "" {
				ack = func() error { return reader.CommitMessages(context.Background(), m) }
			}
			d := fromMessage(m, ack)
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
	}()

	slog.Info(fmt.Sprintf("%s - Consuming %s (group=%q)", logPrefix, channel, b.cfg.GroupID))
	return out, nil
}

// Ping dials the first broker.
func (b *Broker) Ping(ctx context.Context) error {
	if b.closed.Load() {
		return broker.ErrClosed
	}
	conn, err := (&kafka.Dialer{Timeout: defaultDialTimeout}).DialContext(ctx, "tcp", b.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("%s - ping failed: %w", logPrefix, err)
	}
	return conn.Close()
}

// Close flushes and closes the writer. Readers stop with their consume contexts.
func (b *Broker) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := b.writer.Close(); err != nil {
		return fmt.Errorf("%s - failed to close writer: %w", logPrefix, err)
	}
	return nil
}

func toMessage(p *broker.Publishing) kafka.Message {
	m := kafka.Message{
		Topic: p.Channel,
		Value: p.Body,
	}
	if p.CorrelationID != "" {
		m.Key = []byte(p.CorrelationID)
		m.Headers = append(m.Headers, kafka.Header{Key: HeaderCorrelationID, Value: []byte(p.CorrelationID)})
	}
	if p.ReplyTo != "" {
		m.Headers = append(m.Headers, kafka.Header{Key: HeaderReplyTo, Value: []byte(p.ReplyTo)})
	}
	if p.ContentType != "" {
		m.Headers = append(m.Headers, kafka.Header{Key: HeaderContentType, Value: []byte(p.ContentType)})
	}
	for k, v := range p.Headers {
		m.Headers = append(m.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return m
}

func fromMessage(m kafka.Message, ack func() error) broker.Delivery {
	d := broker.Delivery{
		Channel: m.Topic,
		Body:    m.Value,
	}
	for _, h := range m.Headers {
		switch h.Key {
		case HeaderCorrelationID:
			d.CorrelationID = string(h.Value)
		case HeaderReplyTo:
			d.ReplyTo = string(h.Value)
		case HeaderContentType:
			d.ContentType = string(h.Value)
		default:
			if d.Headers == nil {
				d.Headers = make(map[string]string)
			}
			d.Headers[h.Key] = string(h.Value)
		}
	}
	if d.CorrelationID == "" && len(m.Key) > 0 {
		d.CorrelationID = string(m.Key)
	}
	return broker.NewDelivery(d, ack)
}
