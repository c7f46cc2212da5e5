// Package broker defines the transport capability the rpc layer and the worker depend on:
// declare a named channel, publish with correlation metadata, consume with explicit ack.
package broker

import (
	"context"
	"errors"
)

// ErrClosed is returned when a transport is used after Close.
var ErrClosed = errors.New("broker: transport closed")

// Content types carried in message metadata.
const (
	ContentTypeJSON    = "application/json"
	ContentTypeMsgPack = "application/msgpack"
	ContentTypeText    = "text/plain"
)

// Publishing is an outbound message.
type Publishing struct {
	// Channel is the destination (NATS subject, AMQP routing key on the default exchange, Kafka topic).
	Channel       string
	CorrelationID string
	// ReplyTo names the reply channel. Set on requests only.
	ReplyTo     string
	ContentType string
	Body        []byte
	Headers     map[string]string
}

// Delivery is an inbound message handed to a consumer.
type Delivery struct {
	Channel       string
	CorrelationID string
	ReplyTo       string
	ContentType   string
	Body          []byte
	Headers       map[string]string
	Redelivered   bool

	ack func() error
}

// NewDelivery builds a Delivery whose Ack calls ack. A nil ack makes Ack a no-op,
// for transports without acknowledgment (core NATS).
func NewDelivery(d Delivery, ack func() error) Delivery {
	d.ack = ack
	return d
}

// Ack acknowledges transport-level receipt of the delivery.
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Transport is the broker capability used by rpc clients and the worker.
type Transport interface {
	// Declare makes sure a named, non-exclusive, non-durable channel exists.
	Declare(ctx context.Context, channel string) error
	// Publish sends one message.
	Publish(ctx context.Context, msg *Publishing) error
	// Consume returns deliveries for channel until ctx is done or the transport closes,
	// at which point the returned channel is closed.
	Consume(ctx context.Context, channel string) (<-chan Delivery, error)
	// Close releases the underlying connection.
	Close() error
}

// Pinger is implemented by transports that can report connection health.
type Pinger interface {
	Ping(ctx context.Context) error
}
