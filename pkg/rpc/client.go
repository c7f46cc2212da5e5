package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/contacts-gateway/pkg/broker"
)

const clientLogPrefix = "rpc:client"

// DefaultTimeout applies when Config.Timeout is zero.
const DefaultTimeout = 15 * time.Second

// Config configures a Client.
type Config struct {
	// RequestChannel is where requests are published.
	RequestChannel string
	// ReplyChannel is consumed for replies and sent as the replyTo of every request.
	ReplyChannel string
	// Timeout is the default per-call deadline.
	Timeout time.Duration
	// NewID generates correlation identifiers. Defaults to random UUIDs.
	NewID func() string
}

// CallOption overrides per-call settings.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithTimeout overrides the client's default timeout for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// Client sends requests of type Req on one channel and resolves replies of type Resp
// arriving on its reply channel.
type Client[Req, Resp any] struct {
	cfg        Config
	transport  broker.Transport
	encoder    Encoder[Req]
	decoder    Decoder[Resp]
	registry   *Registry[Resp]
	dispatcher *Dispatcher[Resp]
	counters   *counters

	lifetime context.Context
	cancel   context.CancelFunc
}

// NewClient creates a client. The reply channel is declared and consumed lazily on the
// first Call, or eagerly with Start.
func NewClient[Req, Resp any](t broker.Transport, cfg Config, enc Encoder[Req], dec Decoder[Resp]) *Client[Req, Resp] {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	reg := NewRegistry[Resp]()
	c := &counters{}
	lifetime, cancel := context.WithCancel(context.Background())
	return &Client[Req, Resp]{
		cfg:        cfg,
		transport:  t,
		encoder:    enc,
		decoder:    dec,
		registry:   reg,
		dispatcher: newDispatcher(cfg.RequestChannel, cfg.ReplyChannel, t, reg, c),
		counters:   c,
		lifetime:   lifetime,
		cancel:     cancel,
	}
}

// Start declares and begins consuming the reply channel. It is idempotent.
func (c *Client[Req, Resp]) Start(ctx context.Context) error {
	if c.lifetime.Err() != nil {
		return ErrClientClosed
	}
	return c.dispatcher.Start(ctx, c.lifetime)
}

// Call publishes req and waits for the correlated reply, decoded with the client's decoder.
func (c *Client[Req, Resp]) Call(ctx context.Context, req Req, opts ...CallOption) (Resp, error) {
	return c.CallWithDecoder(ctx, req, c.decoder, opts...)
}

// CallWithDecoder is Call with a per-call reply decoder.
func (c *Client[Req, Resp]) CallWithDecoder(ctx context.Context, req Req, dec Decoder[Resp], opts ...CallOption) (Resp, error) {
	var zero Resp
	if c.lifetime.Err() != nil {
		return zero, ErrClientClosed
	}

	o := callOptions{timeout: c.cfg.Timeout}
	for _, opt := range opts {
		opt(&o)
	}

	if err := c.Start(ctx); err != nil {
		if c.lifetime.Err() != nil {
			return zero, ErrClientClosed
		}
		c.counters.transportFailures.Add(1)
		return zero, newTransportError(c.cfg.RequestChannel, "", err)
	}

	body, contentType, err := c.encoder.Encode(req)
	if err != nil {
		return zero, fmt.Errorf("%s - failed to encode request for %s: %w", clientLogPrefix, c.cfg.RequestChannel, err)
	}

	id := c.cfg.NewID()
	p := newPendingCall(id, dec, o.timeout)
	if err := c.registry.Register(p); err != nil {
		return zero, fmt.Errorf("%s - failed to register call %s: %w", clientLogPrefix, id, err)
	}
	// Close may have drained the registry between the lifetime check and Register.
	if c.lifetime.Err() != nil {
		if _, ok := c.registry.Take(id); ok {
			return zero, ErrClientClosed
		}
		res := p.wait()
		return res.value, res.err
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	stop := armGuard(callCtx, c.cfg.RequestChannel, c.registry, c.counters, p)
	defer stop()

	err = c.transport.Publish(callCtx, &broker.Publishing{
		Channel:       c.cfg.RequestChannel,
		CorrelationID: id,
		ReplyTo:       c.cfg.ReplyChannel,
		ContentType:   contentType,
		Body:          body,
	})
	if err != nil {
		if _, ok := c.registry.Take(id); !ok {
			// The guard or the dispatcher already owns the outcome.
			res := p.wait()
			return res.value, res.err
		}
		c.counters.transportFailures.Add(1)
		slog.Error(fmt.Sprintf("%s - Failed to publish correlationId=%s to %s: %v", clientLogPrefix, id, c.cfg.RequestChannel, err))
		return zero, newTransportError(c.cfg.RequestChannel, id, err)
	}
	c.counters.sent.Add(1)
	slog.Debug(fmt.Sprintf("%s - Sent correlationId=%s to %s replyTo=%s", clientLogPrefix, id, c.cfg.RequestChannel, c.cfg.ReplyChannel))

	res := p.wait()
	return res.value, res.err
}

// Pending returns the number of in-flight calls.
func (c *Client[Req, Resp]) Pending() int {
	return c.registry.Len()
}

// Stats returns a snapshot of the client's counters.
func (c *Client[Req, Resp]) Stats() Stats {
	s := Stats{
		RequestChannel: c.cfg.RequestChannel,
		ReplyChannel:   c.cfg.ReplyChannel,
		Consuming:      c.dispatcher.Consuming(),
		Pending:        c.registry.Len(),
	}
	c.counters.snapshot(&s)
	return s
}

// Close stops consuming replies and fails every in-flight call with ErrClientClosed.
// The transport is not closed.
func (c *Client[Req, Resp]) Close() error {
	c.cancel()
	for _, p := range c.registry.drain() {
		p.fail(&Error{Code: CodeCanceled, Channel: c.cfg.RequestChannel, CorrelationID: p.ID, Message: "client closed", Err: ErrClientClosed})
	}
	c.dispatcher.Wait()
	return nil
}
