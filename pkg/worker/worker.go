// Package worker is the reference responder for the contacts channels. It consumes the
// request channels, applies each request to a Store and replies on the request's
// replyTo with the request's correlationId.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/morezero/contacts-gateway/pkg/broker"
	"github.com/morezero/contacts-gateway/pkg/codec"
	"github.com/morezero/contacts-gateway/pkg/contacts"
	"github.com/morezero/contacts-gateway/pkg/events"
)

const logPrefix = "worker:worker"

const defaultConcurrency = 16

// Config configures a Worker. Zero values use defaults.
type Config struct {
	// Codec decodes requests without a recognised content type and encodes their replies.
	Codec codec.Codec
	// Publisher receives change events. Defaults to a no-op.
	Publisher events.EventPublisher
	// Source is stamped on change events.
	Source string
	// Concurrency bounds requests handled at once per channel.
	Concurrency int
}

// Worker serves the contacts request channels.
type Worker struct {
	transport   broker.Transport
	store       Store
	codec       codec.Codec
	publisher   events.EventPublisher
	source      string
	concurrency int

	wg sync.WaitGroup
}

// New creates a worker.
func New(t broker.Transport, store Store, cfg Config) *Worker {
	if cfg.Codec == nil {
		cfg.Codec = codec.JSON
	}
	if cfg.Publisher == nil {
		cfg.Publisher = &events.NoOpPublisher{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Worker{
		transport:   t,
		store:       store,
		codec:       cfg.Codec,
		publisher:   cfg.Publisher,
		source:      cfg.Source,
		concurrency: cfg.Concurrency,
	}
}

// Start declares and consumes every request channel. Consumption stops when ctx ends;
// Wait blocks until in-flight requests are done.
func (w *Worker) Start(ctx context.Context) error {
	for _, channel := range contacts.RequestChannels() {
		if err := w.transport.Declare(ctx, channel); err != nil {
			return fmt.Errorf("%s - failed to declare %s: %w", logPrefix, channel, err)
		}
		deliveries, err := w.transport.Consume(ctx, channel)
		if err != nil {
			return fmt.Errorf("%s - failed to consume %s: %w", logPrefix, channel, err)
		}
		w.wg.Add(1)
		go w.serve(ctx, channel, deliveries)
	}
	slog.Info(fmt.Sprintf("%s - Serving %s", logPrefix, strings.Join(contacts.RequestChannels(), ", ")))
	return nil
}

// Run starts the worker and blocks until ctx ends and in-flight requests are done.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.Wait()
	return nil
}

// Wait blocks until every consumer loop and in-flight request has finished.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) serve(ctx context.Context, channel string, deliveries <-chan broker.Delivery) {
	defer w.wg.Done()
	sem := make(chan struct{}, w.concurrency)

	for d := range deliveries {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		w.wg.Add(1)
		go func(d broker.Delivery) {
			defer w.wg.Done()
			defer func() { <-sem }()
			w.process(ctx, d)
		}(d)
	}
	slog.Debug(fmt.Sprintf("%s - Stopped serving %s", logPrefix, channel))
}

// process handles one request end to end. The request is always acked.
func (w *Worker) process(ctx context.Context, d broker.Delivery) {
	defer func() {
		if err := d.Ack(); err != nil {
			slog.Error(fmt.Sprintf("%s - Failed to ack request correlationId=%s: %v", logPrefix, d.CorrelationID, err))
		}
	}()

	if strings.TrimSpace(d.CorrelationID) == "" || strings.TrimSpace(d.ReplyTo) == "" {
		slog.Warn(fmt.Sprintf("%s - Dropping request on %s without correlationId or replyTo", logPrefix, d.Channel))
		return
	}

	reply, err := w.Handle(ctx, d)
	if err != nil {
		if errors.Is(err, errBadRequest) {
			slog.Warn(fmt.Sprintf("%s - Dropping malformed request correlationId=%s on %s: %v", logPrefix, d.CorrelationID, d.Channel, err))
			return
		}
		slog.Error(fmt.Sprintf("%s - Request correlationId=%s on %s failed: %v", logPrefix, d.CorrelationID, d.Channel, err))
		return
	}

	err = w.transport.Publish(ctx, &broker.Publishing{
		Channel:       d.ReplyTo,
		CorrelationID: d.CorrelationID,
		ContentType:   reply.ContentType,
		Body:          reply.Body,
	})
	if err != nil {
		slog.Error(fmt.Sprintf("%s - Failed to reply correlationId=%s to %s: %v", logPrefix, d.CorrelationID, d.ReplyTo, err))
	}
}
