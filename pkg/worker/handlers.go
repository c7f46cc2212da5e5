package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/morezero/contacts-gateway/pkg/broker"
	"github.com/morezero/contacts-gateway/pkg/codec"
	"github.com/morezero/contacts-gateway/pkg/contacts"
	"github.com/morezero/contacts-gateway/pkg/events"
)

const handlersLogPrefix = "worker:handlers"

// errBadRequest marks a request whose body could not be decoded.
var errBadRequest = errors.New("bad request")

// Reply is the body and content type sent back for one request.
type Reply struct {
	Body        []byte
	ContentType string
}

// Handle routes a request delivery to the store and builds its reply.
func (w *Worker) Handle(ctx context.Context, d broker.Delivery) (*Reply, error) {
	c := codec.ForContentType(d.ContentType, w.codec)
	slog.Debug(fmt.Sprintf("%s - channel=%s correlationId=%s", handlersLogPrefix, d.Channel, d.CorrelationID))

	switch d.Channel {
	case contacts.ChannelCreate:
		return w.handleCreate(ctx, c, d.Body)
	case contacts.ChannelGetByID:
		return w.handleGetByID(ctx, c, d.Body)
	case contacts.ChannelGetAll:
		return w.handleGetAll(ctx, c)
	case contacts.ChannelUpdate:
		return w.handleUpdate(ctx, c, d.Body)
	case contacts.ChannelDelete:
		return w.handleDelete(ctx, d.Body)
	default:
		return nil, fmt.Errorf("%s - unknown channel %s", handlersLogPrefix, d.Channel)
	}
}

func (w *Worker) handleCreate(ctx context.Context, c codec.Codec, body []byte) (*Reply, error) {
	var input contacts.ContactInput
	if err := c.Unmarshal(body, &input); err != nil {
		return nil, fmt.Errorf("%w: failed to parse create body: %v", errBadRequest, err)
	}

	created, err := w.store.Create(ctx, input.WithID(""))
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create contact: %w", handlersLogPrefix, err)
	}
	w.publishChanged(ctx, events.ActionCreated, created.ID, created)
	return encodeReply(c, created)
}

func (w *Worker) handleGetByID(ctx context.Context, c codec.Codec, body []byte) (*Reply, error) {
	var req contacts.GetByIDRequest
	if err := c.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: failed to parse getbyid body: %v", errBadRequest, err)
	}

	found, err := w.store.Get(ctx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to get contact %s: %w", handlersLogPrefix, req.ID, err)
	}
	return encodeReply(c, found)
}

func (w *Worker) handleGetAll(ctx context.Context, c codec.Codec) (*Reply, error) {
	all, err := w.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to list contacts: %w", handlersLogPrefix, err)
	}
	if all == nil {
		all = []contacts.Contact{}
	}
	return encodeReply(c, all)
}

func (w *Worker) handleUpdate(ctx context.Context, c codec.Codec, body []byte) (*Reply, error) {
	var req contacts.UpdateRequest
	if err := c.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: failed to parse update body: %v", errBadRequest, err)
	}

	updated, err := w.store.Update(ctx, req.Contact.WithID(req.ID))
	if err != nil {
		return nil, fmt.Errorf("%s - failed to update contact %s: %w", handlersLogPrefix, req.ID, err)
	}
	if updated != nil {
		w.publishChanged(ctx, events.ActionUpdated, updated.ID, updated)
	}
	return encodeReply(c, updated)
}

func (w *Worker) handleDelete(ctx context.Context, body []byte) (*Reply, error) {
	id := strings.TrimSpace(string(body))

	deleted, err := w.store.Delete(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to delete contact %s: %w", handlersLogPrefix, id, err)
	}
	status := contacts.StatusNotFound
	if deleted {
		status = contacts.StatusDeleted
		w.publishChanged(ctx, events.ActionDeleted, id, nil)
	}
	return &Reply{Body: []byte(status), ContentType: broker.ContentTypeText}, nil
}

func (w *Worker) publishChanged(ctx context.Context, action, id string, c *contacts.Contact) {
	event := &events.ContactChangedEvent{
		Action:    action,
		ContactID: id,
		Contact:   c,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Source:    w.source,
	}
	if err := w.publisher.PublishChanged(ctx, event); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish %s event for %s: %v", handlersLogPrefix, action, id, err))
	}
}

func encodeReply(c codec.Codec, v interface{}) (*Reply, error) {
	body, err := c.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode reply: %w", handlersLogPrefix, err)
	}
	return &Reply{Body: body, ContentType: c.ContentType()}, nil
}
