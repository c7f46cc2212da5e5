package contacts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/morezero/contacts-gateway/pkg/broker"
	"github.com/morezero/contacts-gateway/pkg/codec"
	"github.com/morezero/contacts-gateway/pkg/rpc"
)

const logPrefix = "contacts:client"

// Config configures a Client. Zero values use defaults.
type Config struct {
	// Codec encodes structured bodies. Defaults to JSON.
	Codec        codec.Codec
	PointTimeout time.Duration
	ListTimeout  time.Duration
	// ReplySuffix is appended to every reply channel, giving a gateway instance replies
	// of its own on transports that fan out.
	ReplySuffix string
}

// Client issues contact operations to the worker.
type Client struct {
	create  *rpc.Client[ContactInput, *Contact]
	getByID *rpc.Client[GetByIDRequest, *Contact]
	getAll  *rpc.Client[struct{}, []Contact]
	update  *rpc.Client[UpdateRequest, *Contact]
	remove  *rpc.Client[string, string]
}

// NewClient creates a client over t. Reply channels are consumed lazily on first use
// unless Start is called.
func NewClient(t broker.Transport, cfg Config) *Client {
	if cfg.Codec == nil {
		cfg.Codec = codec.JSON
	}
	if cfg.PointTimeout <= 0 {
		cfg.PointTimeout = DefaultPointTimeout
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = DefaultListTimeout
	}
	c := cfg.Codec
	point := func(req, reply string) rpc.Config {
		return rpc.Config{RequestChannel: req, ReplyChannel: reply + cfg.ReplySuffix, Timeout: cfg.PointTimeout}
	}

	return &Client{
		create: rpc.NewClient(t, point(ChannelCreate, ReplyCreate),
			rpc.CodecEncoder[ContactInput](c), rpc.CodecDecoder[*Contact](c, rpc.Required)),
		getByID: rpc.NewClient(t, point(ChannelGetByID, ReplyGetByID),
			rpc.CodecEncoder[GetByIDRequest](c), rpc.CodecDecoder[*Contact](c, rpc.Optional)),
		getAll: rpc.NewClient(t, rpc.Config{RequestChannel: ChannelGetAll, ReplyChannel: ReplyGetAll + cfg.ReplySuffix, Timeout: cfg.ListTimeout},
			rpc.EmptyEncoder[struct{}](c), rpc.CodecDecoder[[]Contact](c, rpc.Required)),
		update: rpc.NewClient(t, point(ChannelUpdate, ReplyUpdate),
			rpc.CodecEncoder[UpdateRequest](c), rpc.CodecDecoder[*Contact](c, rpc.Required)),
		remove: rpc.NewClient(t, point(ChannelDelete, ReplyDelete),
			rpc.TextEncoder(), rpc.TextDecoder()),
	}
}

// Start declares and consumes every reply channel.
func (c *Client) Start(ctx context.Context) error {
	err := errors.Join(
		c.create.Start(ctx),
		c.getByID.Start(ctx),
		c.getAll.Start(ctx),
		c.update.Start(ctx),
		c.remove.Start(ctx),
	)
	if err != nil {
		return fmt.Errorf("%s - failed to start: %w", logPrefix, err)
	}
	return nil
}

// Create stores a new contact and returns it with its assigned id.
func (c *Client) Create(ctx context.Context, in ContactInput) (*Contact, error) {
	return c.create.Call(ctx, in)
}

// GetByID returns the contact with id, or nil and no error when none exists.
func (c *Client) GetByID(ctx context.Context, id string) (*Contact, error) {
	return c.getByID.Call(ctx, GetByIDRequest{ID: id})
}

// List returns every contact. An empty store yields an empty, non-nil slice.
func (c *Client) List(ctx context.Context) ([]Contact, error) {
	out, err := c.getAll.Call(ctx, struct{}{})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Contact{}
	}
	return out, nil
}

// Update replaces the contact with id. It returns ErrNotFound when none exists.
func (c *Client) Update(ctx context.Context, id string, in ContactInput) (*Contact, error) {
	out, err := c.update.Call(ctx, UpdateRequest{ID: id, Contact: in})
	if rpc.IsNullReply(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return out, err
}

// Delete removes the contact with id and returns the worker's status text unmodified.
func (c *Client) Delete(ctx context.Context, id string) (string, error) {
	return c.remove.Call(ctx, id)
}

// Stats returns one snapshot per operation.
func (c *Client) Stats() []rpc.Stats {
	return []rpc.Stats{
		c.create.Stats(),
		c.getByID.Stats(),
		c.getAll.Stats(),
		c.update.Stats(),
		c.remove.Stats(),
	}
}

// Close stops every reply consumer and fails in-flight calls. The transport stays open.
func (c *Client) Close() error {
	return errors.Join(
		c.create.Close(),
		c.getByID.Close(),
		c.getAll.Close(),
		c.update.Close(),
		c.remove.Close(),
	)
}
