package worker

import (
	"context"

	"github.com/morezero/contacts-gateway/pkg/contacts"
)

// Store persists contacts for the worker. Get and Update return nil and no error when
// the contact does not exist; Delete reports whether it existed.
type Store interface {
	Create(ctx context.Context, c contacts.Contact) (*contacts.Contact, error)
	Get(ctx context.Context, id string) (*contacts.Contact, error)
	List(ctx context.Context) ([]contacts.Contact, error)
	Update(ctx context.Context, c contacts.Contact) (*contacts.Contact, error)
	Delete(ctx context.Context, id string) (bool, error)
}
