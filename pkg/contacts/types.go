// Package contacts is the typed client for the contacts worker. Each operation is a
// correlated request/reply over its own pair of broker channels.
package contacts

import (
	"errors"
	"strings"
)

// Contact is a stored contact record.
type Contact struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// ContactInput is the writable part of a contact, sent by create and update.
type ContactInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// GetByIDRequest is the body of a getbyid request.
type GetByIDRequest struct {
	ID string `json:"id"`
}

// UpdateRequest is the body of an update request.
type UpdateRequest struct {
	ID      string       `json:"id"`
	Contact ContactInput `json:"contact"`
}

// Plain-text statuses replied to delete.
const (
	StatusDeleted  = "deleted"
	StatusNotFound = "contact not found"
)

// ErrNotFound is returned by Update when the worker has no contact with the given id.
var ErrNotFound = errors.New("contacts: contact not found")

// Validate checks the fields a worker needs to store a contact.
func (in ContactInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return errors.New("contacts: name is required")
	}
	return nil
}

// WithID returns the stored form of in.
func (in ContactInput) WithID(id string) Contact {
	return Contact{ID: id, Name: in.Name, Email: in.Email, Phone: in.Phone}
}
