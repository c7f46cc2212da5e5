// Package events defines the contact change event and its publishers.
package events

import "github.com/morezero/contacts-gateway/pkg/contacts"

// Change actions.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// ContactChangedEvent is emitted by the worker after a contact is created, updated or deleted.
type ContactChangedEvent struct {
	Action    string            `json:"action"`
	ContactID string            `json:"contactId"`
	Contact   *contacts.Contact `json:"contact,omitempty"`
	Timestamp string            `json:"timestamp"`
	Source    string            `json:"source,omitempty"`
}
