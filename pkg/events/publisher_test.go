package events

import (
	"context"
	"testing"

	"github.com/morezero/contacts-gateway/pkg/contacts"
)

func TestNoOpPublisher(t *testing.T) {
	pub := &NoOpPublisher{}
	err := pub.PublishChanged(context.Background(), &ContactChangedEvent{
		Action:    ActionCreated,
		ContactID: "c-1",
	})
	if err != nil {
		t.Errorf("events:publisher_test - expected no error, got %v", err)
	}
}

func TestCallbackPublisher(t *testing.T) {
	var captured *ContactChangedEvent

	pub := NewCallbackPublisher(func(_ context.Context, event *ContactChangedEvent) error {
		captured = event
		return nil
	})

	event := &ContactChangedEvent{
		Action:    ActionUpdated,
		ContactID: "c-1",
		Contact:   &contacts.Contact{ID: "c-1", Name: "A"},
		Timestamp: "2025-01-01T00:00:00Z",
	}

	if err := pub.PublishChanged(context.Background(), event); err != nil {
		t.Errorf("events:publisher_test - expected no error, got %v", err)
	}
	if captured == nil {
		t.Fatal("events:publisher_test - expected callback to be called")
	}
	if captured.Action != ActionUpdated || captured.Contact.Name != "A" {
		t.Errorf("events:publisher_test - captured %+v", captured)
	}
}

func TestActionChannel(t *testing.T) {
	if got := ActionChannel("contacts.changed", ActionDeleted); got != "contacts.changed.deleted" {
		t.Errorf("events:publisher_test - got %s", got)
	}
}
