package events

import (
	"encoding/json"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

const cloudEventsLogPrefix = "events:cloudevents"

// ContentTypeCloudEvents is the structured-mode JSON content type.
const ContentTypeCloudEvents = "application/cloudevents+json"

// EventTypePrefix prefixes the CloudEvents type of every change event, e.g. contacts.changed.created.
const EventTypePrefix = "contacts.changed."

const defaultSource = "contacts-worker"

// ToCloudEvent wraps event in a CloudEvents 1.0 envelope. The action becomes the type
// suffix, the contact id the subject, and the event itself the JSON data.
func ToCloudEvent(event *ContactChangedEvent) (cloudevents.Event, error) {
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetType(EventTypePrefix + event.Action)
	source := event.Source
	if source == "" {
		source = defaultSource
	}
	e.SetSource(source)
	e.SetSubject(event.ContactID)
	if ts, err := time.Parse(time.RFC3339, event.Timestamp); err == nil {
		e.SetTime(ts)
	} else {
		e.SetTime(time.Now().UTC())
	}
	if err := e.SetData(cloudevents.ApplicationJSON, event); err != nil {
		return e, fmt.Errorf("%s - failed to set data: %w", cloudEventsLogPrefix, err)
	}
	if err := e.Validate(); err != nil {
		return e, fmt.Errorf("%s - invalid event: %w", cloudEventsLogPrefix, err)
	}
	return e, nil
}

// FromCloudEvent decodes a structured-mode body produced by ToCloudEvent.
func FromCloudEvent(body []byte) (*ContactChangedEvent, error) {
	e := cloudevents.NewEvent()
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("%s - failed to parse envelope: %w", cloudEventsLogPrefix, err)
	}
	var out ContactChangedEvent
	if err := e.DataAs(&out); err != nil {
		return nil, fmt.Errorf("%s - failed to decode data: %w", cloudEventsLogPrefix, err)
	}
	return &out, nil
}
