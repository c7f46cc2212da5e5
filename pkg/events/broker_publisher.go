package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/morezero/contacts-gateway/pkg/broker"
	"github.com/morezero/contacts-gateway/pkg/codec"
	"github.com/morezero/contacts-gateway/pkg/contacts"
)

const brokerPublisherLogPrefix = "events:broker_publisher"

// BrokerPublisherOpts configures BrokerPublisher. Nil or zero values use defaults.
type BrokerPublisherOpts struct {
	// ChangeChannel overrides the global change channel (e.g. from CONTACTS_CHANGE_EVENT_SUBJECT).
	ChangeChannel string
	Codec         codec.Codec
	// CloudEvents wraps every event in a structured-mode CloudEvents JSON envelope
	// instead of encoding it with Codec.
	CloudEvents bool
}

// BrokerPublisher publishes contact change events through a broker.Transport.
type BrokerPublisher struct {
	transport     broker.Transport
	changeChannel string
	codec         codec.Codec
	cloudEvents   bool
}

// NewBrokerPublisher creates a new BrokerPublisher. Pass nil for opts to use defaults.
func NewBrokerPublisher(t broker.Transport, opts *BrokerPublisherOpts) *BrokerPublisher {
	p := &BrokerPublisher{transport: t, changeChannel: contacts.ChannelChanged, codec: codec.JSON}
	if opts != nil {
		if opts.ChangeChannel != "" {
			p.changeChannel = opts.ChangeChannel
		}
		if opts.Codec != nil {
			p.codec = opts.Codec
		}
		p.cloudEvents = opts.CloudEvents
	}
	return p
}

// ActionChannel builds the per-action change channel, e.g. contacts.changed.deleted.
func ActionChannel(base, action string) string {
	return fmt.Sprintf("%s.%s", base, action)
}

// PublishChanged publishes event to both the per-action and the global change channels.
func (p *BrokerPublisher) PublishChanged(ctx context.Context, event *ContactChangedEvent) error {
	data, contentType, err := p.encode(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", brokerPublisherLogPrefix, err)
	}

	for _, channel := range []string{ActionChannel(p.changeChannel, event.Action), p.changeChannel} {
		err := p.transport.Publish(ctx, &broker.Publishing{
			Channel:     channel,
			ContentType: contentType,
			Body:        data,
		})
		if err != nil {
			slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", brokerPublisherLogPrefix, channel, err))
			return err
		}
	}

	slog.Debug(fmt.Sprintf("%s - Published %s event for contact %s", brokerPublisherLogPrefix, event.Action, event.ContactID))
	return nil
}

func (p *BrokerPublisher) encode(event *ContactChangedEvent) ([]byte, string, error) {
	if !p.cloudEvents {
		data, err := p.codec.Marshal(event)
		return data, p.codec.ContentType(), err
	}
	ce, err := ToCloudEvent(event)
	if err != nil {
		return nil, "", err
	}
	data, err := json.Marshal(ce)
	return data, ContentTypeCloudEvents, err
}
