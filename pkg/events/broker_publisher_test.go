package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/contacts-gateway/pkg/broker"
	"github.com/morezero/contacts-gateway/pkg/broker/membroker"
	"github.com/morezero/contacts-gateway/pkg/broker/natsbroker"
	"github.com/morezero/contacts-gateway/pkg/codec"
	"github.com/morezero/contacts-gateway/pkg/contacts"
)

func receiveEvent(t *testing.T, ch <-chan broker.Delivery, c codec.Codec) *ContactChangedEvent {
	t.Helper()
	select {
	case d := <-ch:
		var event ContactChangedEvent
		if err := c.Unmarshal(d.Body, &event); err != nil {
			t.Fatalf("events:broker_publisher_test - failed to decode: %v", err)
		}
		return &event
	case <-time.After(5 * time.Second):
		t.Fatal("events:broker_publisher_test - timeout waiting for event")
	}
	return nil
}

func TestBrokerPublisher_PublishesActionAndGlobal(t *testing.T) {
	b := membroker.New(membroker.Config{})
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	global, _ := b.Consume(ctx, contacts.ChannelChanged)
	action, _ := b.Consume(ctx, "contacts.changed.created")

	pub := NewBrokerPublisher(b, nil)
	event := &ContactChangedEvent{
		Action:    ActionCreated,
		ContactID: "c-1",
		Contact:   &contacts.Contact{ID: "c-1", Name: "A"},
		Timestamp: "2025-01-01T00:00:00Z",
	}
	if err := pub.PublishChanged(ctx, event); err != nil {
		t.Fatalf("events:broker_publisher_test - PublishChanged failed: %v", err)
	}

	for _, ch := range []<-chan broker.Delivery{global, action} {
		got := receiveEvent(t, ch, codec.JSON)
		if got.ContactID != "c-1" || got.Action != ActionCreated || got.Contact.Name != "A" {
			t.Errorf("events:broker_publisher_test - event = %+v", got)
		}
	}
}

func TestBrokerPublisher_CustomChannelAndCodec(t *testing.T) {
	b := membroker.New(membroker.Config{})
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	global, _ := b.Consume(ctx, "audit.contacts")
	pub := NewBrokerPublisher(b, &BrokerPublisherOpts{ChangeChannel: "audit.contacts", Codec: codec.MsgPack})
	if err := pub.PublishChanged(ctx, &ContactChangedEvent{Action: ActionDeleted, ContactID: "c-2"}); err != nil {
		t.Fatalf("events:broker_publisher_test - PublishChanged failed: %v", err)
	}
	got := receiveEvent(t, global, codec.MsgPack)
	if got.Action != ActionDeleted || got.Contact != nil {
		t.Errorf("events:broker_publisher_test - event = %+v", got)
	}
	if b.Depth("audit.contacts.deleted") != 1 {
		t.Errorf("events:broker_publisher_test - action channel depth = %d", b.Depth("audit.contacts.deleted"))
	}
}

func TestBrokerPublisher_PublishError(t *testing.T) {
	b := membroker.New(membroker.Config{})
	defer b.Close()
	boom := errors.New("down")
	b.FailPublishes(boom)

	err := NewBrokerPublisher(b, nil).PublishChanged(context.Background(), &ContactChangedEvent{Action: ActionCreated})
	if !errors.Is(err, boom) {
		t.Errorf("events:broker_publisher_test - expected boom, got %v", err)
	}
}

func TestBrokerPublisher_OverComms(t *testing.T) {
	ns, err := commsserver.NewServer(&commsserver.Options{Host: "127.0.0.1", Port: 14230, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("events:broker_publisher_test - failed to create server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("events:broker_publisher_test - server failed to start")
	}
	defer func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	}()

	b, err := natsbroker.Dial(ns.ClientURL(), "events-test", natsbroker.Config{})
	if err != nil {
		t.Fatalf("events:broker_publisher_test - dial failed: %v", err)
	}
	defer b.Close()

	received := make(chan []byte, 1)
	sub, err := b.Conn().Subscribe("contacts.changed.updated", func(msg *comms.Msg) {
		received <- msg.Data
	})
	if err != nil {
		t.Fatalf("events:broker_publisher_test - failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	_ = b.Conn().Flush()

	err = NewBrokerPublisher(b, nil).PublishChanged(context.Background(), &ContactChangedEvent{Action: ActionUpdated, ContactID: "c-3"})
	if err != nil {
		t.Fatalf("events:broker_publisher_test - PublishChanged failed: %v", err)
	}

	select {
	case data := <-received:
		var event ContactChangedEvent
		if err := json.Unmarshal(data, &event); err != nil {
			t.Fatalf("events:broker_publisher_test - failed to unmarshal: %v", err)
		}
		if event.ContactID != "c-3" {
			t.Errorf("events:broker_publisher_test - contactId = %s", event.ContactID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events:broker_publisher_test - timeout waiting for event")
	}
}
