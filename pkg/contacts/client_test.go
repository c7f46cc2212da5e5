package contacts

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/morezero/contacts-gateway/pkg/broker"
	"github.com/morezero/contacts-gateway/pkg/broker/membroker"
	"github.com/morezero/contacts-gateway/pkg/codec"
	"github.com/morezero/contacts-gateway/pkg/rpc"
)

const testPrefix = "contacts:client_test"

// fakeWorker answers every request channel using replies keyed by channel.
func fakeWorker(t *testing.T, b *membroker.Broker, delay time.Duration, replies map[string]func(body []byte) []byte) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	for channel, handle := range replies {
		deliveries, err := b.Consume(ctx, channel)
		if err != nil {
			t.Fatalf("%s - consume %s failed: %v", testPrefix, channel, err)
		}
		handle := handle
		go func() {
			for d := range deliveries {
				_ = d.Ack()
				time.Sleep(delay)
				_ = b.Publish(context.Background(), &broker.Publishing{
					Channel:       d.ReplyTo,
					CorrelationID: d.CorrelationID,
					Body:          handle(d.Body),
				})
			}
		}()
	}
}

func newTestClient(t *testing.T, b *membroker.Broker) *Client {
	t.Helper()
	c := NewClient(b, Config{PointTimeout: 2 * time.Second, ListTimeout: 2 * time.Second})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCreate_ReturnsStoredContact(t *testing.T) {
	b := membroker.New(membroker.Config{})
	defer b.Close()
	fakeWorker(t, b, 200*time.Millisecond, map[string]func([]byte) []byte{
		ChannelCreate: func(body []byte) []byte {
			var in ContactInput
			_ = json.Unmarshal(body, &in)
			out, _ := json.Marshal(in.WithID("11111111-1111-1111-1111-111111111111"))
			return out
		},
	})
	c := newTestClient(t, b)

	got, err := c.Create(context.Background(), ContactInput{Name: "A", Email: "a@x", Phone: "1"})
	if err != nil {
		t.Fatalf("%s - create failed: %v", testPrefix, err)
	}
	if got.ID == "" || got.Name != "A" || got.Email != "a@x" || got.Phone != "1" {
		t.Errorf("%s - created = %+v", testPrefix, got)
	}
}

func TestGetByID_NullIsNotFound(t *testing.T) {
	b := membroker.New(membroker.Config{})
	defer b.Close()
	fakeWorker(t, b, 0, map[string]func([]byte) []byte{
		ChannelGetByID: func(body []byte) []byte {
			var req GetByIDRequest
			_ = json.Unmarshal(body, &req)
			if req.ID == "known" {
				return []byte(`{"id":"known","name":"K"}`)
			}
			return []byte("null")
		},
	})
	c := newTestClient(t, b)

	got, err := c.GetByID(context.Background(), "missing")
	if err != nil || got != nil {
		t.Fatalf("%s - expected nil, nil; got %+v, %v", testPrefix, got, err)
	}
	got, err = c.GetByID(context.Background(), "known")
	if err != nil || got == nil || got.Name != "K" {
		t.Fatalf("%s - expected K, got %+v, %v", testPrefix, got, err)
	}
}

func TestList(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  int
	}{
		{"empty", `[]`, 0},
		{"two", `[{"id":"1","name":"A"},{"id":"2","name":"B"}]`, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := membroker.New(membroker.Config{})
			defer b.Close()
			fakeWorker(t, b, 0, map[string]func([]byte) []byte{
				ChannelGetAll: func(body []byte) []byte {
					if len(body) != 0 {
						return []byte(`"unexpected body"`)
					}
					return []byte(tt.reply)
				},
			})
			c := newTestClient(t, b)

			got, err := c.List(context.Background())
			if err != nil {
				t.Fatalf("%s - list failed: %v", testPrefix, err)
			}
			if got == nil || len(got) != tt.want {
				t.Errorf("%s - got %#v, want %d items", testPrefix, got, tt.want)
			}
		})
	}
}

func TestUpdate_NotFound(t *testing.T) {
	b := membroker.New(membroker.Config{})
	defer b.Close()
	fakeWorker(t, b, 0, map[string]func([]byte) []byte{
		ChannelUpdate: func(body []byte) []byte {
			var req UpdateRequest
			_ = json.Unmarshal(body, &req)
			if req.ID != "known" {
				return []byte("null")
			}
			out, _ := json.Marshal(req.Contact.WithID(req.ID))
			return out
		},
	})
	c := newTestClient(t, b)

	got, err := c.Update(context.Background(), "known", ContactInput{Name: "New"})
	if err != nil || got.Name != "New" || got.ID != "known" {
		t.Fatalf("%s - update = %+v, %v", testPrefix, got, err)
	}
	if _, err := c.Update(context.Background(), "missing", ContactInput{Name: "X"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("%s - expected ErrNotFound, got %v", testPrefix, err)
	}
}

func TestDelete_TextStatus(t *testing.T) {
	b := membroker.New(membroker.Config{})
	defer b.Close()
	fakeWorker(t, b, 0, map[string]func([]byte) []byte{
		ChannelDelete: func(body []byte) []byte {
			if string(body) == "abc-123" {
				return []byte(StatusDeleted)
			}
			return []byte(StatusNotFound)
		},
	})
	c := newTestClient(t, b)

	got, err := c.Delete(context.Background(), "abc-123")
	if err != nil || got != StatusDeleted {
		t.Fatalf("%s - delete = %q, %v", testPrefix, got, err)
	}
	got, err = c.Delete(context.Background(), "other")
	if err != nil || got != StatusNotFound {
		t.Fatalf("%s - delete missing = %q, %v", testPrefix, got, err)
	}
}

func TestCalls_TimeOutWithoutWorker(t *testing.T) {
	b := membroker.New(membroker.Config{})
	defer b.Close()
	c := NewClient(b, Config{PointTimeout: 50 * time.Millisecond, ListTimeout: 80 * time.Millisecond})
	defer c.Close()

	if _, err := c.GetByID(context.Background(), "x"); !rpc.IsTimeout(err) {
		t.Errorf("%s - expected timeout, got %v", testPrefix, err)
	}
	start := time.Now()
	if _, err := c.List(context.Background()); !rpc.IsTimeout(err) {
		t.Errorf("%s - expected timeout, got %v", testPrefix, err)
	}
	if time.Since(start) < 80*time.Millisecond {
		t.Errorf("%s - list used the point timeout", testPrefix)
	}
}

func TestMsgPackCodec(t *testing.T) {
	b := membroker.New(membroker.Config{})
	defer b.Close()
	fakeWorker(t, b, 0, map[string]func([]byte) []byte{
		ChannelCreate: func(body []byte) []byte {
			var in ContactInput
			if err := codec.MsgPack.Unmarshal(body, &in); err != nil {
				return nil
			}
			out, _ := codec.MsgPack.Marshal(in.WithID("mp-1"))
			return out
		},
	})
	c := NewClient(b, Config{Codec: codec.MsgPack, PointTimeout: 2 * time.Second})
	defer c.Close()

	got, err := c.Create(context.Background(), ContactInput{Name: "M"})
	if err != nil || got.ID != "mp-1" || got.Name != "M" {
		t.Fatalf("%s - msgpack create = %+v, %v", testPrefix, got, err)
	}
}

func TestStartAndStats(t *testing.T) {
	b := membroker.New(membroker.Config{})
	defer b.Close()
	c := NewClient(b, Config{ReplySuffix: ".gw1"})
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("%s - start failed: %v", testPrefix, err)
	}
	stats := c.Stats()
	if len(stats) != 5 {
		t.Fatalf("%s - %d stats, want 5", testPrefix, len(stats))
	}
	for _, s := range stats {
		if !s.Consuming {
			t.Errorf("%s - %s not consuming", testPrefix, s.ReplyChannel)
		}
	}
	if stats[0].ReplyChannel != ReplyCreate+".gw1" {
		t.Errorf("%s - reply channel = %q", testPrefix, stats[0].ReplyChannel)
	}
}
