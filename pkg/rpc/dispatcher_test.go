package rpc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/morezero/contacts-gateway/pkg/broker"
	"github.com/morezero/contacts-gateway/pkg/broker/membroker"
	"github.com/morezero/contacts-gateway/pkg/codec"
)

const replyChannel = "test.reply"

func newTestDispatcher(t *testing.T) (*Dispatcher[*item], *Registry[*item], *membroker.Broker, context.CancelFunc) {
	t.Helper()
	b := membroker.New(membroker.Config{})
	reg := NewRegistry[*item]()
	d := NewDispatcher[*item](requestChannel, replyChannel, b, reg)
	lifetime, cancel := context.WithCancel(context.Background())
	if err := d.Start(context.Background(), lifetime); err != nil {
		t.Fatalf("rpc:dispatcher_test - start failed: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		d.Wait()
		b.Close()
	})
	return d, reg, b, cancel
}

func publishReply(t *testing.T, b *membroker.Broker, id, body string) {
	t.Helper()
	err := b.Publish(context.Background(), &broker.Publishing{
		Channel:       replyChannel,
		CorrelationID: id,
		ContentType:   broker.ContentTypeJSON,
		Body:          []byte(body),
	})
	if err != nil {
		t.Fatalf("rpc:dispatcher_test - publish reply failed: %v", err)
	}
}

func waitResult[T any](t *testing.T, p *PendingCall[T]) result[T] {
	t.Helper()
	select {
	case r := <-p.done:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("rpc:dispatcher_test - call %s not completed", p.ID)
	}
	return result[T]{}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("rpc:dispatcher_test - condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDispatcher_ResolvesMatchingCall(t *testing.T) {
	_, reg, b, _ := newTestDispatcher(t)
	p := newPendingCall("c1", CodecDecoder[*item](codec.JSON, Required), time.Second)
	_ = reg.Register(p)

	publishReply(t, b, "c1", `{"id":"1","name":"A"}`)

	r := waitResult(t, p)
	if r.err != nil || r.value.Name != "A" {
		t.Fatalf("rpc:dispatcher_test - result = %+v, %v", r.value, r.err)
	}
	if reg.Len() != 0 {
		t.Errorf("rpc:dispatcher_test - registry len = %d", reg.Len())
	}
	waitFor(t, func() bool { return b.Acked() == 1 })
}

func TestDispatcher_UnmatchedAndMalformedAreAckedAndDropped(t *testing.T) {
	d, reg, b, _ := newTestDispatcher(t)
	p := newPendingCall("keep", CodecDecoder[*item](codec.JSON, Required), time.Second)
	_ = reg.Register(p)

	publishReply(t, b, "unknown", `{"id":"x"}`)
	publishReply(t, b, "   ", `{"id":"y"}`)

	waitFor(t, func() bool { return b.Acked() == 2 })
	if d.counters.unmatched.Load() != 1 {
		t.Errorf("rpc:dispatcher_test - unmatched = %d", d.counters.unmatched.Load())
	}
	if d.counters.malformed.Load() != 1 {
		t.Errorf("rpc:dispatcher_test - malformed = %d", d.counters.malformed.Load())
	}
	if !reg.Contains("keep") {
		t.Error("rpc:dispatcher_test - unrelated pending call was disturbed")
	}
	if !d.Consuming() {
		t.Error("rpc:dispatcher_test - dispatcher stopped after bad replies")
	}
}

func TestDispatcher_DecodeFailuresFailOnlyTheirCall(t *testing.T) {
	d, reg, b, _ := newTestDispatcher(t)
	bad := newPendingCall("bad", CodecDecoder[*item](codec.JSON, Required), time.Second)
	null := newPendingCall("null", CodecDecoder[*item](codec.JSON, Required), time.Second)
	panicky := newPendingCall[*item]("panic", DecoderFunc[*item](func([]byte) (*item, error) {
		panic("boom")
	}), time.Second)
	good := newPendingCall("good", CodecDecoder[*item](codec.JSON, Required), time.Second)
	for _, p := range []*PendingCall[*item]{bad, null, panicky, good} {
		_ = reg.Register(p)
	}

	publishReply(t, b, "bad", `{"id":`)
	publishReply(t, b, "null", `null`)
	publishReply(t, b, "panic", `{}`)
	publishReply(t, b, "good", `{"id":"g"}`)

	badResult := waitResult(t, bad)
	if !IsDecode(badResult.err) {
		t.Errorf("rpc:dispatcher_test - bad: expected DECODE, got %v", badResult.err)
	}
	nullResult := waitResult(t, null)
	if !IsNullReply(nullResult.err) {
		t.Errorf("rpc:dispatcher_test - null: expected NULL_REPLY, got %v", nullResult.err)
	}
	for _, err := range []error{badResult.err, nullResult.err} {
		var rpcErr *Error
		if !errors.As(err, &rpcErr) || rpcErr.Channel != requestChannel {
			t.Errorf("rpc:dispatcher_test - error must carry the request channel, got %v", err)
		}
	}
	if r := waitResult(t, panicky); !IsDecode(r.err) {
		t.Errorf("rpc:dispatcher_test - panic: expected DECODE, got %v", r.err)
	}
	if r := waitResult(t, good); r.err != nil || r.value.ID != "g" {
		t.Errorf("rpc:dispatcher_test - good: %+v %v", r.value, r.err)
	}
	waitFor(t, func() bool { return b.Acked() == 4 })
	if d.counters.decodeFailures.Load() != 2 || d.counters.nullReplies.Load() != 1 {
		t.Errorf("rpc:dispatcher_test - decode=%d null=%d", d.counters.decodeFailures.Load(), d.counters.nullReplies.Load())
	}
}

func TestDispatcher_DuplicateReplyResolvesOnce(t *testing.T) {
	d, reg, b, _ := newTestDispatcher(t)
	p := newPendingCall("c1", CodecDecoder[*item](codec.JSON, Required), time.Second)
	_ = reg.Register(p)

	publishReply(t, b, "c1", `{"id":"first"}`)
	publishReply(t, b, "c1", `{"id":"second"}`)

	r := waitResult(t, p)
	if r.value.ID != "first" {
		t.Errorf("rpc:dispatcher_test - resolved with %q", r.value.ID)
	}
	waitFor(t, func() bool { return d.counters.unmatched.Load() == 1 })
}

type flakyTransport struct {
	*membroker.Broker
	mu          sync.Mutex
	declareErrs int
	declares    int
}

func (f *flakyTransport) Declare(ctx context.Context, channel string) error {
	f.mu.Lock()
	f.declares++
	fail := f.declareErrs > 0
	if fail {
		f.declareErrs--
	}
	f.mu.Unlock()
	if fail {
		return errors.New("declare refused")
	}
	return f.Broker.Declare(ctx, channel)
}

func TestDispatcher_StartRetriesAfterFailureAndIsIdempotent(t *testing.T) {
	ft := &flakyTransport{Broker: membroker.New(membroker.Config{}), declareErrs: 1}
	defer ft.Close()
	d := NewDispatcher[*item](requestChannel, replyChannel, ft, NewRegistry[*item]())
	lifetime, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		d.Wait()
	}()

	if err := d.Start(context.Background(), lifetime); err == nil {
		t.Fatal("rpc:dispatcher_test - expected first start to fail")
	}
	if d.Consuming() {
		t.Fatal("rpc:dispatcher_test - must not be consuming after failed start")
	}

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- d.Start(context.Background(), lifetime)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("rpc:dispatcher_test - concurrent start failed: %v", err)
		}
	}
	if ft.declares != 2 {
		t.Errorf("rpc:dispatcher_test - declares = %d, want 2", ft.declares)
	}
	if !d.Consuming() {
		t.Error("rpc:dispatcher_test - expected consuming")
	}
}

func TestDispatcher_StopsWithLifetime(t *testing.T) {
	d, _, _, cancel := newTestDispatcher(t)
	cancel()
	d.Wait()
	if d.Consuming() {
		t.Error("rpc:dispatcher_test - still consuming after lifetime ended")
	}
}
