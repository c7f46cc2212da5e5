package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/morezero/contacts-gateway/internal/config"
	"github.com/morezero/contacts-gateway/pkg/contacts"
	"github.com/morezero/contacts-gateway/pkg/worker"
)

const e2eNATSPort = 14240

// startNATS starts an embedded NATS server for the duration of the test.
func startNATS(t *testing.T, port int) *commsserver.Server {
	t.Helper()
	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("%s - failed to create NATS server: %v", serverTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - NATS server failed to start", serverTestPrefix)
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

// TestE2E_NATS runs a worker and a gateway as separate NATS connections and exercises
// create, get and list through the HTTP API with msgpack bodies on the wire.
func TestE2E_NATS(t *testing.T) {
	ns := startNATS(t, e2eNATSPort)

	cfg := &config.Config{
		Broker:             config.BrokerNATS,
		COMMSURL:           ns.ClientURL(),
		COMMSName:          "contacts-e2e",
		WireCodec:          "msgpack",
		WorkerQueueGroup:   "contacts-workers",
		StoreBackend:       config.StoreMemory,
		PointTimeout:       5 * time.Second,
		ListTimeout:        5 * time.Second,
		HTTPAddr:           "127.0.0.1:0",
		HealthCheckTimeout: 5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wt, err := openTransport(cfg, roleWorker)
	if err != nil {
		t.Fatalf("%s - worker transport: %v", serverTestPrefix, err)
	}
	defer wt.Close()
	w, err := newWorker(cfg, wt, worker.NewMemoryStore())
	if err != nil {
		t.Fatalf("%s - newWorker: %v", serverTestPrefix, err)
	}
	if err := w.Start(ctx); err != nil {
		t.Fatalf("%s - worker start: %v", serverTestPrefix, err)
	}

	s, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("%s - New: %v", serverTestPrefix, err)
	}
	serveDone := make(chan error, 1)
	go func() { serveDone <- s.Serve(ctx) }()

	base := "http://" + s.Addr()
	client := &http.Client{Timeout: 10 * time.Second}

	resp, err := client.Post(base+"/contacts", "application/json", bytes.NewBufferString(`{"name":"Linus","email":"linus@example.com"}`))
	if err != nil {
		t.Fatalf("%s - create: %v", serverTestPrefix, err)
	}
	var created contacts.Contact
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || created.ID == "" {
		t.Fatalf("%s - create status %d contact %+v", serverTestPrefix, resp.StatusCode, created)
	}

	resp, err = client.Get(base + "/contacts/" + created.ID)
	if err != nil {
		t.Fatalf("%s - get: %v", serverTestPrefix, err)
	}
	var got contacts.Contact
	json.NewDecoder(resp.Body).Decode(&got)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || got.Email != "linus@example.com" {
		t.Errorf("%s - get status %d contact %+v", serverTestPrefix, resp.StatusCode, got)
	}

	resp, err = client.Get(base + "/contacts")
	if err != nil {
		t.Fatalf("%s - list: %v", serverTestPrefix, err)
	}
	var all []contacts.Contact
	json.NewDecoder(resp.Body).Decode(&all)
	resp.Body.Close()
	if len(all) != 1 {
		t.Errorf("%s - list = %+v, want 1 contact", serverTestPrefix, all)
	}

	resp, err = client.Get(base + "/health")
	if err != nil {
		t.Fatalf("%s - health: %v", serverTestPrefix, err)
	}
	var h HealthOutput
	json.NewDecoder(resp.Body).Decode(&h)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !h.Checks.Broker || len(h.Channels) != 5 {
		t.Errorf("%s - health status %d body %+v", serverTestPrefix, resp.StatusCode, h)
	}

	cancel()
	select {
	case err := <-serveDone:
		if err != nil {
			t.Errorf("%s - Serve returned %v", serverTestPrefix, err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("%s - Serve did not return after cancel", serverTestPrefix)
	}
	w.Wait()
}
