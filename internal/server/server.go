// Package server runs the contacts HTTP gateway and the contacts worker: broker
// transport, rpc clients, optional in-process worker, HTTP API and health.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/morezero/contacts-gateway/internal/config"
	"github.com/morezero/contacts-gateway/pkg/broker"
	"github.com/morezero/contacts-gateway/pkg/codec"
	"github.com/morezero/contacts-gateway/pkg/contacts"
	"github.com/morezero/contacts-gateway/pkg/rpc"
	"github.com/morezero/contacts-gateway/pkg/worker"
)

const logPrefix = "server:server"

// contactsAPI is the part of contacts.Client the HTTP handlers use.
type contactsAPI interface {
	Create(ctx context.Context, in contacts.ContactInput) (*contacts.Contact, error)
	GetByID(ctx context.Context, id string) (*contacts.Contact, error)
	List(ctx context.Context) ([]contacts.Contact, error)
	Update(ctx context.Context, id string, in contacts.ContactInput) (*contacts.Contact, error)
	Delete(ctx context.Context, id string) (string, error)
	Stats() []rpc.Stats
}

// Server is the contacts-gateway orchestrator.
type Server struct {
	cfg        *config.Config
	transport  broker.Transport
	client     *contacts.Client
	api        contactsAPI
	worker     *worker.Worker
	listener   net.Listener
	httpServer *http.Server

	// workerStop ends the in-process worker.
	workerStop context.CancelFunc
}

// SetupLogging installs the default text logger at level (debug, info, warn, error).
func SetupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// Run starts the gateway, blocks until a shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	SetupLogging(cfg.LogLevel)
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting contacts-gateway (broker=%s, codec=%s)", logPrefix, cfg.Broker, cfg.WireCodec))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return s.Serve(ctx)
}

// New connects the transport, starts the contacts client and binds the HTTP listener.
// With BROKER=memory it also starts an in-process worker over an in-memory store.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	c, err := codec.ByName(cfg.WireCodec)
	if err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}

	t, err := openTransport(cfg, roleGateway)
	if err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg, transport: t}

	if cfg.Broker == config.BrokerMemory {
		if err := s.startLocalWorker(ctx); err != nil {
			s.close()
			return nil, err
		}
	}

	s.client = contacts.NewClient(t, contacts.Config{
		Codec:        c,
		PointTimeout: cfg.PointTimeout,
		ListTimeout:  cfg.ListTimeout,
		ReplySuffix:  cfg.ReplySuffix,
	})
	s.api = s.client
	if err := s.client.Start(ctx); err != nil {
		s.close()
		return nil, fmt.Errorf("%s - failed to start contacts client: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Consuming replies on %v", logPrefix, replyChannels(cfg.ReplySuffix)))

	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		s.close()
		return nil, fmt.Errorf("%s - failed to listen on %s: %w", logPrefix, cfg.ListenAddr(), err)
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: s.routes(), ReadHeaderTimeout: cfg.HealthCheckTimeout}
	return s, nil
}

// Addr returns the bound HTTP address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve answers HTTP requests until ctx ends, then shuts down within SHUTDOWN_TIMEOUT.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, s.Addr()))
		if err := s.httpServer.Serve(s.listener); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info(fmt.Sprintf("%s - contacts-gateway is ready", logPrefix))

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info(fmt.Sprintf("%s - Shutting down", logPrefix))
	case serveErr = <-errCh:
		slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
	}
	s.close()

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	if serveErr != nil {
		return fmt.Errorf("%s - HTTP server failed: %w", logPrefix, serveErr)
	}
	return nil
}

func (s *Server) startLocalWorker(ctx context.Context) error {
	w, err := newWorker(s.cfg, s.transport, worker.NewMemoryStore())
	if err != nil {
		return err
	}
	workerCtx, cancel := context.WithCancel(ctx)
	if err := w.Start(workerCtx); err != nil {
		cancel()
		return fmt.Errorf("%s - failed to start in-process worker: %w", logPrefix, err)
	}
	s.worker = w
	s.workerStop = cancel
	slog.Info(fmt.Sprintf("%s - In-process worker started with memory store", logPrefix))
	return nil
}

// close releases everything New acquired, in reverse order.
func (s *Server) close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			slog.Warn(fmt.Sprintf("%s - contacts client close: %v", logPrefix, err))
		}
	}
	if s.workerStop != nil {
		s.workerStop()
		s.worker.Wait()
	}
	if s.listener != nil && s.httpServer == nil {
		s.listener.Close()
	}
	if err := s.transport.Close(); err != nil && !errors.Is(err, broker.ErrClosed) {
		slog.Warn(fmt.Sprintf("%s - transport close: %v", logPrefix, err))
	}
}

func replyChannels(suffix string) []string {
	out := contacts.ReplyChannels()
	for i := range out {
		out[i] += suffix
	}
	return out
}
