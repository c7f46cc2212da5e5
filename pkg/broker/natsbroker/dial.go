package natsbroker

import (
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"
)

// Dial connects to url as name and wraps the connection in a Broker that owns it.
// Closing the Broker drains the connection.
func Dial(url, name string, cfg Config) (*Broker, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to COMMS at %s as %s (queue group %q)", logPrefix, url, name, cfg.QueueGroup))

	nc, err := comms.Connect(url, dialOptions(name, cfg)...)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect %s to COMMS: %w", logPrefix, name, err)
	}

	slog.Info(fmt.Sprintf("%s - %s connected to COMMS at %s", logPrefix, name, nc.ConnectedUrl()))
	b := New(nc, cfg)
	b.owned = true
	return b, nil
}

func dialOptions(name string, cfg Config) []comms.Option {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	wait := cfg.ReconnectWait
	if wait <= 0 {
		wait = defaultReconnectWait
	}
	maxReconnects := cfg.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = defaultMaxReconnects
	}

	return []comms.Option{
		comms.Name(name),
		comms.Timeout(timeout),
		comms.ReconnectWait(wait),
		comms.MaxReconnects(maxReconnects),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			// In-flight rpc calls on this connection will time out.
			slog.Warn(fmt.Sprintf("%s - %s disconnected from COMMS: %v", logPrefix, name, err))
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - %s reconnected to %s", logPrefix, name, nc.ConnectedUrl()))
		}),
		comms.ClosedHandler(func(_ *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - %s connection closed", logPrefix, name))
		}),
	}
}
