package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// TokenSupplier returns the access token to present. Transports call it on
// every authentication round instead of caching the result.
type TokenSupplier func() (string, error)

// Dial describes one connection attempt.
type Dial struct {
	URL   string
	Event string
	Token TokenSupplier
}

// DeliverFunc receives the payload of each matching inbound event. Transports
// call it from a single goroutine, in arrival order.
type DeliverFunc func(payload []byte)

// Transport opens live connections.
type Transport interface {
	// Connect blocks until the connection is usable or fails.
	// Cancelling ctx closes the returned connection.
	Connect(ctx context.Context, d Dial, deliver DeliverFunc) (Conn, error)
}

// Conn is an open live connection.
type Conn interface {
	// Done is closed once the connection has ended.
	Done() <-chan struct{}
	// Err is nil after a local Close and the failure otherwise. Valid after Done.
	Err() error
	// Close gracefully ends the connection and waits for it. Idempotent.
	Close() error
}

// TransportError is a connection that failed to start or dropped.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

var ErrUnsupportedScheme = errors.New("unsupported url scheme")

// SchemeTransport picks a transport by the URL scheme of the dial.
type SchemeTransport map[string]Transport

func (m SchemeTransport) Connect(ctx context.Context, d Dial, deliver DeliverFunc) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	t, ok := m[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnsupportedScheme, u.Scheme)
	}
	return t.Connect(ctx, d, deliver)
}

// DefaultTransports routes http(s)/ws(s) URLs to the SignalR hub client and
// MQTT broker URLs to paho.
func DefaultTransports(logger *slog.Logger, mqttClientID string) SchemeTransport {
	signalr := NewSignalRTransport(logger)
	broker := NewMQTTTransport(mqttClientID, logger)
	return SchemeTransport{
		"http":  signalr,
		"https": signalr,
		"ws":    signalr,
		"wss":   signalr,
		"tcp":   broker,
		"mqtt":  broker,
		"ssl":   broker,
		"tls":   broker,
		"mqtts": broker,
	}
}
