package connection

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyClosed = errors.New("already closed")
)

// State describes where a client is in its connection lifecycle.
type State string

const (
	// StateDisconnected means no socket exists; a reconnect attempt may
	// be pending.
	StateDisconnected State = "disconnected"

	// StateConnecting means a dial is in flight.
	StateConnecting State = "connecting"

	// StateOpen means the socket is live and frames flow both ways.
	StateOpen State = "open"

	// StateClosed means Close() was called; the client is terminal.
	StateClosed State = "closed"
)

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., ws://localhost:8080/ws)
	HandshakeTimeout time.Duration // Dial deadline
	WriteTimeout     time.Duration // Write deadline for sends
	PingInterval     time.Duration // Interval between keepalive pings
	PongWait         time.Duration // Max time without a pong before the read fails
	MaxMessageSize   int64         // Read limit per frame (0 = no limit)
	Backoff          Backoff       // Reconnect policy (nil = exponential 1s..30s)
}

// DefaultClientConfig returns sensible defaults. URL must still be set.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		PongWait:         60 * time.Second,
		MaxMessageSize:   512 * 1024,
	}
}

// ClientStats provides counters for a single client.
type ClientStats struct {
	Dials        int64 // Dial attempts, successful or not
	Opens        int64 // Successful opens
	Disconnects  int64 // Closes and errors observed after an open
	Sent         int64 // Frames transmitted
	Received     int64 // Frames dispatched to subscribers
	ParseErrors  int64 // Malformed inbound frames dropped
	HandlerPanic int64 // Subscriber panics recovered during dispatch
}

// SocketURL derives the realtime endpoint from a page origin: http
// becomes ws, https becomes wss, and the path is fixed to /ws.
func SocketURL(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported origin scheme %q", u.Scheme)
	}

	u.Path = "/ws"
	u.RawQuery = ""
	u.Fragment = ""

	return u.String(), nil
}
