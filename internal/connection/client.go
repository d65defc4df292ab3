package connection

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teamloop/realtime/internal/wire"
)

// Handler receives an inbound envelope. Handlers run on the connection's
// read goroutine and are never invoked concurrently with each other.
type Handler func(env wire.Envelope)

// Client owns at most one live WebSocket connection to the realtime
// gateway and dispatches inbound envelopes to subscribers.
type Client interface {
	// Connect dials the endpoint. No-op if a connection is already open
	// or being opened; idempotent under repeated calls. The dial runs in
	// the background: a failure schedules a reconnect attempt, exactly
	// like a post-connection close.
	Connect()

	// Send serializes {type, ...payload} as a single text frame and
	// transmits it. Returns ErrNotConnected if no socket is open;
	// nothing is queued while disconnected.
	Send(kind wire.Kind, payload any) error

	// Subscribe registers a handler for a message kind and returns its
	// unsubscribe handle. Handlers on the wire.KindMessage bucket
	// receive every inbound envelope regardless of kind.
	Subscribe(kind wire.Kind, h Handler) (unsubscribe func())

	// Close tears down the socket, cancels any pending reconnect, and
	// clears all subscriptions. The client is terminal afterwards; a
	// repeated Close returns ErrAlreadyClosed.
	Close() error

	// State reports the current lifecycle state.
	State() State

	// IsConnected reports whether a socket is open.
	IsConnected() bool

	// Stats returns current counters.
	Stats() ClientStats
}

// client implements the Client interface.
type client struct {
	cfg     ClientConfig
	logger  *slog.Logger
	backoff Backoff

	// Write serialization
	writeMu sync.Mutex

	// State. gen invalidates goroutines belonging to a previous socket.
	mu         sync.Mutex
	conn       *websocket.Conn
	state      State
	gen        uint64
	closed     bool
	retryTimer *time.Timer
	subs       map[wire.Kind]map[int]Handler
	nextSubID  int
	stats      ClientStats
}

// NewClient creates a realtime client. It does not dial until Connect.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = NewExponential(time.Second, 30*time.Second)
	}

	return &client{
		cfg:     cfg,
		logger:  logger,
		backoff: backoff,
		state:   StateDisconnected,
		subs:    make(map[wire.Kind]map[int]Handler),
	}
}

// Connect dials the endpoint in the background.
func (c *client) Connect() {
	c.mu.Lock()
	if c.closed || c.state == StateOpen || c.state == StateConnecting {
		c.mu.Unlock()
		return
	}
	// An explicit Connect supersedes a pending reconnect attempt.
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.dial(gen)
}

// dial performs the blocking handshake off the caller's goroutine.
func (c *client) dial(gen uint64) {
	c.mu.Lock()
	c.stats.Dials++
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.Dial(c.cfg.URL, nil)

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		// Construction failure is treated like a post-connection close:
		// same reconnect path.
		c.state = StateDisconnected
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.logger.Warn("dial failed", "url", c.cfg.URL, "error", err)
		return
	}

	c.conn = conn
	c.state = StateOpen
	c.stats.Opens++
	c.backoff.Reset()
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.mu.Unlock()

	if c.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(c.cfg.MaxMessageSize)
	}
	if c.cfg.PongWait > 0 {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		})
	}

	go c.readLoop(conn, gen)
	if c.cfg.PingInterval > 0 {
		go c.pingLoop(conn, gen)
	}

	c.logger.Debug("websocket connected", "url", c.cfg.URL)
}

// Send writes one text frame to the connection.
func (c *client) Send(kind wire.Kind, payload any) error {
	frame, err := wire.Marshal(kind, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		c.logger.Error("send while disconnected", "kind", kind)
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	c.mu.Lock()
	c.stats.Sent++
	c.mu.Unlock()
	return nil
}

// Subscribe registers a handler against a kind bucket.
func (c *client) Subscribe(kind wire.Kind, h Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++

	bucket, ok := c.subs[kind]
	if !ok {
		bucket = make(map[int]Handler)
		c.subs[kind] = bucket
	}
	bucket[id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if bucket, ok := c.subs[kind]; ok {
			delete(bucket, id)
			if len(bucket) == 0 {
				delete(c.subs, kind)
			}
		}
	}
}

// Close tears everything down.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.closed = true
	c.state = StateClosed
	c.gen++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.subs = make(map[wire.Kind]map[int]Handler)
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return conn.Close()
	}
	return nil
}

// State returns the current lifecycle state.
func (c *client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether a socket is open.
func (c *client) IsConnected() bool {
	return c.State() == StateOpen
}

// Stats returns current counters.
func (c *client) Stats() ClientStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// readLoop reads frames until the socket fails, then hands off to the
// reconnect path. All dispatch happens here, so handlers never overlap.
func (c *client) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(gen, err)
			return
		}

		env, perr := wire.Parse(data)
		if perr != nil {
			c.mu.Lock()
			c.stats.ParseErrors++
			c.mu.Unlock()
			c.logger.Warn("dropping malformed frame", "error", perr)
			continue
		}

		c.dispatch(env)
	}
}

// dispatch invokes the kind's subscribers, then the wildcard bucket.
func (c *client) dispatch(env wire.Envelope) {
	c.mu.Lock()
	c.stats.Received++
	handlers := make([]Handler, 0, 4)
	if env.Kind != "" && env.Kind != wire.KindMessage {
		for _, h := range c.subs[env.Kind] {
			handlers = append(handlers, h)
		}
	}
	for _, h := range c.subs[wire.KindMessage] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		c.invoke(h, env)
	}
}

// invoke isolates subscriber panics so one bad handler cannot starve the
// rest of the bucket.
func (c *client) invoke(h Handler, env wire.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			c.mu.Lock()
			c.stats.HandlerPanic++
			c.mu.Unlock()
			c.logger.Error("subscriber panicked", "kind", env.Kind, "panic", r)
		}
	}()
	h(env)
}

// pingLoop keeps the socket alive with control pings. It exits as soon
// as its generation is stale.
func (c *client) pingLoop(conn *websocket.Conn, gen uint64) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		stale := c.closed || gen != c.gen
		c.mu.Unlock()
		if stale {
			return
		}

		deadline := time.Now().Add(c.cfg.WriteTimeout)
		if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			c.logger.Debug("failed to send ping", "error", err)
			return
		}
	}
}

// handleDisconnect moves the client back to Disconnected and schedules
// the next attempt, unless Close happened or a newer socket took over.
func (c *client) handleDisconnect(gen uint64, err error) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	c.stats.Disconnects++
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	c.logger.Warn("connection lost", "error", err)
}

// scheduleReconnectLocked arms the reconnect timer. At most one timer is
// pending at any time; callers hold c.mu.
func (c *client) scheduleReconnectLocked() {
	if c.closed || c.retryTimer != nil {
		return
	}
	wait := c.backoff.Next()
	c.retryTimer = time.AfterFunc(wait, c.retryConnect)
	c.logger.Debug("reconnect scheduled", "wait", wait)
}

// retryConnect fires when the reconnect timer elapses.
func (c *client) retryConnect() {
	c.mu.Lock()
	c.retryTimer = nil
	if c.closed || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.dial(gen)
}
