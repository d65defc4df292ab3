package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teamloop/realtime/internal/wire"
)

// session is one connected client. The channels and coding maps are
// owned by the hub's run loop; everything else is pump-local.
type session struct {
	id    string
	ident Identity
	conn  *websocket.Conn

	send chan []byte
	done chan struct{}

	closeOnce sync.Once

	channels map[string]struct{}
	coding   map[string]struct{}
}

// enqueue offers a frame to the client's send buffer. Returns false if
// the client is gone or the buffer is full; it never blocks.
func (s *session) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- frame:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

// close releases the connection. Safe to call from any goroutine.
func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// readPump reads frames off the socket and hands them to the run loop.
// It owns the read side: deadlines, limits, and pong handling.
func (h *Hub) readPump(s *session) {
	defer h.wg.Done()
	defer h.unregisterSession(s)

	conn := s.conn
	if h.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		env, perr := wire.Parse(data)
		if perr != nil {
			h.statsMu.Lock()
			h.stats.ParseErrors++
			h.statsMu.Unlock()
			h.logger.Warn("dropping malformed frame", "client", s.id, "error", perr)
			continue
		}

		select {
		case h.inbound <- frame{sess: s, env: env}:
		case <-h.ctx.Done():
			return
		}
	}
}

// writePump drains the send buffer onto the socket and keeps the
// connection alive with pings.
func (h *Hub) writePump(s *session) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	defer s.close()

	conn := s.conn
	for {
		select {
		case <-s.done:
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			return

		case data := <-s.send:
			conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
