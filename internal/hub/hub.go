package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teamloop/realtime/internal/wire"
)

// frame is one inbound envelope with its origin.
type frame struct {
	sess *session
	env  wire.Envelope
}

// handlerFunc processes one inbound envelope on the run loop.
type handlerFunc func(s *session, env wire.Envelope)

// Hub owns the client set and all room membership.
type Hub struct {
	cfg      Config
	logger   *slog.Logger
	presence PresenceTracker
	archive  Archive
	replay   Replayer
	events   EventSink

	register   chan *session
	unregister chan *session
	inbound    chan frame

	// Run-loop-owned state.
	clients  map[*session]struct{}
	channels map[string]map[*session]struct{}
	coding   map[string]map[*session]struct{}

	handlers map[wire.Kind]handlerFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
}

// NewHub creates a hub. Nil Deps fields disable the matching behavior.
func NewHub(cfg Config, deps Deps, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Hub{
		cfg:        cfg,
		logger:     logger,
		presence:   deps.Presence,
		archive:    deps.Archive,
		replay:     deps.Replay,
		events:     deps.Events,
		register:   make(chan *session),
		unregister: make(chan *session),
		inbound:    make(chan frame, 256),
		clients:    make(map[*session]struct{}),
		channels:   make(map[string]map[*session]struct{}),
		coding:     make(map[string]map[*session]struct{}),
	}

	h.handlers = map[wire.Kind]handlerFunc{
		wire.KindChat:               h.handleChat,
		wire.KindTyping:             h.handleTyping,
		wire.KindPresence:           h.handlePresence,
		wire.KindJoinChannel:        h.handleJoinChannel,
		wire.KindLeaveChannel:       h.handleLeaveChannel,
		wire.KindJoinCodingSession:  h.handleJoinCoding,
		wire.KindLeaveCodingSession: h.handleLeaveCoding,
		wire.KindCodeUpdate:         h.handleSessionRelay,
		wire.KindRunCode:            h.handleSessionRelay,
	}

	return h
}

// Start begins the run loop.
func (h *Hub) Start(ctx context.Context) error {
	h.ctx, h.cancel = context.WithCancel(ctx)

	h.wg.Add(1)
	go h.run()

	h.logger.Info("hub started",
		"send_buffer", h.cfg.SendBuffer,
		"history_limit", h.cfg.HistoryLimit,
	)
	return nil
}

// Stop shuts the run loop down and closes every client.
func (h *Hub) Stop(ctx context.Context) error {
	h.logger.Info("stopping hub")

	if h.cancel != nil {
		h.cancel()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub stopped")
	case <-ctx.Done():
		h.logger.Warn("hub stop timed out")
	}

	return nil
}

// ServeConn hands an upgraded connection to the hub and starts its
// pumps. The connection is closed if the hub is not running.
func (h *Hub) ServeConn(conn *websocket.Conn, ident Identity) error {
	s := &session{
		id:       uuid.NewString(),
		ident:    ident,
		conn:     conn,
		send:     make(chan []byte, h.cfg.SendBuffer),
		done:     make(chan struct{}),
		channels: make(map[string]struct{}),
		coding:   make(map[string]struct{}),
	}

	select {
	case h.register <- s:
	case <-h.ctx.Done():
		conn.Close()
		return ErrNotRunning
	}

	h.wg.Add(2)
	go h.readPump(s)
	go h.writePump(s)
	return nil
}

// Stats returns current statistics.
func (h *Hub) Stats() Stats {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	return h.stats
}

// run is the hub's single owner goroutine.
func (h *Hub) run() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			return

		case s := <-h.register:
			h.clients[s] = struct{}{}
			if h.presence != nil {
				h.presence.Connected(s.ident.UserID)
			}
			h.logger.Debug("client registered", "client", s.id, "user", s.ident.UserID)
			h.updateCounts()

		case s := <-h.unregister:
			h.removeSession(s)
			h.updateCounts()

		case f := <-h.inbound:
			h.statsMu.Lock()
			h.stats.Inbound++
			h.statsMu.Unlock()
			h.dispatch(f)
			h.updateCounts()
		}
	}
}

// dispatch routes one envelope through the typed handler registry.
func (h *Hub) dispatch(f frame) {
	if _, ok := h.clients[f.sess]; !ok {
		return
	}

	handler, ok := h.handlers[f.env.Kind]
	if !ok {
		h.statsMu.Lock()
		h.stats.Unknown++
		h.statsMu.Unlock()
		h.logger.Debug("skipping message kind", "kind", f.env.Kind)
		return
	}
	handler(f.sess, f.env)
}

// unregisterSession routes a dead session back to the run loop.
func (h *Hub) unregisterSession(s *session) {
	select {
	case h.unregister <- s:
	case <-h.ctx.Done():
		s.close()
	}
}

// removeSession clears every trace of a session. Run loop only.
func (h *Hub) removeSession(s *session) {
	if _, ok := h.clients[s]; !ok {
		return
	}
	delete(h.clients, s)

	for ch := range s.channels {
		h.leaveRoom(h.channels, ch, s)
	}
	for cs := range s.coding {
		h.leaveRoom(h.coding, cs, s)
		h.notifyCollaborators(cs, s, wire.KindCollaboratorLeft)
	}

	if h.presence != nil {
		h.presence.Disconnected(s.ident.UserID)
	}

	s.close()
	h.logger.Debug("client unregistered", "client", s.id, "user", s.ident.UserID)
}

// joinRoom adds a session to a named room.
func (h *Hub) joinRoom(rooms map[string]map[*session]struct{}, name string, s *session) {
	members, ok := rooms[name]
	if !ok {
		members = make(map[*session]struct{})
		rooms[name] = members
	}
	members[s] = struct{}{}
}

// leaveRoom removes a session from a named room, deleting empty rooms.
func (h *Hub) leaveRoom(rooms map[string]map[*session]struct{}, name string, s *session) {
	members, ok := rooms[name]
	if !ok {
		return
	}
	delete(members, s)
	if len(members) == 0 {
		delete(rooms, name)
	}
}

// members snapshots a room so delivery can drop slow clients without
// mutating the map mid-iteration.
func (h *Hub) members(rooms map[string]map[*session]struct{}, name string) []*session {
	set := rooms[name]
	out := make([]*session, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

// deliver enqueues a frame for one client, dropping the client if its
// buffer is full.
func (h *Hub) deliver(s *session, frame []byte) {
	if s.enqueue(frame) {
		return
	}

	h.statsMu.Lock()
	h.stats.SlowDrops++
	h.statsMu.Unlock()
	h.logger.Warn("send buffer full, dropping client", "client", s.id, "user", s.ident.UserID)
	h.removeSession(s)
}

// broadcast delivers a frame to every member of a room, optionally
// skipping the sender.
func (h *Hub) broadcast(rooms map[string]map[*session]struct{}, name string, frame []byte, skip *session) {
	for _, member := range h.members(rooms, name) {
		if member == skip {
			continue
		}
		h.deliver(member, frame)
	}
}

// closeAll tears down every client. Run loop only, on shutdown.
func (h *Hub) closeAll() {
	for s := range h.clients {
		s.close()
	}
	h.clients = make(map[*session]struct{})
	h.channels = make(map[string]map[*session]struct{})
	h.coding = make(map[string]map[*session]struct{})
	h.updateCounts()
}

// updateCounts publishes run-loop state into the stats snapshot.
func (h *Hub) updateCounts() {
	h.statsMu.Lock()
	h.stats.Clients = len(h.clients)
	h.stats.Channels = len(h.channels)
	h.stats.CodingSessions = len(h.coding)
	h.statsMu.Unlock()
}
