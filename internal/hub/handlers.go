package hub

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/teamloop/realtime/internal/bridge"
	"github.com/teamloop/realtime/internal/wire"
)

// handleChat stamps a chat message with its server identity and fans it
// out to the channel. Senders need not be members; the echo back to the
// sender carries the authoritative stamp. Receiving requires membership.
func (h *Hub) handleChat(s *session, env wire.Envelope) {
	var p wire.ChatPayload
	if err := env.Decode(&p); err != nil {
		h.sendError(s, "bad_payload", "chat payload could not be decoded")
		return
	}
	if p.ChannelID == "" {
		h.sendError(s, "missing_channel", "channel_id is required")
		return
	}

	p.MessageID = uuid.NewString()
	p.Sender = s.ident.UserID
	p.SentAt = time.Now().UTC()

	out, err := wire.New(wire.KindChat, p)
	if err != nil {
		h.logger.Error("failed to build chat frame", "error", err)
		return
	}

	echoed := false
	for _, member := range h.members(h.channels, p.ChannelID) {
		if member == s {
			echoed = true
		}
		h.deliver(member, out.Raw)
	}
	if !echoed {
		h.deliver(s, out.Raw)
	}

	if h.archive != nil {
		h.archive.Enqueue(p)
	}
	h.publishEvent(bridge.Event{
		ID:         p.MessageID,
		Kind:       string(wire.KindChat),
		Channel:    p.ChannelID,
		User:       p.Sender,
		OccurredAt: p.SentAt,
		Body:       out.Raw,
	})
}

// handleTyping relays a typing signal to channel members excluding the
// sender. Never archived.
func (h *Hub) handleTyping(s *session, env wire.Envelope) {
	var p wire.TypingPayload
	if err := env.Decode(&p); err != nil || p.ChannelID == "" {
		return
	}
	p.UserID = s.ident.UserID

	out, err := wire.New(wire.KindTyping, p)
	if err != nil {
		return
	}
	h.broadcast(h.channels, p.ChannelID, out.Raw, s)
}

// handlePresence applies a status change and announces it to everyone.
func (h *Hub) handlePresence(s *session, env wire.Envelope) {
	var p wire.PresencePayload
	if err := env.Decode(&p); err != nil {
		h.sendError(s, "bad_payload", "presence payload could not be decoded")
		return
	}
	p.UserID = s.ident.UserID

	if h.presence != nil {
		h.presence.Update(p.UserID, p.Status)
	}

	out, err := wire.New(wire.KindPresence, p)
	if err != nil {
		return
	}
	for _, member := range h.allClients() {
		h.deliver(member, out.Raw)
	}
}

// handleJoinChannel subscribes the connection to a chat channel and
// replays recent history to the joiner.
func (h *Hub) handleJoinChannel(s *session, env wire.Envelope) {
	var p wire.JoinChannelPayload
	if err := env.Decode(&p); err != nil || p.ChannelID == "" {
		h.sendError(s, "missing_channel", "channel_id is required")
		return
	}

	h.joinRoom(h.channels, p.ChannelID, s)
	s.channels[p.ChannelID] = struct{}{}

	if h.replay != nil {
		// Off the run loop: the database must never stall dispatch.
		go h.replayHistory(s, p.ChannelID)
	}
}

// handleLeaveChannel unsubscribes the connection from a chat channel.
func (h *Hub) handleLeaveChannel(s *session, env wire.Envelope) {
	var p wire.LeaveChannelPayload
	if err := env.Decode(&p); err != nil || p.ChannelID == "" {
		return
	}

	h.leaveRoom(h.channels, p.ChannelID, s)
	delete(s.channels, p.ChannelID)
}

// handleJoinCoding enters a collaborative coding session: peers learn
// about the joiner, the joiner gets the current presence picture.
func (h *Hub) handleJoinCoding(s *session, env wire.Envelope) {
	var p wire.JoinCodingSessionPayload
	if err := env.Decode(&p); err != nil || p.SessionID == "" {
		h.sendError(s, "missing_session", "session_id is required")
		return
	}

	h.joinRoom(h.coding, p.SessionID, s)
	s.coding[p.SessionID] = struct{}{}

	h.notifyCollaborators(p.SessionID, s, wire.KindCollaboratorJoined)

	if h.presence != nil {
		for _, e := range h.presence.Snapshot() {
			if e.Status == wire.StatusOffline {
				continue
			}
			out, err := wire.New(wire.KindPresence, wire.PresencePayload{
				UserID: e.UserID,
				Status: e.Status,
			})
			if err != nil {
				continue
			}
			h.deliver(s, out.Raw)
		}
	}
}

// handleLeaveCoding exits a coding session.
func (h *Hub) handleLeaveCoding(s *session, env wire.Envelope) {
	var p wire.LeaveCodingSessionPayload
	if err := env.Decode(&p); err != nil || p.SessionID == "" {
		return
	}
	if _, ok := s.coding[p.SessionID]; !ok {
		return
	}

	h.leaveRoom(h.coding, p.SessionID, s)
	delete(s.coding, p.SessionID)

	h.notifyCollaborators(p.SessionID, s, wire.KindCollaboratorLeft)
}

// handleSessionRelay forwards code_update and run_code frames verbatim
// to the session's other members. The hub is a relay: it never executes
// anything.
func (h *Hub) handleSessionRelay(s *session, env wire.Envelope) {
	var ref struct {
		SessionID string `json:"session_id"`
	}
	if err := env.Decode(&ref); err != nil || ref.SessionID == "" {
		return
	}

	h.broadcast(h.coding, ref.SessionID, env.Raw, s)
}

// notifyCollaborators emits collaborator_joined/collaborator_left to the
// session's other members.
func (h *Hub) notifyCollaborators(sessionID string, s *session, kind wire.Kind) {
	username := s.ident.DisplayName
	if username == "" {
		username = s.ident.UserID
	}

	var payload any
	switch kind {
	case wire.KindCollaboratorJoined:
		payload = wire.CollaboratorJoinedPayload{SessionID: sessionID, Username: username}
	case wire.KindCollaboratorLeft:
		payload = wire.CollaboratorLeftPayload{SessionID: sessionID, Username: username}
	default:
		return
	}

	out, err := wire.New(kind, payload)
	if err != nil {
		return
	}
	h.broadcast(h.coding, sessionID, out.Raw, s)

	h.publishEvent(bridge.Event{
		ID:         uuid.NewString(),
		Kind:       string(kind),
		Session:    sessionID,
		User:       s.ident.UserID,
		OccurredAt: time.Now().UTC(),
		Body:       out.Raw,
	})
}

// replayHistory queries recent messages and sends them to the joiner as
// a single history envelope. Runs off the run loop.
func (h *Hub) replayHistory(s *session, channelID string) {
	ctx, cancel := context.WithTimeout(h.ctx, h.cfg.ReplayTimeout)
	defer cancel()

	msgs, err := h.replay.Recent(ctx, channelID, h.cfg.HistoryLimit)
	if err != nil {
		h.logger.Error("history replay failed", "channel", channelID, "error", err)
		return
	}
	if msgs == nil {
		msgs = []wire.ChatPayload{}
	}

	out, err := wire.New(wire.KindHistory, wire.HistoryPayload{
		ChannelID: channelID,
		Messages:  msgs,
	})
	if err != nil {
		return
	}
	s.enqueue(out.Raw)
}

// sendError reports a per-request failure back to one client.
func (h *Hub) sendError(s *session, code, message string) {
	out, err := wire.New(wire.KindError, wire.ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	s.enqueue(out.Raw)
}

// publishEvent hands an event to the bridge when one is configured.
func (h *Hub) publishEvent(ev bridge.Event) {
	if h.events == nil {
		return
	}
	h.events.Publish(ev)
}

// allClients snapshots the client set for a global broadcast.
func (h *Hub) allClients() []*session {
	out := make([]*session, 0, len(h.clients))
	for s := range h.clients {
		out = append(out, s)
	}
	return out
}
