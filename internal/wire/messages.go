package wire

import "time"

// Presence status values.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusBusy    = "busy"
	StatusOffline = "offline"
)

// Message is the decoded form of an envelope: one variant per kind.
type Message interface {
	// MessageKind reports which variant this is.
	MessageKind() Kind
}

// ChatPayload is a chat message in a channel. MessageID, Sender, and
// SentAt are stamped by the server; clients send only ChannelID + Text.
type ChatPayload struct {
	MessageID string    `json:"message_id,omitempty"`
	ChannelID string    `json:"channel_id,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at,omitzero"`
}

// TypingPayload signals that a user is typing in a channel. Ephemeral:
// relayed, never archived.
type TypingPayload struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id,omitempty"`
}

// PresencePayload announces a user's presence status.
type PresencePayload struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// JoinChannelPayload subscribes the connection to a chat channel.
type JoinChannelPayload struct {
	ChannelID string `json:"channel_id"`
}

// LeaveChannelPayload unsubscribes the connection from a chat channel.
type LeaveChannelPayload struct {
	ChannelID string `json:"channel_id"`
}

// HistoryPayload replays recent channel messages to a joiner.
type HistoryPayload struct {
	ChannelID string        `json:"channel_id"`
	Messages  []ChatPayload `json:"messages"`
}

// JoinCodingSessionPayload enters a collaborative coding session.
type JoinCodingSessionPayload struct {
	SessionID string `json:"session_id"`
	Username  string `json:"username,omitempty"`
}

// LeaveCodingSessionPayload exits a collaborative coding session.
type LeaveCodingSessionPayload struct {
	SessionID string `json:"session_id"`
}

// CodeUpdatePayload carries an editor state change to session peers.
type CodeUpdatePayload struct {
	SessionID string `json:"session_id"`
	Language  string `json:"language,omitempty"`
	Code      string `json:"code"`
}

// RunCodePayload asks session peers to run the current buffer. The
// gateway relays it; execution happens elsewhere.
type RunCodePayload struct {
	SessionID string `json:"session_id"`
	Language  string `json:"language,omitempty"`
	Code      string `json:"code"`
}

// CollaboratorJoinedPayload announces a peer entering a session.
type CollaboratorJoinedPayload struct {
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
}

// CollaboratorLeftPayload announces a peer leaving a session.
type CollaboratorLeftPayload struct {
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
}

// ErrorPayload reports a per-request failure back to one client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (ChatPayload) MessageKind() Kind               { return KindChat }
func (TypingPayload) MessageKind() Kind             { return KindTyping }
func (PresencePayload) MessageKind() Kind           { return KindPresence }
func (JoinChannelPayload) MessageKind() Kind        { return KindJoinChannel }
func (LeaveChannelPayload) MessageKind() Kind       { return KindLeaveChannel }
func (HistoryPayload) MessageKind() Kind            { return KindHistory }
func (JoinCodingSessionPayload) MessageKind() Kind  { return KindJoinCodingSession }
func (LeaveCodingSessionPayload) MessageKind() Kind { return KindLeaveCodingSession }
func (CodeUpdatePayload) MessageKind() Kind         { return KindCodeUpdate }
func (RunCodePayload) MessageKind() Kind            { return KindRunCode }
func (CollaboratorJoinedPayload) MessageKind() Kind { return KindCollaboratorJoined }
func (CollaboratorLeftPayload) MessageKind() Kind   { return KindCollaboratorLeft }
func (ErrorPayload) MessageKind() Kind              { return KindError }

// Decode turns an envelope into its typed variant. Unknown kinds return
// ErrUnknownKind so callers can preserve the ignore-unknown fallback.
func Decode(env Envelope) (Message, error) {
	switch env.Kind {
	case KindChat:
		var p ChatPayload
		return p, env.Decode(&p)
	case KindTyping:
		var p TypingPayload
		return p, env.Decode(&p)
	case KindPresence:
		var p PresencePayload
		return p, env.Decode(&p)
	case KindJoinChannel:
		var p JoinChannelPayload
		return p, env.Decode(&p)
	case KindLeaveChannel:
		var p LeaveChannelPayload
		return p, env.Decode(&p)
	case KindHistory:
		var p HistoryPayload
		return p, env.Decode(&p)
	case KindJoinCodingSession:
		var p JoinCodingSessionPayload
		return p, env.Decode(&p)
	case KindLeaveCodingSession:
		var p LeaveCodingSessionPayload
		return p, env.Decode(&p)
	case KindCodeUpdate:
		var p CodeUpdatePayload
		return p, env.Decode(&p)
	case KindRunCode:
		var p RunCodePayload
		return p, env.Decode(&p)
	case KindCollaboratorJoined:
		var p CollaboratorJoinedPayload
		return p, env.Decode(&p)
	case KindCollaboratorLeft:
		var p CollaboratorLeftPayload
		return p, env.Decode(&p)
	case KindError:
		var p ErrorPayload
		return p, env.Decode(&p)
	}
	return nil, ErrUnknownKind
}
