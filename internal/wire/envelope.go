package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Errors
var (
	ErrMissingKind   = errors.New("envelope kind is required")
	ErrUnknownKind   = errors.New("unknown message kind")
	ErrPayloadObject = errors.New("payload must encode to a JSON object")
)

// Kind discriminates message variants on the wire.
type Kind string

// Message kinds understood by the hub and the client.
const (
	// KindMessage is the client-side wildcard bucket. Every inbound
	// envelope is delivered to it in addition to its own kind. It never
	// appears as a frame's type on the wire.
	KindMessage Kind = "message"

	KindChat         Kind = "chat"
	KindTyping       Kind = "typing"
	KindPresence     Kind = "presence_update"
	KindJoinChannel  Kind = "join_channel"
	KindLeaveChannel Kind = "leave_channel"
	KindHistory      Kind = "history"

	KindJoinCodingSession  Kind = "join_coding_session"
	KindLeaveCodingSession Kind = "leave_coding_session"
	KindCodeUpdate         Kind = "code_update"
	KindRunCode            Kind = "run_code"
	KindCollaboratorJoined Kind = "collaborator_joined"
	KindCollaboratorLeft   Kind = "collaborator_left"

	KindError Kind = "error"
)

// Envelope is a single frame: its kind plus the raw bytes of the whole
// JSON object. Handlers receive the full envelope and decode the payload
// they care about.
type Envelope struct {
	Kind Kind
	Raw  json.RawMessage
}

// typeProbe extracts the discriminator without a full parse.
type typeProbe struct {
	Type Kind `json:"type"`
}

// Parse interprets raw bytes as an envelope. The frame must be valid
// JSON; a missing or empty "type" is allowed here (the frame still
// reaches wildcard subscribers) and yields a zero Kind.
func Parse(data []byte) (Envelope, error) {
	var probe typeProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	return Envelope{Kind: probe.Type, Raw: append(json.RawMessage(nil), data...)}, nil
}

// Decode unmarshals the envelope's payload fields into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Raw, v)
}

// Marshal builds the flat frame {"type": kind, ...payload}. The payload
// may be nil or anything that encodes to a JSON object; its fields are
// spliced next to the discriminator.
func Marshal(kind Kind, payload any) ([]byte, error) {
	if kind == "" {
		return nil, ErrMissingKind
	}

	fields := make(map[string]json.RawMessage)
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		if err := json.Unmarshal(b, &fields); err != nil {
			return nil, ErrPayloadObject
		}
	}

	kindJSON, err := json.Marshal(string(kind))
	if err != nil {
		return nil, err
	}
	fields["type"] = kindJSON

	return json.Marshal(fields)
}

// New builds an envelope from a kind and payload, round-tripping through
// Marshal so Raw always holds the exact frame bytes.
func New(kind Kind, payload any) (Envelope, error) {
	data, err := Marshal(kind, payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Kind: kind, Raw: data}, nil
}
