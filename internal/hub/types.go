package hub

import (
	"context"
	"errors"
	"time"

	"github.com/teamloop/realtime/internal/bridge"
	"github.com/teamloop/realtime/internal/presence"
	"github.com/teamloop/realtime/internal/wire"
)

// Errors
var (
	ErrNotRunning = errors.New("hub not running")
)

// Config configures hub behavior.
type Config struct {
	SendBuffer     int           // Per-client outbound buffer (frames)
	MaxMessageSize int64         // Read limit per inbound frame
	WriteTimeout   time.Duration // Write deadline per frame
	PingInterval   time.Duration // Interval between keepalive pings
	PongWait       time.Duration // Max silence before a client is considered dead
	HistoryLimit   int           // Messages replayed on join_channel
	ReplayTimeout  time.Duration // Deadline for a history query
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SendBuffer:     256,
		MaxMessageSize: 512 * 1024,
		WriteTimeout:   5 * time.Second,
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		HistoryLimit:   50,
		ReplayTimeout:  5 * time.Second,
	}
}

// Identity is who a connection speaks for.
type Identity struct {
	UserID      string
	DisplayName string
}

// Archive receives stamped chat messages for persistence.
type Archive interface {
	Enqueue(msg wire.ChatPayload) bool
}

// Replayer loads recent channel history for joiners.
type Replayer interface {
	Recent(ctx context.Context, channelID string, limit int) ([]wire.ChatPayload, error)
}

// EventSink receives chat and session events for outbound fan-out.
type EventSink interface {
	Publish(ev bridge.Event) bool
}

// Deps are the hub's optional collaborators. Nil fields disable the
// corresponding behavior: no archive means relay-only chat, no replayer
// means join_channel replays nothing.
type Deps struct {
	Presence PresenceTracker
	Archive  Archive
	Replay   Replayer
	Events   EventSink
}

// PresenceTracker follows connection lifecycle and status updates.
type PresenceTracker interface {
	Connected(userID string)
	Disconnected(userID string)
	Update(userID, status string)
	Snapshot() []presence.Entry
}

// Stats provides hub statistics.
type Stats struct {
	Clients        int
	Channels       int
	CodingSessions int
	Inbound        int64
	Unknown        int64
	ParseErrors    int64
	SlowDrops      int64
}
