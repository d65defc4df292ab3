package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/teamloop/realtime/internal/wire"
)

// Entry is one user's presence as seen by the registry.
type Entry struct {
	UserID   string    `json:"user_id"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

// Registry is an in-memory presence table. A user may hold several
// connections at once; they go offline when the last one drops.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	users map[string]Entry
	conns map[string]int // userID → live connection count
}

// NewRegistry creates an empty presence registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		users:  make(map[string]Entry),
		conns:  make(map[string]int),
	}
}

// Connected records a new connection for the user. The first connection
// flips them online unless they already advertise a richer status.
func (r *Registry) Connected(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[userID]++

	e, ok := r.users[userID]
	if !ok || e.Status == wire.StatusOffline {
		e.Status = wire.StatusOnline
	}
	e.UserID = userID
	e.LastSeen = time.Now().UTC()
	r.users[userID] = e
}

// Disconnected records a dropped connection. The user goes offline when
// no connections remain.
func (r *Registry) Disconnected(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conns[userID] > 0 {
		r.conns[userID]--
	}
	if r.conns[userID] > 0 {
		return
	}
	delete(r.conns, userID)

	e, ok := r.users[userID]
	if !ok {
		return
	}
	e.Status = wire.StatusOffline
	e.LastSeen = time.Now().UTC()
	r.users[userID] = e
}

// Update applies a status advertised by the user themselves.
func (r *Registry) Update(userID, status string) {
	switch status {
	case wire.StatusOnline, wire.StatusAway, wire.StatusBusy, wire.StatusOffline:
	default:
		r.logger.Debug("ignoring unknown presence status", "user", userID, "status", status)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.users[userID]
	e.UserID = userID
	e.Status = status
	e.LastSeen = time.Now().UTC()
	r.users[userID] = e
}

// Snapshot returns every known user's presence, ordered by user ID.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	entries := lo.MapToSlice(r.users, func(_ string, e Entry) Entry { return e })
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
	return entries
}

// Online returns how many users are currently not offline.
func (r *Registry) Online() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.users {
		if e.Status != wire.StatusOffline {
			n++
		}
	}
	return n
}
