package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/teamloop/realtime/internal/auth"
	"github.com/teamloop/realtime/internal/hub"
)

// handleWS authenticates the request, upgrades it, and hands the socket
// to the hub.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ident, err := s.identify(r)
	if err != nil {
		s.logger.Warn("rejected upgrade", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	if err := s.deps.Hub.ServeConn(conn, ident); err != nil {
		s.logger.Warn("hub rejected connection", "user", ident.UserID, "error", err)
	}
}

// identify resolves who the connection speaks for. With auth disabled
// every connection gets a guest identity; with auth enabled a missing
// or bad token is fatal.
func (s *Server) identify(r *http.Request) (hub.Identity, error) {
	if s.deps.Auth == nil {
		name := r.URL.Query().Get("user")
		if name == "" {
			name = "guest-" + uuid.NewString()[:8]
		}
		return hub.Identity{UserID: name, DisplayName: name}, nil
	}

	claims, err := s.deps.Auth.Validate(auth.TokenFromRequest(r))
	if err != nil {
		return hub.Identity{}, err
	}
	return hub.Identity{UserID: claims.UserID, DisplayName: claims.DisplayName}, nil
}

// handleHealth reports overall daemon health. Status degrades to
// "unhealthy" (503) when the database is unreachable and to "degraded"
// (200) when the event bridge has lost its broker.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := struct {
		Status     string         `json:"status"`
		Instance   string         `json:"instance,omitempty"`
		Components map[string]any `json:"components"`
	}{
		Status:     "healthy",
		Instance:   s.cfg.InstanceID,
		Components: make(map[string]any),
	}

	if s.deps.DB != nil {
		if err := s.deps.DB.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["postgres"] = "connected"
		}
	}

	if s.deps.Bridge != nil {
		if s.deps.Bridge.Connected() {
			health.Components["bridge"] = "connected"
		} else {
			if health.Status == "healthy" {
				health.Status = "degraded"
			}
			health.Components["bridge"] = "disconnected"
		}
	}

	hubStats := s.deps.Hub.Stats()
	health.Components["hub"] = map[string]any{
		"clients":  hubStats.Clients,
		"channels": hubStats.Channels,
	}

	w.Header().Set("Content-Type", "application/json")
	if health.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(health)
}

// handleStats dumps counters from every running component.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"hub": s.deps.Hub.Stats(),
	}
	if s.deps.Archiver != nil {
		stats["archiver"] = s.deps.Archiver.Stats()
	}
	if s.deps.Bridge != nil {
		stats["bridge"] = s.deps.Bridge.Stats()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
