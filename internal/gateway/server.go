package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/teamloop/realtime/internal/auth"
	"github.com/teamloop/realtime/internal/bridge"
	"github.com/teamloop/realtime/internal/history"
	"github.com/teamloop/realtime/internal/hub"
)

// Config configures the gateway HTTP server.
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string // empty = same-origin only
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	InstanceID     string
}

// ConnHandler accepts upgraded connections. Satisfied by hub.Hub.
type ConnHandler interface {
	ServeConn(conn *websocket.Conn, ident hub.Identity) error
	Stats() hub.Stats
}

// TokenValidator checks upgrade tokens. Satisfied by auth.Authenticator.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// Pinger reports storage health. Satisfied by pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ArchiveStats exposes archiver counters for /debug/stats.
type ArchiveStats interface {
	Stats() history.ArchiverStats
}

// BridgeStats exposes event bridge state for health and stats output.
type BridgeStats interface {
	Stats() bridge.Stats
	Connected() bool
}

// Deps are the gateway's collaborators. Hub is required; nil optional
// fields disable the matching check or stats section.
type Deps struct {
	Hub      ConnHandler
	Auth     TokenValidator // nil = all connections admitted as guests
	DB       Pinger         // nil = no database health check
	Archiver ArchiveStats
	Bridge   BridgeStats
}

// Server serves the WebSocket upgrade and operational endpoints.
type Server struct {
	cfg      Config
	deps     Deps
	logger   *slog.Logger
	router   *chi.Mux
	http     *http.Server
	upgrader websocket.Upgrader
}

// NewServer builds a gateway server around a hub.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(s.logger))

	r.Get("/ws", s.handleWS)
	r.Get("/healthz", s.handleHealth)
	r.Get("/debug/stats", s.handleStats)

	return r
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving and blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("gateway listening", "addr", addr)
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// checkOrigin admits requests with no Origin header (non-browser
// clients) and browsers from the configured origins. An empty allow
// list falls back to gorilla's same-origin default.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(s.cfg.AllowedOrigins) == 0 {
		// Same-origin check, as the default upgrader would do.
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
