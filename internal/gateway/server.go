// Package gateway serves the chat engine over HTTP, Server-Sent Events and
// WebSocket.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/veil/internal/agent"
	"github.com/soyeahso/veil/internal/config"
	"github.com/soyeahso/veil/internal/hooks"
	"github.com/soyeahso/veil/internal/logging"
	"github.com/soyeahso/veil/internal/version"
)

var (
	ErrClientClosed = errors.New("client connection closed")
	ErrUnavailable  = errors.New("chat engine not configured")
	ErrBadFrame     = errors.New("malformed frame")
)

// maxFrameBytes bounds a single inbound WebSocket frame.
const maxFrameBytes = 1 << 20

// Server is the veil HTTP + WebSocket server.
type Server struct {
	cfg     config.ServerConfig
	log     *logging.Logger
	clients *ClientRegistry
	version string

	orch    *agent.Orchestrator
	history agent.HistoryStore
	hooks   *hooks.Manager

	mu         sync.Mutex
	startedAt  time.Time
	listenAddr string
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithOrchestrator sets the engine that answers chat requests.
func WithOrchestrator(o *agent.Orchestrator) ServerOption {
	return func(s *Server) {
		s.orch = o
	}
}

// WithHistory sets the store read by the turns endpoint. It defaults to the
// orchestrator's store.
func WithHistory(h agent.HistoryStore) ServerOption {
	return func(s *Server) {
		s.history = h
	}
}

// WithHooks sets the hook manager for server lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) {
		s.hooks = hm
	}
}

// New creates a server. It does not listen until Start.
func New(cfg config.ServerConfig, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:     cfg,
		log:     log.Sub("gateway"),
		clients: NewClientRegistry(log.Sub("clients")),
		version: version.Version,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.history == nil && s.orch != nil {
		s.history = s.orch.History()
	}
	return s
}

// checkWebSocketOrigin accepts requests without an Origin header (same-origin
// or non-browser clients) and browser requests from an allowed origin.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return isOriginAllowed(origin, allowed)
	}
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.ServerConfig) string {
	switch cfg.Bind {
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.AllowedOrigins)
}

// Start listens and serves until ctx is cancelled, then drains in-flight
// requests for up to 10 seconds.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	// No WriteTimeout: streamed replies last as long as the model does.
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.httpServer = srv
	s.listenAddr = ln.Addr().String()
	s.startedAt = time.Now()
	s.mu.Unlock()

	if s.cfg.Bind == "lan" || s.cfg.Bind == "custom" {
		s.log.Warn().Msg("serving on a non-loopback address without authentication")
	}
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Bind).
		Str("version", s.version).
		Msg("gateway server ready")

	s.hooks.Emit(ctx, hooks.EventServerStart, map[string]any{
		"addr": ln.Addr().String(),
	})

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		s.hooks.Emit(context.Background(), hooks.EventServerStop, nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("graceful shutdown incomplete")
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-stopped
	return nil
}

// Addr returns the address the server listens on, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenAddr
}

// Uptime reports how long the server has been serving.
func (s *Server) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}
