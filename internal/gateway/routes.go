package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /api/v2/chat/message", s.handleChatMessage)
	mux.HandleFunc("GET /api/v2/chat/sessions/{id}/turns", s.handleSessionTurns)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}
