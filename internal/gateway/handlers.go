package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/soyeahso/veil/internal/agent"
	"github.com/soyeahso/veil/internal/domain"
	"github.com/soyeahso/veil/internal/llm"
)

const (
	// maxBodyBytes bounds a chat request body.
	maxBodyBytes = 1 << 20

	// statusClientClosedRequest follows the nginx convention for requests
	// abandoned by the caller.
	statusClientClosedRequest = 499
)

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Clients int    `json:"clients"`
	Uptime  string `json:"uptime,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Clients: s.clients.Count(),
	}
	if up := s.Uptime(); up > 0 {
		resp.Uptime = up.Truncate(time.Second).String()
	}
	if s.orch == nil {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorBody{Error: ErrorShape{
		Code:    "not_found",
		Message: "no route for " + r.URL.Path,
	}})
}

// handleChatMessage answers one chat message, as JSON or as an SSE stream
// when the body sets "stream".
func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		s.writeError(w, r, ErrUnavailable)
		return
	}

	var req domain.ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ErrorShape{
			Code:    "invalid_request",
			Message: "invalid JSON body: " + err.Error(),
		}})
		return
	}

	if req.Stream {
		s.streamChat(w, r, req)
		return
	}

	resp, err := s.orch.Chat(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// streamChat relays a streamed reply as SSE: content and tool events while
// the reply is produced, then one done or error event and [DONE].
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req domain.ChatRequest) {
	stream, err := s.orch.ChatStream(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sse := newSSEWriter(w)
	var writeErr error
	for c := range stream.Chunks() {
		if writeErr != nil {
			continue // drain; the request context is already cancelled
		}
		switch c.Type {
		case domain.ChunkContent:
			writeErr = sse.Data(map[string]string{"content": c.Content})
		case domain.ChunkTool:
			writeErr = sse.Event("tool", map[string]string{"tool": c.Content})
		}
	}

	resp, err := stream.Wait()
	if writeErr != nil {
		s.log.Debug().Err(writeErr).Str("requestId", RequestID(r.Context())).Msg("sse client went away")
		return
	}
	if err != nil {
		_, shape := classifyError(err)
		s.logFailure(r, err)
		sse.Event("error", errorBody{Error: shape})
	} else {
		sse.Event("done", resp)
	}
	sse.Done()
}

// handleSessionTurns returns the newest turns of a session, oldest first.
func (s *Server) handleSessionTurns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, r, ErrUnavailable)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: ErrorShape{
				Code:    "invalid_request",
				Message: "limit must be a non-negative integer",
			}})
			return
		}
		limit = n
	}

	id := r.PathValue("id")
	turns, err := s.history.RecentTurns(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if turns == nil {
		turns = []domain.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"turns":      turns,
	})
}

// classifyError maps an engine error to an HTTP status and error body.
func classifyError(err error) (int, ErrorShape) {
	switch {
	case agent.IsInputError(err):
		return http.StatusBadRequest, ErrorShape{Code: "invalid_request", Message: err.Error()}
	case errors.Is(err, agent.ErrMalformedOutput):
		return http.StatusBadGateway, ErrorShape{Code: "malformed_output", Message: err.Error(), Retryable: true}
	case errors.Is(err, agent.ErrModelInvocation):
		return http.StatusBadGateway, ErrorShape{Code: "model_error", Message: err.Error(), Retryable: retryable(err)}
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable, ErrorShape{Code: "unavailable", Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, ErrorShape{Code: "canceled", Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorShape{Code: "timeout", Message: err.Error(), Retryable: true}
	default:
		return http.StatusInternalServerError, ErrorShape{Code: "internal_error", Message: err.Error()}
	}
}

// retryable reports whether a model failure is worth retrying: rate limits,
// provider-side errors and timeouts.
func retryable(err error) bool {
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		return pe.Code == http.StatusTooManyRequests || pe.Code >= 500
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, shape := classifyError(err)
	if status >= 500 {
		s.logFailure(r, err)
	}
	writeJSON(w, status, errorBody{Error: shape})
}

func (s *Server) logFailure(r *http.Request, err error) {
	s.log.Error().Err(err).
		Str("requestId", RequestID(r.Context())).
		Str("path", r.URL.Path).
		Msg("chat request failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
