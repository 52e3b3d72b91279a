package gateway

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/veil/internal/domain"
)

// handleWebSocket upgrades HTTP to WebSocket and runs the connection loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	client := NewClient(r.Context(), conn, s.log.Sub("ws"))
	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	s.readLoop(client)
}

// readLoop processes incoming frames until the connection fails or closes.
// Chat requests run concurrently; frames of different requests may
// interleave and are told apart by id.
func (s *Server) readLoop(client *Client) {
	for {
		frame, err := client.ReadFrame()
		if errors.Is(err, ErrBadFrame) {
			client.Send(NewErrorFrame("", ErrorShape{Code: "invalid_frame", Message: err.Error()}))
			continue
		}
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				client.log.Warn().Err(err).Msg("read error")
			} else {
				client.log.Debug().Err(err).Msg("client closed connection")
			}
			return
		}

		switch frame.Type {
		case FrameTypeChat:
			s.startChat(client, frame)
		case FrameTypeCancel:
			if !client.CancelRequest(frame.ID) {
				client.log.Debug().Str("id", frame.ID).Msg("cancel for unknown request")
			}
		case FrameTypePing:
			client.Send(Frame{Type: FrameTypePong, ID: frame.ID})
		default:
			client.Send(NewErrorFrame(frame.ID, ErrorShape{
				Code:    "unknown_type",
				Message: "unknown frame type: " + frame.Type,
			}))
		}
	}
}

// startChat runs one chat request in its own goroutine and relays the
// stream as chunk and tool frames followed by one done or error frame.
func (s *Server) startChat(client *Client, frame Frame) {
	if frame.ID == "" {
		client.Send(NewErrorFrame("", ErrorShape{Code: "invalid_request", Message: "id is required"}))
		return
	}
	if s.orch == nil {
		_, shape := classifyError(ErrUnavailable)
		client.Send(NewErrorFrame(frame.ID, shape))
		return
	}

	ctx, done, ok := client.begin(frame.ID)
	if !ok {
		client.Send(NewErrorFrame(frame.ID, ErrorShape{
			Code:    "duplicate_request",
			Message: "request " + frame.ID + " is already running",
		}))
		return
	}

	go func() {
		defer done()

		stream, err := s.orch.ChatStream(ctx, domain.ChatRequest{
			SessionID: frame.SessionID,
			Message:   frame.Message,
			Stream:    true,
		})
		if err != nil {
			_, shape := classifyError(err)
			client.Send(NewErrorFrame(frame.ID, shape))
			return
		}

		for c := range stream.Chunks() {
			if f, ok := chunkFrame(frame.ID, c); ok {
				client.Send(f)
			}
		}

		resp, err := stream.Wait()
		if err != nil {
			_, shape := classifyError(err)
			client.log.Warn().Err(err).Str("id", frame.ID).Msg("websocket chat failed")
			client.Send(NewErrorFrame(frame.ID, shape))
			return
		}
		client.Send(NewDoneFrame(frame.ID, resp))
	}()
}
