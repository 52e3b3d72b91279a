package gateway

import "github.com/soyeahso/veil/internal/domain"

// Frame types for the WebSocket protocol. Clients send chat, cancel and
// ping; the server answers with chunk, tool, done, error and pong.
const (
	FrameTypeChat   = "chat"
	FrameTypeCancel = "cancel"
	FrameTypePing   = "ping"

	FrameTypeChunk = "chunk"
	FrameTypeTool  = "tool"
	FrameTypeDone  = "done"
	FrameTypeError = "error"
	FrameTypePong  = "pong"
)

// Frame is the envelope for every WebSocket message. ID correlates the
// server's frames with the client's chat request.
type Frame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// chat
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message,omitempty"`

	// chunk, tool
	Content string `json:"content,omitempty"`
	Tool    string `json:"tool,omitempty"`

	// done
	Response *domain.ChatResponse `json:"response,omitempty"`

	// error
	Error *ErrorShape `json:"error,omitempty"`
}

// ErrorShape is the error format shared by JSON bodies, SSE and WebSocket.
type ErrorShape struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// errorBody is the JSON body of a failed HTTP request.
type errorBody struct {
	Error ErrorShape `json:"error"`
}

// chunkFrame converts a non-terminal stream chunk into a frame.
func chunkFrame(id string, c domain.Chunk) (Frame, bool) {
	switch c.Type {
	case domain.ChunkContent:
		return Frame{Type: FrameTypeChunk, ID: id, Content: c.Content}, true
	case domain.ChunkTool:
		return Frame{Type: FrameTypeTool, ID: id, Tool: c.Content}, true
	default:
		return Frame{}, false
	}
}

// NewDoneFrame wraps a completed response.
func NewDoneFrame(id string, resp *domain.ChatResponse) Frame {
	return Frame{Type: FrameTypeDone, ID: id, Response: resp}
}

// NewErrorFrame wraps a failure.
func NewErrorFrame(id string, shape ErrorShape) Frame {
	return Frame{Type: FrameTypeError, ID: id, Error: &shape}
}
