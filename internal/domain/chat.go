package domain

// RetrievedPassage is a piece of supporting context for a single request.
// Passages are never persisted.
type RetrievedPassage struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// ChatRequest is the caller-facing input.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Stream    bool   `json:"stream,omitempty"`
}

// ChatResponse is the caller-facing output of a completed request.
type ChatResponse struct {
	SessionID  string  `json:"session_id"`
	Response   string  `json:"response"`
	Model      string  `json:"model"`
	Tier       string  `json:"tier,omitempty"`
	TokensUsed int     `json:"tokens_used"`
	Cached     bool    `json:"cached"`
	Incomplete bool    `json:"incomplete,omitempty"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
	ToolRounds int     `json:"tool_rounds,omitempty"`
}

// ChunkType discriminates streamed chunks.
type ChunkType string

const (
	ChunkContent ChunkType = "content"
	ChunkTool    ChunkType = "tool"
	ChunkDone    ChunkType = "done"
	ChunkError   ChunkType = "error"
)

// Chunk is one element of a streamed reply. A stream always ends with exactly
// one ChunkDone (carrying Response) or one ChunkError.
type Chunk struct {
	Type     ChunkType     `json:"type"`
	Content  string        `json:"content,omitempty"`
	Response *ChatResponse `json:"response,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Terminal reports whether c ends the stream.
func (c Chunk) Terminal() bool {
	return c.Type == ChunkDone || c.Type == ChunkError
}
