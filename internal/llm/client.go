// Package llm defines the model client interface and the HTTP providers
// behind it.
package llm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/soyeahso/veil/internal/domain"
)

// Role constants for messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message is a single entry in the prompt sent to a provider.
type Message struct {
	Role       string                   `json:"role"`
	Content    string                   `json:"content"`
	ToolCalls  []domain.ToolCallRequest `json:"toolCalls,omitempty"`  // assistant messages
	ToolCallID string                   `json:"toolCallId,omitempty"` // tool messages
	Name       string                   `json:"name,omitempty"`       // tool messages
	IsError    bool                     `json:"isError,omitempty"`    // tool messages
}

// ToolDefinition describes a tool the model can invoke.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// CompletionRequest is the input to a Complete or Stream call.
type CompletionRequest struct {
	Model       string           `json:"model,omitempty"`
	System      string           `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int              `json:"maxTokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
}

// CompletionResponse is the result of a completion. A response carries
// either final text or one or more tool calls.
type CompletionResponse struct {
	Content    string                   `json:"content"`
	StopReason string                   `json:"stopReason,omitempty"`
	ToolCalls  []domain.ToolCallRequest `json:"toolCalls,omitempty"`
	Usage      domain.Usage             `json:"usage"`
	Model      string                   `json:"model,omitempty"`
	Duration   time.Duration            `json:"duration,omitempty"`
}

// Stream event types.
const (
	EventDelta = "delta"
	EventDone  = "done"
	EventError = "error"
)

// StreamEvent is a chunk from a streaming completion.
type StreamEvent struct {
	Type    string `json:"type"`              // "delta", "done", "error"
	Content string `json:"content,omitempty"` // text delta
	Error   string `json:"error,omitempty"`   // error message (type="error")

	// Final fields (type="done")
	Response *CompletionResponse `json:"response,omitempty"`
}

// Client is the interface all model providers implement.
type Client interface {
	// Complete sends a request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Stream sends a request and returns a channel of streaming events.
	// The channel ends with exactly one done or error event and is then closed.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)

	// Name returns the provider name (e.g., "openai", "anthropic").
	Name() string
}

// Collect drains a stream into a single response, forwarding each text delta
// to onDelta when it is non-nil.
func Collect(ctx context.Context, events <-chan StreamEvent, onDelta func(string)) (*CompletionResponse, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil, &ProviderError{Provider: "stream", Message: "stream closed without a final event"}
			}
			switch ev.Type {
			case EventDelta:
				if onDelta != nil && ev.Content != "" {
					onDelta(ev.Content)
				}
			case EventDone:
				if ev.Response == nil {
					return nil, &ProviderError{Provider: "stream", Message: "done event without a response"}
				}
				return ev.Response, nil
			case EventError:
				return nil, &ProviderError{Provider: "stream", Message: ev.Error}
			}
		}
	}
}

// normalizeArguments returns raw as JSON tool arguments. Empty input becomes
// an empty object and text that is not valid JSON is kept as a JSON string so
// it survives persistence and fails schema validation downstream.
func normalizeArguments(raw string) json.RawMessage {
	if raw == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	quoted, _ := json.Marshal(raw)
	return quoted
}
