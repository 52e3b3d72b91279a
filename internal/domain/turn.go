// Package domain holds the types shared by the chat engine, its stores and its transports.
package domain

import "time"

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Usage tracks token consumption for a turn or a whole request.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Add returns the sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
	}
}

// Turn is one message unit in a session's history. Turns are immutable once
// written; stores only ever append them.
type Turn struct {
	ID        string            `json:"id"`
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	ToolCalls []ToolCallRequest `json:"toolCalls,omitempty"`  // set on assistant turns that requested tools
	ToolCall  *ToolCallResult   `json:"toolResult,omitempty"` // set on tool turns
	Model     string            `json:"model,omitempty"`
	Usage     Usage             `json:"usage"`
	Timestamp time.Time         `json:"timestamp"`
}

// Session is a conversation and its ordered turns.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Turns     []Turn    `json:"turns,omitempty"`
}
