package domain

import "encoding/json"

// ToolCallRequest is a model's request to invoke a registered tool.
type ToolCallRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallResult is the outcome of exactly one ToolCallRequest. Failures are
// reported through IsError rather than as Go errors so the model can react.
type ToolCallResult struct {
	CallID  string `json:"callId"`
	Name    string `json:"name"`
	Output  string `json:"output,omitempty"`
	IsError bool   `json:"isError,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Text renders the result the way it is shown to the model.
func (r ToolCallResult) Text() string {
	if r.IsError {
		return "Error: " + r.Error
	}
	return r.Output
}
