package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/soyeahso/veil/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicComplete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "sk-ant", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"id":"msg_1","model":"claude-x","stop_reason":"tool_use",
			"content":[{"type":"text","text":"Checking. "},{"type":"tool_use","id":"tu_1","name":"search_knowledge","input":{"query":"mfa"}}],
			"usage":{"input_tokens":20,"output_tokens":9}}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient("sk-ant", srv.URL, "claude-x")
	resp, err := c.Complete(context.Background(), CompletionRequest{
		System:   "sys",
		Messages: []Message{{Role: RoleUser, Content: "is mfa on?"}},
		Tools:    []ToolDefinition{{Name: "search_knowledge", InputSchema: json.RawMessage(`{"type":"object"}`)}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Checking. ", resp.Content)
	assert.Equal(t, "tool_use", resp.StopReason)
	assert.Equal(t, domain.Usage{InputTokens: 20, OutputTokens: 9}, resp.Usage)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "tu_1", resp.ToolCalls[0].ID)
	assert.JSONEq(t, `{"query":"mfa"}`, string(resp.ToolCalls[0].Arguments))

	assert.Equal(t, "sys", got["system"])
	assert.EqualValues(t, 1024, got["max_tokens"])
	assert.Equal(t, "claude-x", got["model"])
	tools := got["tools"].([]any)
	assert.Equal(t, "search_knowledge", tools[0].(map[string]any)["name"])
}

func TestAnthropicComplete_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer srv.Close()

	_, err := NewAnthropicClient("bad", srv.URL, "m").Complete(context.Background(), CompletionRequest{})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 401, pe.Code)
	assert.Equal(t, "invalid x-api-key", pe.Message)
}

func TestMessagesToAnthropic(t *testing.T) {
	msgs := messagesToAnthropic([]Message{
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, Content: "let me check", ToolCalls: []domain.ToolCallRequest{
			{ID: "a", Name: "t1", Arguments: json.RawMessage(`{"x":1}`)},
			{ID: "b", Name: "t2", Arguments: json.RawMessage(`"not an object"`)},
		}},
		{Role: RoleTool, ToolCallID: "a", Content: "r1"},
		{Role: RoleTool, ToolCallID: "b", Content: "boom", IsError: true},
		{Role: RoleAssistant, Content: "done"},
	})

	require.Len(t, msgs, 4)
	assert.Equal(t, "user", msgs[0]["role"])

	blocks := msgs[1]["content"].([]map[string]any)
	require.Len(t, blocks, 3)
	assert.Equal(t, "text", blocks[0]["type"])
	assert.Equal(t, "tool_use", blocks[1]["type"])
	assert.JSONEq(t, `{"x":1}`, string(blocks[1]["input"].(json.RawMessage)))
	assert.JSONEq(t, `{}`, string(blocks[2]["input"].(json.RawMessage)))

	assert.Equal(t, "user", msgs[2]["role"])
	results := msgs[2]["content"].([]map[string]any)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0]["tool_use_id"])
	assert.Equal(t, true, results[1]["is_error"])

	assert.Equal(t, "done", msgs[3]["content"])
}

func TestAnthropicStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range []struct{ name, data string }{
			{"message_start", `{"type":"message_start","message":{"model":"claude-x","usage":{"input_tokens":15,"output_tokens":1}}}`},
			{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
			{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Looking"}}`},
			{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" now"}}`},
			{"content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"tu_7","name":"current_time","input":{}}}`},
			{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"timezone\":"}}`},
			{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"UTC\"}"}}`},
			{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":22}}`},
			{"message_stop", `{"type":"message_stop"}`},
		} {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data)
		}
	}))
	defer srv.Close()

	events, err := NewAnthropicClient("k", srv.URL, "claude-x").Stream(context.Background(), CompletionRequest{})
	require.NoError(t, err)

	var text string
	resp, err := Collect(context.Background(), events, func(s string) { text += s })
	require.NoError(t, err)

	assert.Equal(t, "Looking now", text)
	assert.Equal(t, "Looking now", resp.Content)
	assert.Equal(t, "tool_use", resp.StopReason)
	assert.Equal(t, "claude-x", resp.Model)
	assert.Equal(t, domain.Usage{InputTokens: 15, OutputTokens: 22}, resp.Usage)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "current_time", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"timezone":"UTC"}`, string(resp.ToolCalls[0].Arguments))
}

func TestAnthropicStream_ErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	}))
	defer srv.Close()

	events, err := NewAnthropicClient("k", srv.URL, "m").Stream(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	_, err = Collect(context.Background(), events, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Overloaded")
}

func TestAnthropicStream_BrokenStreams(t *testing.T) {
	start := `{"type":"message_start","message":{"model":"claude-x","usage":{"input_tokens":15,"output_tokens":1}}}`
	delta := `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Acme is"}}`
	tests := []struct {
		name   string
		frames []string
		want   string
	}{
		{"truncated", []string{start, delta}, "ended before message_stop"},
		{"malformed event", []string{start, delta, `{"type":"content_block_delta",`}, "malformed event"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				for _, f := range tt.frames {
					fmt.Fprintf(w, "data: %s\n\n", f)
				}
			}))
			defer srv.Close()

			events, err := NewAnthropicClient("k", srv.URL, "claude-x").Stream(context.Background(), CompletionRequest{})
			require.NoError(t, err)

			resp, err := Collect(context.Background(), events, nil)
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
