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

func TestOpenAIComplete_Text(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"model":"gpt-4o-mini-2024","choices":[{"message":{"content":"Rotate the key."},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":5}}`)
	}))
	defer srv.Close()

	temp := 0.4
	c := NewOpenAIClient("sk-test", srv.URL+"/v1/", "gpt-4o")
	resp, err := c.Complete(context.Background(), CompletionRequest{
		Model:       "gpt-4o-mini",
		System:      "be brief",
		Messages:    []Message{{Role: RoleUser, Content: "what now?"}},
		MaxTokens:   500,
		Temperature: &temp,
	})
	require.NoError(t, err)

	assert.Equal(t, "Rotate the key.", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, "gpt-4o-mini-2024", resp.Model)
	assert.Equal(t, domain.Usage{InputTokens: 12, OutputTokens: 5}, resp.Usage)

	assert.Equal(t, "gpt-4o-mini", got["model"])
	assert.EqualValues(t, 500, got["max_tokens"])
	assert.InDelta(t, 0.4, got["temperature"], 1e-9)
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "be brief", msgs[0].(map[string]any)["content"])
	assert.NotContains(t, got, "stream")
}

func TestOpenAIComplete_ToolCalls(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"model":"gpt-4o","choices":[{"message":{"content":null,"tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"search_knowledge","arguments":"{\"query\":\"phishing\"}"}},
			{"id":"call_2","type":"function","function":{"name":"current_time","arguments":""}}
		]},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":30,"completion_tokens":8}}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient("", srv.URL, "gpt-4o")
	resp, err := c.Complete(context.Background(), CompletionRequest{
		Messages: []Message{
			{Role: RoleUser, Content: "look it up"},
			{Role: RoleAssistant, ToolCalls: []domain.ToolCallRequest{{ID: "call_0", Name: "current_time", Arguments: json.RawMessage(`{}`)}}},
			{Role: RoleTool, ToolCallID: "call_0", Name: "current_time", Content: "2026-01-01T00:00:00Z"},
		},
		Tools: []ToolDefinition{{Name: "search_knowledge", Description: "search", InputSchema: json.RawMessage(`{"type":"object"}`)}},
	})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 2)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "search_knowledge", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"query":"phishing"}`, string(resp.ToolCalls[0].Arguments))
	assert.JSONEq(t, `{}`, string(resp.ToolCalls[1].Arguments))
	assert.Equal(t, "tool_calls", resp.StopReason)

	// default model and request shape
	assert.Equal(t, "gpt-4o", got["model"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 3)
	assistant := msgs[1].(map[string]any)
	assert.Nil(t, assistant["content"])
	calls := assistant["tool_calls"].([]any)
	assert.Equal(t, "call_0", calls[0].(map[string]any)["id"])
	tool := msgs[2].(map[string]any)
	assert.Equal(t, "tool", tool["role"])
	assert.Equal(t, "call_0", tool["tool_call_id"])
	tools := got["tools"].([]any)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "search_knowledge", fn["name"])
}

func TestOpenAIComplete_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"Rate limit reached","type":"requests"}}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk", srv.URL, "gpt-4o")
	_, err := c.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 429, pe.Code)
	assert.Equal(t, "Rate limit reached", pe.Message)
	assert.Equal(t, "openai", pe.Provider)
}

func TestOpenAIComplete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	_, err := NewOpenAIClient("", srv.URL, "m").Complete(context.Background(), CompletionRequest{})
	var pe *ProviderError
	assert.ErrorAs(t, err, &pe)
}

func TestOpenAIStream(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range []string{
			`{"model":"gpt-4o","choices":[{"delta":{"content":"Hello"}}]}`,
			`{"model":"gpt-4o","choices":[{"delta":{"content":", analyst"}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_9","function":{"name":"search_knowledge","arguments":"{\"qu"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ery\":\"ioc\"}"}}]},"finish_reason":"tool_calls"}]}`,
			`{"choices":[],"usage":{"prompt_tokens":40,"completion_tokens":11}}`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", line)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewOpenAIClient("", srv.URL, "gpt-4o")
	events, err := c.Stream(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)

	var deltas []string
	resp, err := Collect(context.Background(), events, func(s string) { deltas = append(deltas, s) })
	require.NoError(t, err)

	assert.Equal(t, []string{"Hello", ", analyst"}, deltas)
	assert.Equal(t, "Hello, analyst", resp.Content)
	assert.Equal(t, "tool_calls", resp.StopReason)
	assert.Equal(t, domain.Usage{InputTokens: 40, OutputTokens: 11}, resp.Usage)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_9", resp.ToolCalls[0].ID)
	assert.JSONEq(t, `{"query":"ioc"}`, string(resp.ToolCalls[0].Arguments))

	assert.Equal(t, true, got["stream"])
	assert.Equal(t, map[string]any{"include_usage": true}, got["stream_options"])
}

func TestOpenAIStream_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewOpenAIClient("", srv.URL, "m").Stream(context.Background(), CompletionRequest{})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusBadGateway, pe.Code)
	assert.Equal(t, "bad gateway", pe.Message)
}

func TestOpenAIStream_BrokenStreams(t *testing.T) {
	partial := `{"model":"gpt-4o","choices":[{"delta":{"content":"Acme is"}}]}`
	tests := []struct {
		name   string
		frames []string
		want   string
	}{
		{"error frame", []string{partial, `{"error":{"message":"upstream overloaded","type":"server_error"}}`, "[DONE]"}, "upstream overloaded"},
		{"malformed chunk", []string{partial, `{"choices":[{"delta":`}, "malformed chunk"},
		{"truncated", []string{partial}, "ended before [DONE]"},
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

			events, err := NewOpenAIClient("", srv.URL, "gpt-4o").Stream(context.Background(), CompletionRequest{})
			require.NoError(t, err)

			var text string
			resp, err := Collect(context.Background(), events, func(s string) { text += s })
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, "Acme is", text)
		})
	}
}
