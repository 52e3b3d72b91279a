package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/soyeahso/veil/internal/domain"
	"github.com/soyeahso/veil/internal/version"
)

// DefaultOpenAIEndpoint is the base URL used when none is configured.
const DefaultOpenAIEndpoint = "https://api.openai.com/v1"

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint,
// including Ollama's /v1 surface.
type OpenAIClient struct {
	apiKey  string
	baseURL string
	model   string // used when a request leaves Model empty
	client  *http.Client
}

// NewOpenAIClient creates a client. An empty baseURL selects the public API;
// an empty apiKey omits the Authorization header.
func NewOpenAIClient(apiKey, baseURL, defaultModel string) *OpenAIClient {
	if baseURL == "" {
		baseURL = DefaultOpenAIEndpoint
	}
	return &OpenAIClient{
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   defaultModel,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string { return "openai" }

// Complete sends a non-streaming chat completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := c.do(ctx, c.buildRequestBody(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ProviderError{Provider: c.Name(), Message: "failed to parse response: " + err.Error()}
	}
	if len(result.Choices) == 0 {
		return nil, &ProviderError{Provider: c.Name(), Message: "response has no choices"}
	}

	choice := result.Choices[0]
	out := &CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage: domain.Usage{
			InputTokens:  result.Usage.PromptTokens,
			OutputTokens: result.Usage.CompletionTokens,
		},
		Model:    result.Model,
		Duration: time.Since(start),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, domain.ToolCallRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: normalizeArguments(tc.Function.Arguments),
		})
	}
	return out, nil
}

// Stream sends a streaming chat completion request.
func (c *OpenAIClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	resp, err := c.do(ctx, c.buildRequestBody(req, true))
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent)
	go c.readStream(ctx, resp.Body, events, time.Now())
	return events, nil
}

func (c *OpenAIClient) do(ctx context.Context, body map[string]any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: c.Name(), Message: "request failed: " + err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, errorFromResponse(c.Name(), resp)
	}
	return resp, nil
}

func (c *OpenAIClient) buildRequestBody(req CompletionRequest, stream bool) map[string]any {
	model := req.Model
	if model == "" {
		model = c.model
	}

	messages := make([]map[string]any, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, map[string]any{"role": RoleSystem, "content": req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, messageToOpenAI(m))
	}

	body := map[string]any{
		"model":    model,
		"messages": messages,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  schemaOrEmpty(t.InputSchema),
				},
			}
		}
		body["tools"] = tools
	}
	if stream {
		body["stream"] = true
		body["stream_options"] = map[string]any{"include_usage": true}
	}
	return body
}

func messageToOpenAI(m Message) map[string]any {
	out := map[string]any{"role": m.Role, "content": m.Content}
	switch m.Role {
	case RoleTool:
		out["tool_call_id"] = m.ToolCallID
	case RoleAssistant:
		if len(m.ToolCalls) > 0 {
			calls := make([]map[string]any, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				calls[i] = map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": string(tc.Arguments),
					},
				}
			}
			out["tool_calls"] = calls
			if m.Content == "" {
				out["content"] = nil
			}
		}
	}
	return out
}

func (c *OpenAIClient) readStream(ctx context.Context, body io.ReadCloser, events chan<- StreamEvent, start time.Time) {
	defer close(events)
	defer body.Close()

	var (
		content strings.Builder
		final   = &CompletionResponse{}
		calls   = map[int]*openaiToolCall{}
	)

	sc := newServerSentEventScanner(body)
	for sc.Next() {
		var chunk openaiStreamChunk
		if err := json.Unmarshal(sc.Data(), &chunk); err != nil {
			sendEvent(ctx.Done(), events, streamError("openai stream: malformed chunk: %v", err))
			return
		}
		if chunk.Error != nil {
			sendEvent(ctx.Done(), events, streamError("openai: %s", chunk.Error.Message))
			return
		}
		if chunk.Model != "" {
			final.Model = chunk.Model
		}
		if chunk.Usage != nil {
			final.Usage = domain.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}
		}
		for _, choice := range chunk.Choices {
			if choice.FinishReason != "" {
				final.StopReason = choice.FinishReason
			}
			if choice.Delta.Content != "" {
				content.WriteString(choice.Delta.Content)
				if !sendEvent(ctx.Done(), events, StreamEvent{Type: EventDelta, Content: choice.Delta.Content}) {
					return
				}
			}
			for _, d := range choice.Delta.ToolCalls {
				tc, ok := calls[d.Index]
				if !ok {
					tc = &openaiToolCall{}
					calls[d.Index] = tc
				}
				if d.ID != "" {
					tc.ID = d.ID
				}
				if d.Function.Name != "" {
					tc.Function.Name = d.Function.Name
				}
				tc.Function.Arguments += d.Function.Arguments
			}
		}
	}
	if err := sc.Err(); err != nil {
		sendEvent(ctx.Done(), events, streamError("openai stream read failed: %v", err))
		return
	}
	if ctx.Err() != nil {
		sendEvent(ctx.Done(), events, streamError("openai stream canceled: %v", ctx.Err()))
		return
	}
	if !sc.Terminated() {
		sendEvent(ctx.Done(), events, streamError("openai stream ended before [DONE]"))
		return
	}

	indexes := make([]int, 0, len(calls))
	for i := range calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		tc := calls[i]
		final.ToolCalls = append(final.ToolCalls, domain.ToolCallRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: normalizeArguments(tc.Function.Arguments),
		})
	}
	final.Content = content.String()
	final.Duration = time.Since(start)
	sendEvent(ctx.Done(), events, StreamEvent{Type: EventDone, Response: final})
}

func schemaOrEmpty(schema json.RawMessage) json.RawMessage {
	if len(schema) == 0 {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return schema
}

// API structures

type openaiToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   string           `json:"content"`
			ToolCalls []openaiToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage openaiUsage `json:"usage"`
}

type openaiStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string           `json:"content"`
			ToolCalls []openaiToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
