package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/veil/internal/domain"
	"github.com/soyeahso/veil/internal/version"
)

const (
	// DefaultAnthropicEndpoint is the base URL used when none is configured.
	DefaultAnthropicEndpoint = "https://api.anthropic.com/v1"
	anthropicVersion         = "2023-06-01"
)

// AnthropicClient is a direct HTTP client for the Anthropic Messages API.
type AnthropicClient struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey, baseURL, defaultModel string) *AnthropicClient {
	if baseURL == "" {
		baseURL = DefaultAnthropicEndpoint
	}
	return &AnthropicClient{
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   defaultModel,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string { return "anthropic" }

// Complete sends a non-streaming request to the Messages API.
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := c.do(ctx, c.buildRequestBody(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ProviderError{Provider: c.Name(), Message: "failed to parse response: " + err.Error()}
	}

	out := &CompletionResponse{
		StopReason: result.StopReason,
		Usage: domain.Usage{
			InputTokens:  result.Usage.InputTokens,
			OutputTokens: result.Usage.OutputTokens,
		},
		Model:    result.Model,
		Duration: time.Since(start),
	}
	var text strings.Builder
	for _, block := range result.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, domain.ToolCallRequest{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: normalizeArguments(string(block.Input)),
			})
		}
	}
	out.Content = text.String()
	return out, nil
}

// Stream sends a streaming request to the Messages API.
func (c *AnthropicClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	resp, err := c.do(ctx, c.buildRequestBody(req, true))
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent)
	go c.readStream(ctx, resp.Body, events, time.Now())
	return events, nil
}

func (c *AnthropicClient) do(ctx context.Context, body map[string]any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

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

func (c *AnthropicClient) buildRequestBody(req CompletionRequest, stream bool) map[string]any {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	body := map[string]any{
		"model":      model,
		"messages":   messagesToAnthropic(req.Messages),
		"max_tokens": maxTokens,
	}
	if stream {
		body["stream"] = true
	}
	if req.System != "" {
		body["system"] = req.System
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": schemaOrEmpty(t.InputSchema),
			}
		}
		body["tools"] = tools
	}
	return body
}

// messagesToAnthropic converts messages into content-block form. Tool
// results travel as user messages, and consecutive results are merged so
// user and assistant messages keep alternating.
func messagesToAnthropic(msgs []Message) []map[string]any {
	var out []map[string]any
	for _, m := range msgs {
		switch m.Role {
		case RoleTool:
			block := map[string]any{
				"type":        "tool_result",
				"tool_use_id": m.ToolCallID,
				"content":     m.Content,
			}
			if m.IsError {
				block["is_error"] = true
			}
			if n := len(out); n > 0 && out[n-1]["role"] == RoleUser {
				if blocks, ok := out[n-1]["content"].([]map[string]any); ok && isToolResults(blocks) {
					out[n-1]["content"] = append(blocks, block)
					continue
				}
			}
			out = append(out, map[string]any{"role": RoleUser, "content": []map[string]any{block}})

		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, map[string]any{"role": RoleAssistant, "content": m.Content})
				continue
			}
			var blocks []map[string]any
			if m.Content != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, map[string]any{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Name,
					"input": toolInput(tc.Arguments),
				})
			}
			out = append(out, map[string]any{"role": RoleAssistant, "content": blocks})

		default:
			out = append(out, map[string]any{"role": RoleUser, "content": m.Content})
		}
	}
	return out
}

func isToolResults(blocks []map[string]any) bool {
	for _, b := range blocks {
		if b["type"] != "tool_result" {
			return false
		}
	}
	return len(blocks) > 0
}

// toolInput returns arguments as a JSON object; tool_use input must be one.
func toolInput(args json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return json.RawMessage(`{}`)
	}
	return trimmed
}

func (c *AnthropicClient) readStream(ctx context.Context, body io.ReadCloser, events chan<- StreamEvent, start time.Time) {
	defer close(events)
	defer body.Close()

	var (
		text   strings.Builder
		final  = &CompletionResponse{}
		blocks = map[int]*anthropicPartialTool{}
		order  []int
		closed bool
	)

	sc := newServerSentEventScanner(body)
	for sc.Next() {
		var ev anthropicStreamEvent
		if err := json.Unmarshal(sc.Data(), &ev); err != nil {
			sendEvent(ctx.Done(), events, streamError("anthropic stream: malformed event: %v", err))
			return
		}

		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				final.Model = ev.Message.Model
				final.Usage.InputTokens = ev.Message.Usage.InputTokens
			}
		case "content_block_start":
			if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
				blocks[ev.Index] = &anthropicPartialTool{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
				order = append(order, ev.Index)
			}
		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				text.WriteString(ev.Delta.Text)
				if !sendEvent(ctx.Done(), events, StreamEvent{Type: EventDelta, Content: ev.Delta.Text}) {
					return
				}
			case "input_json_delta":
				if tool, ok := blocks[ev.Index]; ok {
					tool.input.WriteString(ev.Delta.PartialJSON)
				}
			}
		case "message_delta":
			if ev.Delta.StopReason != "" {
				final.StopReason = ev.Delta.StopReason
			}
			if ev.Usage != nil {
				final.Usage.OutputTokens = ev.Usage.OutputTokens
			}
		case "message_stop":
			closed = true
		case "error":
			msg := "stream error"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			sendEvent(ctx.Done(), events, streamError("anthropic: %s", msg))
			return
		}
	}
	if err := sc.Err(); err != nil {
		sendEvent(ctx.Done(), events, streamError("anthropic stream read failed: %v", err))
		return
	}
	if ctx.Err() != nil {
		sendEvent(ctx.Done(), events, streamError("anthropic stream canceled: %v", ctx.Err()))
		return
	}
	if !closed {
		sendEvent(ctx.Done(), events, streamError("anthropic stream ended before message_stop"))
		return
	}

	for _, idx := range order {
		tool := blocks[idx]
		final.ToolCalls = append(final.ToolCalls, domain.ToolCallRequest{
			ID:        tool.id,
			Name:      tool.name,
			Arguments: normalizeArguments(tool.input.String()),
		})
	}
	final.Content = text.String()
	final.Duration = time.Since(start)
	sendEvent(ctx.Done(), events, StreamEvent{Type: EventDone, Response: final})
}

type anthropicPartialTool struct {
	id    string
	name  string
	input strings.Builder
}

// API structures

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicStreamEvent struct {
	Type         string                 `json:"type"`
	Index        int                    `json:"index"`
	Message      *anthropicResponse     `json:"message,omitempty"`
	ContentBlock *anthropicContentBlock `json:"content_block,omitempty"`
	Delta        struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		StopReason  string `json:"stop_reason,omitempty"`
	} `json:"delta"`
	Usage *anthropicUsage `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
