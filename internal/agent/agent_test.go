package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soyeahso/veil/internal/cache"
	"github.com/soyeahso/veil/internal/config"
	"github.com/soyeahso/veil/internal/domain"
	"github.com/soyeahso/veil/internal/llm"
	"github.com/soyeahso/veil/internal/logging"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func testRegistry(client llm.Client) *llm.Registry {
	reg := llm.NewRegistry(silentLog())
	reg.Register("mock", client)
	reg.SetFallback("mock")
	return reg
}

func testModels() config.ModelsConfig {
	return config.ModelsConfig{
		Provider: "mock",
		Tiers: config.TiersConfig{
			Cheap: config.TierEntry{Model: "cheap-model", MaxTokens: 100, InputCostPerM: 1, OutputCostPerM: 2},
			Full:  config.TierEntry{Model: "full-model", MaxTokens: 500, InputCostPerM: 10, OutputCostPerM: 20},
		},
		TierPolicy: config.TierPolicy{MaxCheapChars: 80, QuestionMarkers: []string{"?"}},
	}
}

type fixture struct {
	orch    *Orchestrator
	history *MemoryHistoryStore
	cache   *cache.MemoryStore
	tools   *ToolRegistry
}

func newFixture(t *testing.T, client llm.Client, mutate ...func(*Deps, *Config)) *fixture {
	t.Helper()
	f := &fixture{
		history: NewMemoryHistoryStore(),
		cache:   cache.NewMemoryStore(),
		tools:   NewToolRegistry(time.Second, silentLog()),
	}
	deps := Deps{
		Models:  testRegistry(client),
		Cache:   f.cache,
		History: f.history,
		Tools:   f.tools,
	}
	cfg := Config{
		SystemPrompt:    "You are a test assistant.",
		MaxToolRounds:   3,
		WindowTurns:     20,
		WindowTokens:    3000,
		MaxMessageChars: 4000,
		CacheTTL:        time.Hour,
		KeyPrefix:       "chat:",
		Tiers:           NewSelector(testModels()),
	}
	for _, m := range mutate {
		m(&deps, &cfg)
	}
	f.orch = New(deps, cfg, silentLog())
	return f
}

func (f *fixture) turns(t *testing.T, sessionID string) []domain.Turn {
	t.Helper()
	turns, err := f.history.RecentTurns(context.Background(), sessionID, 0)
	require.NoError(t, err)
	return turns
}

func roles(turns []domain.Turn) []domain.Role {
	out := make([]domain.Role, len(turns))
	for i, t := range turns {
		out[i] = t.Role
	}
	return out
}

// countingClient answers every request with reply and counts the calls.
type countingClient struct {
	llm.MockClient
	calls atomic.Int32
}

func newTextClient(reply string) *countingClient {
	c := &countingClient{}
	c.ProviderName = "mock"
	c.CompleteFunc = func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		c.calls.Add(1)
		return &llm.CompletionResponse{
			Content: reply,
			Model:   req.Model,
			Usage:   domain.Usage{InputTokens: 10, OutputTokens: 5},
		}, nil
	}
	return c
}

// scriptedClient returns the scripted responses in order and records every
// request it saw. Past the end of the script it repeats the last response.
type scriptedClient struct {
	llm.MockClient
	mu       sync.Mutex
	script   []*llm.CompletionResponse
	requests []llm.CompletionRequest
}

func newScriptedClient(script ...*llm.CompletionResponse) *scriptedClient {
	c := &scriptedClient{script: script}
	c.ProviderName = "mock"
	c.CompleteFunc = func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.requests = append(c.requests, req)
		i := len(c.requests) - 1
		if i >= len(c.script) {
			i = len(c.script) - 1
		}
		resp := *c.script[i]
		return &resp, nil
	}
	return c
}

func (c *scriptedClient) seen() []llm.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.CompletionRequest(nil), c.requests...)
}

func toolCall(id, name, args string) domain.ToolCallRequest {
	return domain.ToolCallRequest{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func toolResponse(text string, calls ...domain.ToolCallRequest) *llm.CompletionResponse {
	return &llm.CompletionResponse{
		Content:    text,
		ToolCalls:  calls,
		StopReason: "tool_calls",
		Usage:      domain.Usage{InputTokens: 20, OutputTokens: 4},
	}
}

func textResponse(text string) *llm.CompletionResponse {
	return &llm.CompletionResponse{
		Content:    text,
		StopReason: "stop",
		Usage:      domain.Usage{InputTokens: 30, OutputTokens: 8},
	}
}

const echoSchema = `{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`

func registerEcho(t *testing.T, r *ToolRegistry) {
	t.Helper()
	require.NoError(t, r.Register("echo", "Echoes text", json.RawMessage(echoSchema),
		func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		}))
}

// failingStore is a cache backend that is always down.
type failingStore struct{}

func (failingStore) Get(context.Context, string) (*cache.Entry, error) {
	return nil, errBackendDown
}

func (failingStore) Set(context.Context, string, cache.Entry, time.Duration) error {
	return errBackendDown
}

func (failingStore) Close() error { return nil }

// brokenHistory accepts reads and fails every write.
type brokenHistory struct {
	*MemoryHistoryStore
}

func (brokenHistory) AppendTurns(context.Context, string, []domain.Turn) error {
	return errBackendDown
}

func (brokenHistory) Append(context.Context, string, domain.Turn) error {
	return errBackendDown
}

var errBackendDown = errors.New("backend unreachable")
