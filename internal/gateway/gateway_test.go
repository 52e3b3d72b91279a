package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soyeahso/veil/internal/agent"
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

type testEnv struct {
	srv     *Server
	ts      *httptest.Server
	history *agent.MemoryHistoryStore
}

// newTestEnv serves a real orchestrator backed by client and in-memory
// stores.
func newTestEnv(t *testing.T, client llm.Client, opts ...ServerOption) *testEnv {
	t.Helper()

	reg := llm.NewRegistry(silentLog())
	reg.Register("mock", client)
	reg.SetFallback("mock")

	history := agent.NewMemoryHistoryStore()
	orch := agent.New(agent.Deps{
		Models:  reg,
		Cache:   cache.NewMemoryStore(),
		History: history,
		Tools:   agent.NewToolRegistry(time.Second, silentLog()),
	}, agent.Config{
		SystemPrompt:    "You are a test assistant.",
		MaxToolRounds:   3,
		WindowTurns:     20,
		WindowTokens:    3000,
		MaxMessageChars: 50,
		CacheTTL:        time.Hour,
		KeyPrefix:       "chat:",
		Tiers: agent.NewSelector(config.ModelsConfig{
			Tiers: config.TiersConfig{
				Cheap: config.TierEntry{Model: "cheap-model", MaxTokens: 100},
				Full:  config.TierEntry{Model: "full-model", MaxTokens: 500},
			},
			TierPolicy: config.TierPolicy{MaxCheapChars: 80, QuestionMarkers: []string{"?"}},
		}),
	}, silentLog())

	opts = append([]ServerOption{WithOrchestrator(orch)}, opts...)
	srv := New(testServerConfig(), silentLog(), opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{srv: srv, ts: ts, history: history}
}

// replyClient answers every request with reply and counts calls.
type replyClient struct {
	llm.MockClient
	calls atomic.Int32
}

func newReplyClient(reply string) *replyClient {
	c := &replyClient{}
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

// blockingClient never answers. It reports each call on started once the
// model has been reached and on cancelled when the call's context ends.
func blockingClient() (client *llm.MockClient, started, cancelled <-chan struct{}) {
	startedCh := make(chan struct{}, 4)
	cancelledCh := make(chan struct{}, 4)
	return &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			startedCh <- struct{}{}
			<-ctx.Done()
			cancelledCh <- struct{}{}
			return nil, ctx.Err()
		},
	}, startedCh, cancelledCh
}

func failingClient(err error) *llm.MockClient {
	return &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return nil, err
		},
	}
}

func (e *testEnv) postChat(t *testing.T, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.ts.URL+"/api/v2/chat/message", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{Bind: "loopback"}
}

// serve runs one request through srv's full handler chain.
func serve(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}
