package llm

import (
	"context"
	"strings"

	"github.com/soyeahso/veil/internal/domain"
)

// MockClient is a test double for Client. Without a StreamFunc, Stream
// replays Complete's result as word-sized deltas.
type MockClient struct {
	ProviderName string
	CompleteFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	StreamFunc   func(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)
}

func (m *MockClient) Name() string { return m.ProviderName }

func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &CompletionResponse{Content: "mock response", Model: req.Model}, nil
}

func (m *MockClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	resp, err := m.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return ReplayStream(ctx, resp), nil
}

// ReplayStream emits resp as a sequence of deltas followed by a done event.
func ReplayStream(ctx context.Context, resp *CompletionResponse) <-chan StreamEvent {
	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		for _, piece := range splitKeepSpace(resp.Content) {
			if !sendEvent(ctx.Done(), ch, StreamEvent{Type: EventDelta, Content: piece}) {
				return
			}
		}
		sendEvent(ctx.Done(), ch, StreamEvent{Type: EventDone, Response: resp})
	}()
	return ch
}

// splitKeepSpace splits s after each space so the pieces concatenate back to s.
func splitKeepSpace(s string) []string {
	var out []string
	for s != "" {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}

// NewEchoClient returns an offline client that answers with the last user
// message. It backs the "mock" provider for local runs without credentials.
func NewEchoClient(name string) *MockClient {
	return &MockClient{
		ProviderName: name,
		CompleteFunc: func(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
			var last string
			for _, m := range req.Messages {
				if m.Role == RoleUser {
					last = m.Content
				}
			}
			return &CompletionResponse{
				Content:    "echo: " + last,
				StopReason: "stop",
				Model:      req.Model,
				Usage:      domain.Usage{InputTokens: len(last) / 4, OutputTokens: (len(last) + 6) / 4},
			}, nil
		},
	}
}
