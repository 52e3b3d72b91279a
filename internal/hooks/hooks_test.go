package hooks

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soyeahso/veil/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager() *Manager {
	return NewManager(logging.New(nil, "silent"))
}

func noop(context.Context, Payload) error { return nil }

func TestManager_On_And_Emit(t *testing.T) {
	m := testManager()

	var got Payload
	m.On(EventChatCompleted, "test", func(_ context.Context, p Payload) error {
		got = p
		return nil
	})

	m.Emit(context.Background(), EventChatCompleted, map[string]any{"sessionId": "s1", "cached": false})
	assert.Equal(t, EventChatCompleted, got.Event)
	assert.Equal(t, "s1", got.Data["sessionId"])
	assert.Equal(t, false, got.Data["cached"])
}

func TestManager_Emit_RegistrationOrder(t *testing.T) {
	m := testManager()

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		m.On(EventChatReceived, name, func(_ context.Context, _ Payload) error {
			order = append(order, name)
			return nil
		})
	}

	m.Emit(context.Background(), EventChatReceived, nil)
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestManager_Emit_ErrorAndPanicDoNotStopOthers(t *testing.T) {
	m := testManager()

	var lastCalled bool
	m.On(EventChatFailed, "failing", func(context.Context, Payload) error {
		return errors.New("handler broke")
	})
	m.On(EventChatFailed, "panicking", func(context.Context, Payload) error {
		panic("boom")
	})
	m.On(EventChatFailed, "last", func(context.Context, Payload) error {
		lastCalled = true
		return nil
	})

	m.Emit(context.Background(), EventChatFailed, nil)
	assert.True(t, lastCalled)
}

func TestManager_NilIsNoop(t *testing.T) {
	var m *Manager
	m.Emit(context.Background(), EventCacheHit, nil)
	m.EmitAsync(context.Background(), EventCacheHit, nil)
	assert.Equal(t, 0, m.Count(EventCacheHit))
	assert.Nil(t, m.Events())
}

func TestManager_EmitAsync(t *testing.T) {
	m := testManager()

	var count atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)
	for _, name := range []string{"a", "b"} {
		m.On(EventToolDispatched, name, func(context.Context, Payload) error {
			count.Add(1)
			wg.Done()
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.EmitAsync(ctx, EventToolDispatched, nil)
	cancel()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async handlers did not complete in time")
	}
	assert.Equal(t, int32(2), count.Load())
}

func TestManager_Events_Sorted(t *testing.T) {
	m := testManager()
	m.On(EventStreamAborted, "h1", noop)
	m.On(EventCacheHit, "h2", noop)
	m.On(EventCacheHit, "h3", noop)

	assert.Equal(t, []string{EventCacheHit, EventStreamAborted}, m.Events())
}

func TestManager_LogEvents(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(logging.New(&buf, "debug"))
	m.LogEvents()

	for _, event := range AllEvents {
		assert.Equal(t, 1, m.Count(event), event)
	}

	m.Emit(context.Background(), EventCacheHit, map[string]any{"sessionId": "abc"})
	assert.Contains(t, buf.String(), `"event":"cache_hit"`)
	assert.Contains(t, buf.String(), `"sessionId":"abc"`)
}

func TestAllEvents(t *testing.T) {
	require.Len(t, AllEvents, 8)
	assert.Contains(t, AllEvents, EventChatReceived)
	assert.Contains(t, AllEvents, EventStreamAborted)
}
