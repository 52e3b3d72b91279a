package agent

import (
	"context"

	"github.com/soyeahso/veil/internal/domain"
	"github.com/soyeahso/veil/internal/metrics"
)

// streamBuffer is the number of chunks that can queue up before the
// producer waits for the consumer.
const streamBuffer = 64

// Stream is a finite sequence of reply chunks. It ends with exactly one
// done or error chunk, after which the channel is closed.
type Stream struct {
	chunks chan domain.Chunk
	done   chan struct{}
	resp   *domain.ChatResponse
	err    error
}

// Chunks returns the chunk channel.
func (s *Stream) Chunks() <-chan domain.Chunk { return s.chunks }

// Wait blocks until the request has finished and returns its outcome. It
// does not drain Chunks.
func (s *Stream) Wait() (*domain.ChatResponse, error) {
	<-s.done
	return s.resp, s.err
}

// ChatStream starts a streamed request. Input validation errors are
// returned directly; everything after that is reported through the stream.
// Canceling ctx stops the request and discards it: nothing is written to
// history or the cache.
func (o *Orchestrator) ChatStream(ctx context.Context, req domain.ChatRequest) (*Stream, error) {
	if err := o.validate(&req); err != nil {
		return nil, err
	}

	s := &Stream{
		chunks: make(chan domain.Chunk, streamBuffer),
		done:   make(chan struct{}),
	}
	metrics.StreamsActive.Inc()

	go func() {
		defer metrics.StreamsActive.Dec()
		defer close(s.done)
		defer close(s.chunks)

		resp, err := o.handle(ctx, req, modeStream, func(c domain.Chunk) { s.send(ctx, c) })
		s.resp, s.err = resp, err
		if err != nil {
			s.finish(ctx, domain.Chunk{Type: domain.ChunkError, Error: err.Error()})
			return
		}
		s.finish(ctx, domain.Chunk{Type: domain.ChunkDone, Response: resp})
	}()
	return s, nil
}

// send delivers a chunk unless the consumer has gone away.
func (s *Stream) send(ctx context.Context, c domain.Chunk) bool {
	select {
	case s.chunks <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish delivers the terminal chunk. After cancellation it is only queued
// if there is room, since nobody may be reading.
func (s *Stream) finish(ctx context.Context, c domain.Chunk) {
	if ctx.Err() == nil && s.send(ctx, c) {
		return
	}
	select {
	case s.chunks <- c:
	default:
	}
}
