package agent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/veil/internal/domain"
)

// HistoryStore is the append-only per-session turn log.
type HistoryStore interface {
	// Append adds a turn to the end of a session, creating the session on
	// first use. Turns without an ID or timestamp get one.
	Append(ctx context.Context, sessionID string, turn domain.Turn) error

	// RecentTurns returns up to limit of the newest turns, oldest first.
	// A limit <= 0 returns every turn.
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error)

	// Session returns the session with all its turns, or nil if unknown.
	Session(ctx context.Context, sessionID string) (*domain.Session, error)
}

// BatchAppender is implemented by stores that can append several turns
// atomically. The orchestrator prefers it so a request's turns are written
// all together or not at all.
type BatchAppender interface {
	AppendTurns(ctx context.Context, sessionID string, turns []domain.Turn) error
}

// PrepareTurn fills in a missing ID and timestamp.
func PrepareTurn(t domain.Turn, now time.Time) domain.Turn {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = now
	}
	return t
}

// MemoryHistoryStore is an in-memory HistoryStore.
type MemoryHistoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	now      func() time.Time
}

// NewMemoryHistoryStore creates an empty in-memory history store.
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{
		sessions: make(map[string]*domain.Session),
		now:      time.Now,
	}
}

func (s *MemoryHistoryStore) Append(_ context.Context, sessionID string, turn domain.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &domain.Session{ID: sessionID, CreatedAt: now}
		s.sessions[sessionID] = sess
	}
	sess.Turns = append(sess.Turns, PrepareTurn(turn, now))
	sess.UpdatedAt = now
	return nil
}

func (s *MemoryHistoryStore) AppendTurns(_ context.Context, sessionID string, turns []domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &domain.Session{ID: sessionID, CreatedAt: now}
		s.sessions[sessionID] = sess
	}
	for _, t := range turns {
		sess.Turns = append(sess.Turns, PrepareTurn(t, now))
	}
	sess.UpdatedAt = now
	return nil
}

func (s *MemoryHistoryStore) RecentTurns(_ context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	turns := sess.Turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]domain.Turn(nil), turns...), nil
}

func (s *MemoryHistoryStore) Session(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *sess
	cp.Turns = append([]domain.Turn(nil), sess.Turns...)
	return &cp, nil
}

// Close is a no-op.
func (s *MemoryHistoryStore) Close() error { return nil }
