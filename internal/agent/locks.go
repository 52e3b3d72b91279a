package agent

import (
	"context"
	"sync"
)

// sessionLocks is a keyed mutex. Each session gets a one-slot channel so a
// waiter can give up when its context ends; entries are dropped once no
// request holds or waits on them.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	ch   chan struct{}
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// Lock blocks until the session is free or ctx ends. On success the
// returned func releases the lock.
func (s *sessionLocks) Lock(ctx context.Context, sessionID string) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{ch: make(chan struct{}, 1)}
		s.locks[sessionID] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			s.release(sessionID, l)
		}, nil
	case <-ctx.Done():
		s.release(sessionID, l)
		return nil, ctx.Err()
	}
}

func (s *sessionLocks) release(sessionID string, l *sessionLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, sessionID)
	}
}

func (s *sessionLocks) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
