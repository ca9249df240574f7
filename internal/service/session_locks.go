package service

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// SessionLocks hands out one writer slot per session. Uploads take it with
// TryAcquire so a concurrent submission fails fast; verification waits for it.
type SessionLocks struct {
	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

func NewSessionLocks() *SessionLocks {
	return &SessionLocks{locks: make(map[string]*semaphore.Weighted)}
}

func (l *SessionLocks) get(sessionID string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.locks[sessionID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.locks[sessionID] = sem
	}
	return sem
}

// Forget drops the slot of an evicted session.
func (l *SessionLocks) Forget(sessionID string) {
	l.mu.Lock()
	delete(l.locks, sessionID)
	l.mu.Unlock()
}
