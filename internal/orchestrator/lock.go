package orchestrator

import "sync"

// SessionLocker hands out one *sync.Mutex per session key, created lazily
// and kept for the process lifetime. It exists so the engine can guard
// each session's state transitions (spec §3 invariant: "transitions are
// serialized by the session lock") without a single global lock
// serializing unrelated sessions.
type SessionLocker struct {
	mu     sync.Mutex
	perKey sync.Map // key -> *sync.Mutex
}

// NewSessionLocker creates an empty locker.
func NewSessionLocker() *SessionLocker {
	return &SessionLocker{}
}

// Lock returns the mutex for key, creating it if this is the first use.
func (l *SessionLocker) Lock(key string) *sync.Mutex {
	if m, ok := l.perKey.Load(key); ok {
		return m.(*sync.Mutex)
	}
	m := &sync.Mutex{}
	actual, _ := l.perKey.LoadOrStore(key, m)
	return actual.(*sync.Mutex)
}
