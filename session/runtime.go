package session

import "sync"

// Runtime holds the process-wide "current session" singleton behind a lock.
// It is an explicit, injectable object rather than ambient global state so
// tests can run isolated runtimes side by side. All components read the
// current session through a Runtime; only the coordinator and the token
// lifecycle manager write it.
type Runtime struct {
	mu      sync.RWMutex
	current *Session
}

func NewRuntime() *Runtime {
	return &Runtime{}
}

// Current returns the current session, or nil when signed out.
func (r *Runtime) Current() *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Set replaces the current session.
func (r *Runtime) Set(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = s
}

// Clear drops the current session.
func (r *Runtime) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = nil
}
