package policy

import "sync/atomic"

// Store hands out immutable policy snapshots and lets the external supplier
// swap in a new one without touching active sessions. New snapshots apply to
// subsequently evaluated messages only.
type Store struct {
	current atomic.Pointer[Policy]
}

func NewStore(p *Policy) *Store {
	s := &Store{}
	if p == nil {
		p = &Policy{}
	}
	s.current.Store(p)
	return s
}

// Snapshot returns the current policy. Callers must treat it as read-only.
func (s *Store) Snapshot() *Policy {
	return s.current.Load()
}

// Swap replaces the current policy atomically.
func (s *Store) Swap(p *Policy) {
	if p == nil {
		p = &Policy{}
	}
	s.current.Store(p)
}
