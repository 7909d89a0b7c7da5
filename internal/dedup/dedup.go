// Package dedup guards multi-file batches against duplicate delivery.
// The platform may notify once per file in a media group, so the
// handler must win a single first-sight race per batch id before any
// network or storage side effect.
package dedup

import "sync"

// Set tracks batch ids processed in the current monitoring session.
type Set struct {
	mu   sync.Mutex
	seen map[string]bool
}

func New() *Set {
	return &Set{seen: make(map[string]bool)}
}

// FirstSight atomically checks-then-marks id. It returns true for
// exactly one caller per id; every later (or concurrent) call returns
// false. An empty id is never first.
func (s *Set) FirstSight(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[id] {
		return false
	}
	s.seen[id] = true
	return true
}

// Seen reports whether id has been marked.
func (s *Set) Seen(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[id]
}

// Mark records id without reporting prior state.
func (s *Set) Mark(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[id] = true
}

// Reset forgets every marked batch. Only called on session stop.
func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = make(map[string]bool)
}
