package pending

import (
	"sync"
	"time"
)

// Store maps a conversation to its single pending state.
type Store interface {
	Get(conv string) (State, bool)
	// Set installs s and returns the state it evicted, if any.
	Set(conv string, s State) State
	Delete(conv string)
}

type entry struct {
	state State
	at    time.Time
}

// Memory is an in-process Store. States older than the TTL read as absent.
type Memory struct {
	mu  sync.Mutex
	m   map[string]entry
	ttl time.Duration
	now func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory returns a Memory store. A zero ttl keeps states until they are
// replaced or deleted.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{m: make(map[string]entry), ttl: ttl, now: time.Now}
}

// Get returns the live state for conv.
func (s *Memory) Get(conv string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[conv]
	if !ok {
		return nil, false
	}
	if s.expired(e) {
		delete(s.m, conv)
		return nil, false
	}
	return e.state, true
}

// Set replaces the state for conv. An expired predecessor is not returned.
func (s *Memory) Set(conv string, st State) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.m[conv]
	s.m[conv] = entry{state: st, at: s.now()}
	if !ok || s.expired(prev) {
		return nil
	}
	return prev.state
}

// Delete drops the state for conv.
func (s *Memory) Delete(conv string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, conv)
}

// Len reports how many conversations have a live state.
func (s *Memory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.m {
		if !s.expired(e) {
			n++
		}
	}
	return n
}

func (s *Memory) expired(e entry) bool {
	return s.ttl > 0 && s.now().Sub(e.at) > s.ttl
}
