package broadcast

import "sync"

// SessionState is the low-durability sibling of the shared store: ephemeral
// per-session UI flags (panel open, sound muted) that deliberately reset when
// the session goes away. It never touches the persistent store.
type SessionState struct {
	mu    sync.Mutex
	flags map[string]bool
	subs  []func(key string, value bool)
}

func NewSessionState() *SessionState {
	return &SessionState{flags: map[string]bool{}}
}

func (s *SessionState) Get(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[key]
}

func (s *SessionState) Set(key string, value bool) {
	s.mu.Lock()
	if s.flags[key] == value {
		s.mu.Unlock()
		return
	}
	s.flags[key] = value
	subs := make([]func(string, bool), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(key, value)
	}
}

func (s *SessionState) Subscribe(fn func(key string, value bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}
