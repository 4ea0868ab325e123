package transport

import "sync"

// Session tracks whether the realtime session is currently connected. The
// owning room component flips the flag; consumers read it or subscribe to
// changes. A zero Session starts disconnected.
type Session struct {
	mu        sync.Mutex
	connected bool
	nextID    int
	listeners map[int]func(bool)
}

func NewSession() *Session {
	return &Session{listeners: make(map[int]func(bool))}
}

// Connected reports the current session state.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// SetConnected updates the state and notifies listeners on change.
func (s *Session) SetConnected(v bool) {
	s.mu.Lock()
	if s.connected == v {
		s.mu.Unlock()
		return
	}
	s.connected = v
	fns := make([]func(bool), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// OnChange registers fn for state changes and returns an idempotent cancel.
func (s *Session) OnChange(fn func(bool)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}
