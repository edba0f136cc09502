package engine

import "sync"

// Unsubscribe tears down one subscription. Every subscribe operation on a
// channel returns one, and the engine invokes each exactly once.
type Unsubscribe func()

// scope groups the unsubscribe functions of one streaming attempt so they can
// be disposed together, exactly once. After dispose, the scope is inactive
// and late callbacks gated on Active are dropped.
type scope struct {
	mu       sync.Mutex
	disposed bool
	children []Unsubscribe
}

func newScope() *scope {
	return &scope{}
}

// add registers a child unsubscribe. If the scope is already disposed the
// child is torn down immediately, so nothing leaks on a lost race between
// subscribe and dispose.
func (s *scope) add(u Unsubscribe) {
	if u == nil {
		return
	}
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		u()
		return
	}
	s.children = append(s.children, u)
	s.mu.Unlock()
}

// dispose tears down all children in reverse registration order.
// Safe to call more than once; children run exactly once.
func (s *scope) dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	children := s.children
	s.children = nil
	s.mu.Unlock()

	for i := len(children) - 1; i >= 0; i-- {
		children[i]()
	}
}

// active reports whether the scope has not been disposed. Callbacks wired
// through a scope check this before touching engine state, which is what
// drops tokens from a superseded streaming attempt.
func (s *scope) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disposed
}

// onceFunc wraps u so repeated calls have no observable effect.
func onceFunc(u Unsubscribe) Unsubscribe {
	if u == nil {
		return func() {}
	}
	var once sync.Once
	return func() {
		once.Do(u)
	}
}
