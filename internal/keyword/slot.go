package keyword

import "sync"

// Slot holds at most one value shared between a producer and a poller. Put
// overwrites any value not yet taken, so only the most recent one survives.
// The zero Slot is empty and ready to use.
type Slot[T any] struct {
	mu  sync.Mutex
	v   T
	set bool
}

// Put stores v, replacing any pending value.
func (s *Slot[T]) Put(v T) {
	s.mu.Lock()
	s.v, s.set = v, true
	s.mu.Unlock()
}

// Take removes and returns the pending value.
func (s *Slot[T]) Take() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.takeLocked()
}

// TryTake is Take for callers that must not wait: if the slot is locked by a
// concurrent Put it reports nothing and the value is picked up next time.
func (s *Slot[T]) TryTake() (T, bool) {
	if !s.mu.TryLock() {
		var zero T
		return zero, false
	}
	defer s.mu.Unlock()
	return s.takeLocked()
}

// Peek returns the pending value without clearing it.
func (s *Slot[T]) Peek() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v, s.set
}

func (s *Slot[T]) takeLocked() (T, bool) {
	v, ok := s.v, s.set
	var zero T
	s.v, s.set = zero, false
	return v, ok
}
