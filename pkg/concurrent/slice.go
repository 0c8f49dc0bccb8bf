package concurrent

import "sync"

// Slice is an append-mostly slice guarded by a read-write mutex.
type Slice[V any] struct {
	mu     sync.RWMutex
	values []V
}

func NewSlice[V any]() *Slice[V] {
	return &Slice[V]{}
}

func (s *Slice[V]) Append(value V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = append(s.values, value)
}

func (s *Slice[V]) Length() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.values)
}

// All returns a copy of the values.
func (s *Slice[V]) All() []V {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]V(nil), s.values...)
}

// Filter returns the values matching keep, in insertion order.
func (s *Slice[V]) Filter(keep func(V) bool) []V {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []V
	for _, v := range s.values {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}
