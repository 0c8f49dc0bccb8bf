package concurrent

import "sync"

// Map is a map guarded by a read-write mutex. Callbacks passed to Range must
// not call back into the map.
type Map[K comparable, V any] struct {
	mu     sync.RWMutex
	values map[K]V
}

func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{
		values: make(map[K]V),
	}
}

func (m *Map[K, V]) Load(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	val, ok := m.values[key]
	return val, ok
}

func (m *Map[K, V]) Store(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
}

// LoadOrStore returns the existing value for key if present. Otherwise it
// stores and returns the value built by create. create runs under the lock and
// must be cheap.
func (m *Map[K, V]) LoadOrStore(key K, create func() V) (actual V, loaded bool) {
	m.mu.RLock()
	val, ok := m.values[key]
	m.mu.RUnlock()
	if ok {
		return val, true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if val, ok := m.values[key]; ok {
		return val, true
	}
	val = create()
	m.values[key] = val
	return val, false
}

func (m *Map[K, V]) Delete(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
}

// LoadAndDelete removes key and returns the value it held.
func (m *Map[K, V]) LoadAndDelete(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	val, ok := m.values[key]
	delete(m.values, key)
	return val, ok
}

func (m *Map[K, V]) Length() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.values)
}

// Keys returns a snapshot of the keys in unspecified order.
func (m *Map[K, V]) Keys() []K {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]K, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	return keys
}

func (m *Map[K, V]) Range(f func(key K, value V) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for k, v := range m.values {
		if !f(k, v) {
			break
		}
	}
}
