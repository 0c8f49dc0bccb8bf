package concurrent

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap_LoadOrStore(t *testing.T) {
	m := NewMap[string, int]()

	v, loaded := m.LoadOrStore("a", func() int { return 1 })
	assert.False(t, loaded)
	assert.Equal(t, 1, v)

	v, loaded = m.LoadOrStore("a", func() int { return 2 })
	assert.True(t, loaded)
	assert.Equal(t, 1, v)
}

func TestMap_LoadOrStoreConcurrent(t *testing.T) {
	m := NewMap[string, *int]()
	var created atomic.Int32

	var wg sync.WaitGroup
	results := make([]*int, 50)
	for i := range results {
		wg.Go(func() {
			results[i], _ = m.LoadOrStore("key", func() *int {
				created.Add(1)
				return new(int)
			})
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestMap_Delete(t *testing.T) {
	m := NewMap[string, int]()
	m.Store("a", 1)
	m.Store("b", 2)

	m.Delete("a")
	_, ok := m.Load("a")
	assert.False(t, ok)

	v, ok := m.LoadAndDelete("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 0, m.Length())

	_, ok = m.LoadAndDelete("b")
	assert.False(t, ok)
}

func TestMap_Keys(t *testing.T) {
	m := NewMap[string, int]()
	m.Store("a", 1)
	m.Store("b", 2)

	assert.ElementsMatch(t, []string{"a", "b"}, m.Keys())
}
