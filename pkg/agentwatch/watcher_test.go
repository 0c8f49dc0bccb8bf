package agentwatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_AppFor(t *testing.T) {
	t.Parallel()

	w := &Watcher{dir: "/agents"}

	tests := []struct {
		path     string
		app      string
		relevant bool
	}{
		{"/agents/hello/root_agent.yaml", "hello", true},
		{"/agents/hello/extra.yml", "hello", true},
		{"/agents/hello/case.evalset.json", "hello", true},
		{"/agents/hello/.env", "hello", true},
		{"/agents/hello/notes.txt", "", false},
		{"/agents/hello/.root_agent.yaml.swp", "", false},
		{"/agents/hello/root_agent.yaml123456", "", false},
		{"/agents/hello", "hello", true},
		{"/agents/README.md", "", false},
		{"/agents/.git/config.yaml", "", false},
		{"/agents/__pycache__/x.json", "", false},
		{"/agents", "", false},
		{"/elsewhere/app/root_agent.yaml", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()

			app, relevant := w.appFor(filepath.FromSlash(tt.path))
			assert.Equal(t, tt.relevant, relevant)
			assert.Equal(t, tt.app, app)
		})
	}
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()

	select {
	case app := <-ch:
		return app
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
		return ""
	}
}

func TestWatcher_Run(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "hello"), 0o755))

	w, err := New(dir, WithDebounce(50*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Several writes in a burst produce a single notification.
	path := filepath.Join(dir, "hello", "root_agent.yaml")
	for range 3 {
		require.NoError(t, os.WriteFile(path, []byte("agent_class: echo\n"), 0o644))
	}
	assert.Equal(t, "hello", receive(t, w.Changes()))

	select {
	case app := <-w.Changes():
		t.Fatalf("unexpected second notification for %s", app)
	case <-time.After(100 * time.Millisecond):
	}

	// New app directories are picked up and watched.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "fresh"), 0o755))
	assert.Equal(t, "fresh", receive(t, w.Changes()))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "fresh", "root_agent.yaml"), []byte("name: fresh\n"), 0o644))
	assert.Equal(t, "fresh", receive(t, w.Changes()))
}

func TestWatcher_StaleTimerIsDropped(t *testing.T) {
	t.Parallel()

	w := &Watcher{
		debounce: time.Hour,
		changes:  make(chan string, 16),
		done:     make(chan struct{}),
		timers:   map[string]pendingChange{},
	}
	t.Cleanup(func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		for _, p := range w.timers {
			p.timer.Stop()
		}
	})

	w.schedule("hello")
	first := w.timers["hello"].gen
	w.schedule("hello")
	second := w.timers["hello"].gen
	require.NotEqual(t, first, second)

	// A timer that fires after being replaced neither notifies nor drops
	// its replacement.
	w.fire("hello", first)
	assert.Empty(t, w.changes)
	require.Contains(t, w.timers, "hello")
	assert.Equal(t, second, w.timers["hello"].gen)

	w.fire("hello", second)
	assert.Equal(t, "hello", receive(t, w.changes))
	assert.NotContains(t, w.timers, "hello")
}
