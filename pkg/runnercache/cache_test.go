package runnercache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/agentgateway/pkg/agent"
	"github.com/docker/agentgateway/pkg/agent/agenttest"
	"github.com/docker/agentgateway/pkg/runner"
	"github.com/docker/agentgateway/pkg/session"
)

type builds struct {
	mu     sync.Mutex
	count  map[string]int
	agents map[string][]*agenttest.Agent
}

func newBuilds() *builds {
	return &builds{count: map[string]int{}, agents: map[string][]*agenttest.Agent{}}
}

func (b *builds) build(_ context.Context, app string) (*runner.Runner, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.count[app]++
	a := &agenttest.Agent{AgentName: app}
	b.agents[app] = append(b.agents[app], a)
	return runner.New(app, a, runner.Services{}), nil
}

func (b *builds) built(app string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count[app]
}

func TestCache_ConcurrentGetOrCreateBuildsOnce(t *testing.T) {
	t.Parallel()

	b := newBuilds()
	var inFlight atomic.Int32
	c := New(func(ctx context.Context, app string) (*runner.Runner, error) {
		inFlight.Add(1)
		defer inFlight.Add(-1)
		time.Sleep(10 * time.Millisecond)
		return b.build(ctx, app)
	})

	results := make([]*runner.Runner, 20)
	var wg sync.WaitGroup
	for i := range results {
		wg.Go(func() {
			r, err := c.GetOrCreate(t.Context(), "a")
			assert.NoError(t, err)
			results[i] = r
		})
	}
	wg.Wait()

	assert.Equal(t, 1, b.built("a"))
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestCache_InvalidateReplacesAfterClose(t *testing.T) {
	t.Parallel()

	b := newBuilds()
	c := New(b.build)

	first, err := c.GetOrCreate(t.Context(), "a")
	require.NoError(t, err)

	c.Invalidate("a")

	second, err := c.GetOrCreate(t.Context(), "a")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, b.built("a"))
	assert.Equal(t, 1, b.agents["a"][0].Closed())
	assert.Equal(t, 0, b.agents["a"][1].Closed())

	third, err := c.GetOrCreate(t.Context(), "a")
	require.NoError(t, err)
	assert.Same(t, second, third)
}

func TestCache_InvalidateUnknownAppIsNoop(t *testing.T) {
	t.Parallel()

	b := newBuilds()
	c := New(b.build)

	c.Invalidate("ghost")
	_, err := c.GetOrCreate(t.Context(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, 1, b.built("ghost"))
}

func TestCache_InvalidateDoesNotDelayOtherApps(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{})
	b := newBuilds()
	c := New(func(ctx context.Context, app string) (*runner.Runner, error) {
		if app == "slow" {
			close(started)
			<-release
		}
		return b.build(ctx, app)
	})

	_, err := c.GetOrCreate(t.Context(), "a")
	require.NoError(t, err)

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		_, _ = c.GetOrCreate(context.Background(), "slow")
	}()
	<-started

	// While "slow" is still being built, "a" can be invalidated and rebuilt.
	c.Invalidate("a")
	c.Invalidate("slow")
	r, err := c.GetOrCreate(t.Context(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a", r.AppName())
	assert.Equal(t, 2, b.built("a"))

	close(release)
	<-slowDone

	// "slow" was invalidated during its build, so the next request rebuilds it.
	_, err = c.GetOrCreate(t.Context(), "slow")
	require.NoError(t, err)
	assert.Equal(t, 2, b.built("slow"))
}

func TestCache_SlowCloseDoesNotBlockOtherApps(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	closing := make(chan struct{})
	c := New(func(_ context.Context, app string) (*runner.Runner, error) {
		a := &agenttest.Agent{AgentName: app}
		if app == "sticky" {
			a.CloseFunc = func(context.Context) error {
				close(closing)
				<-release
				return nil
			}
		}
		return runner.New(app, a, runner.Services{}), nil
	})

	_, err := c.GetOrCreate(t.Context(), "sticky")
	require.NoError(t, err)

	c.Invalidate("sticky")
	<-closing

	r, err := c.GetOrCreate(t.Context(), "b")
	require.NoError(t, err)
	assert.Equal(t, "b", r.AppName())

	replaced := make(chan *runner.Runner)
	go func() {
		r, _ := c.GetOrCreate(context.Background(), "sticky")
		replaced <- r
	}()

	select {
	case <-replaced:
		t.Fatal("replacement served before the stale runner finished closing")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	assert.NotNil(t, <-replaced)
}

func TestCache_CreationFailureIsNotCached(t *testing.T) {
	t.Parallel()

	boom := errors.New("bad definition")
	var attempts atomic.Int32
	b := newBuilds()
	c := New(func(ctx context.Context, app string) (*runner.Runner, error) {
		if attempts.Add(1) == 1 {
			return nil, boom
		}
		return b.build(ctx, app)
	})

	_, err := c.GetOrCreate(t.Context(), "a")
	var creationErr *CreationError
	require.ErrorAs(t, err, &creationErr)
	assert.Equal(t, "a", creationErr.App)
	require.ErrorIs(t, err, boom)

	r, err := c.GetOrCreate(t.Context(), "a")
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func TestCache_CloseAll(t *testing.T) {
	t.Parallel()

	b := newBuilds()
	c := New(b.build)

	for _, app := range []string{"a", "b", "c"} {
		_, err := c.GetOrCreate(t.Context(), app)
		require.NoError(t, err)
	}
	c.Invalidate("a")

	c.CloseAll(t.Context())

	for _, app := range []string{"a", "b", "c"} {
		assert.Equal(t, 1, b.agents[app][0].Closed(), app)
	}

	_, err := c.GetOrCreate(t.Context(), "a")
	require.ErrorIs(t, err, ErrClosed)
}

func TestCache_CloseAllDuringBuild(t *testing.T) {
	t.Parallel()

	b := newBuilds()
	started := make(chan struct{})
	release := make(chan struct{})
	c := New(func(ctx context.Context, app string) (*runner.Runner, error) {
		close(started)
		<-release
		return b.build(ctx, app)
	})

	errs := make(chan error, 1)
	go func() {
		_, err := c.GetOrCreate(t.Context(), "a")
		errs <- err
	}()
	<-started

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		c.CloseAll(t.Context())
	}()
	require.Eventually(t, c.closed.Load, time.Second, time.Millisecond)
	close(release)

	require.ErrorIs(t, <-errs, ErrClosed)
	<-closed
	assert.Equal(t, 1, b.agents["a"][0].Closed())
}

func TestCache_CloseAllLogsFailures(t *testing.T) {
	t.Parallel()

	c := New(func(_ context.Context, app string) (*runner.Runner, error) {
		return runner.New(app, &agenttest.Agent{CloseFunc: func(context.Context) error {
			return errors.New("close failed")
		}}, runner.Services{}), nil
	})
	_, err := c.GetOrCreate(t.Context(), "a")
	require.NoError(t, err)

	assert.NotPanics(t, func() { c.CloseAll(t.Context()) })
}

func TestCache_Follow(t *testing.T) {
	t.Parallel()

	b := newBuilds()
	c := New(b.build)
	_, err := c.GetOrCreate(t.Context(), "a")
	require.NoError(t, err)

	changes := make(chan string)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Follow(t.Context(), changes)
	}()

	changes <- "a"
	close(changes)
	<-done

	_, err = c.GetOrCreate(t.Context(), "a")
	require.NoError(t, err)
	assert.Equal(t, 2, b.built("a"))
}

func TestLoaderBuild(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "hello"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello", agent.DefinitionFile), []byte("agent_class: echo\n"), 0o644))

	c := New(LoaderBuild(agent.NewLoader(dir), runner.Services{Sessions: session.NewInMemoryService()}))

	r, err := c.GetOrCreate(t.Context(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", r.Agent().Name())

	_, err = c.GetOrCreate(t.Context(), "missing")
	require.ErrorIs(t, err, agent.ErrNotFound)
}
