// Package runnercache owns the per-application runners: it builds them
// lazily, replaces them when their definition changes and closes them on
// shutdown.
package runnercache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docker/agentgateway/pkg/agent"
	"github.com/docker/agentgateway/pkg/concurrent"
	"github.com/docker/agentgateway/pkg/metrics"
	"github.com/docker/agentgateway/pkg/runner"
)

const defaultCloseTimeout = 30 * time.Second

var ErrClosed = errors.New("runner cache closed")

// CreationError reports a failure to build a runner. It is never cached: the
// next request for the app tries again.
type CreationError struct {
	App string
	Err error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("creating runner for %s: %v", e.App, e.Err)
}

func (e *CreationError) Unwrap() error {
	return e.Err
}

// BuildFunc constructs the runner of an app.
type BuildFunc func(ctx context.Context, app string) (*runner.Runner, error)

// LoaderBuild returns a BuildFunc that loads the app's root agent with loader
// and binds it to the shared services.
func LoaderBuild(loader *agent.Loader, svc runner.Services) BuildFunc {
	return func(ctx context.Context, app string) (*runner.Runner, error) {
		a, err := loader.Load(ctx, app)
		if err != nil {
			return nil, err
		}
		return runner.New(app, a, svc), nil
	}
}

type entry struct {
	// mu is held while the runner is built or closed so that a replacement
	// never serves before its predecessor has finished closing.
	mu     sync.Mutex
	runner *runner.Runner
	gen    uint64

	// want is the generation a fresh runner must carry. Invalidate bumps it
	// without taking mu.
	want atomic.Uint64
}

// Cache maps app names to live runners. The shared map lock is only held to
// look up or insert entries; construction and closing lock the entry alone.
type Cache struct {
	build        BuildFunc
	metrics      *metrics.Metrics
	closeTimeout time.Duration

	entries *concurrent.Map[string, *entry]
	reaping sync.WaitGroup
	closed  atomic.Bool
}

type Option func(*Cache)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithCloseTimeout bounds how long closing one stale runner may take.
func WithCloseTimeout(d time.Duration) Option {
	return func(c *Cache) {
		c.closeTimeout = d
	}
}

func New(build BuildFunc, opts ...Option) *Cache {
	c := &Cache{
		build:        build,
		closeTimeout: defaultCloseTimeout,
		entries:      concurrent.NewMap[string, *entry](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCreate returns the current runner of app, building it if there is none
// or if the cached one was invalidated. A stale runner is closed, and the
// close awaited, before its replacement is built.
func (c *Cache) GetOrCreate(ctx context.Context, app string) (*runner.Runner, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	e, _ := c.entries.LoadOrStore(app, func() *entry { return &entry{} })

	e.mu.Lock()
	defer e.mu.Unlock()

	want := e.want.Load()
	if e.runner != nil && e.gen == want {
		return e.runner, nil
	}
	if e.runner != nil {
		c.closeRunner(ctx, app, e.runner)
		e.runner = nil
	}

	start := time.Now()
	r, err := c.build(ctx, app)
	c.metrics.RunnerBuilt(err, time.Since(start))
	if err != nil {
		slog.Error("Failed to create runner", "app", app, "error", err)
		return nil, &CreationError{App: app, Err: err}
	}
	if c.closed.Load() {
		c.closeRunner(context.WithoutCancel(ctx), app, r)
		return nil, ErrClosed
	}

	slog.Info("Runner created", "app", app, "duration", time.Since(start))
	e.runner, e.gen = r, want
	return r, nil
}

// Invalidate marks the runner of app as stale and closes it in the
// background. It does not block on the entry: in-flight constructions of app
// and every other app proceed. Unknown apps are ignored.
func (c *Cache) Invalidate(app string) {
	e, ok := c.entries.Load(app)
	if !ok {
		return
	}
	e.want.Add(1)
	slog.Info("Runner invalidated", "app", app)

	c.reaping.Go(func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		if e.runner == nil || e.gen == e.want.Load() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.closeTimeout)
		defer cancel()
		c.closeRunner(ctx, app, e.runner)
		e.runner = nil
	})
}

// Follow invalidates every app received on changes until ctx is done or the
// channel is closed.
func (c *Cache) Follow(ctx context.Context, changes <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case app, ok := <-changes:
			if !ok {
				return
			}
			c.Invalidate(app)
		}
	}
}

// CloseAll closes every cached runner concurrently and waits for pending
// background closes. Failures are logged. The cache refuses new runners
// afterwards.
func (c *Cache) CloseAll(ctx context.Context) {
	c.closed.Store(true)

	var wg sync.WaitGroup
	c.entries.Range(func(app string, e *entry) bool {
		wg.Go(func() {
			e.mu.Lock()
			defer e.mu.Unlock()

			if e.runner != nil {
				c.closeRunner(ctx, app, e.runner)
				e.runner = nil
			}
		})
		return true
	})
	wg.Wait()
	c.reaping.Wait()
}

func (c *Cache) closeRunner(ctx context.Context, app string, r *runner.Runner) {
	err := r.Close(ctx)
	c.metrics.RunnerClosed(err)
	if err != nil {
		slog.Error("Failed to close runner", "app", app, "error", err)
		return
	}
	slog.Info("Runner closed", "app", app)
}
