// Package agentwatch reports which applications of an agents directory had
// their definition change on disk.
package agentwatch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher emits an app name on Changes once the files of that app stop
// changing for the debounce period.
type Watcher struct {
	dir      string
	debounce time.Duration

	watcher *fsnotify.Watcher
	changes chan string
	done    chan struct{}

	mu     sync.Mutex
	gen    uint64
	timers map[string]pendingChange
}

// pendingChange is the debounce timer of an app. gen tells a timer that
// fired late apart from the one that replaced it.
type pendingChange struct {
	timer *time.Timer
	gen   uint64
}

type Option func(*Watcher)

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// New watches dir and each of its app sub-directories.
func New(dir string, opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		dir:      filepath.Clean(dir),
		debounce: defaultDebounce,
		watcher:  fw,
		changes:  make(chan string, 16),
		done:     make(chan struct{}),
		timers:   map[string]pendingChange{},
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return nil, err
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		fw.Close()
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() && !ignoredDir(e.Name()) {
			w.add(filepath.Join(w.dir, e.Name()))
		}
	}
	return w, nil
}

// Changes returns the channel app names are sent on. Nothing is sent after
// Run returns.
func (w *Watcher) Changes() <-chan string {
	return w.changes
}

// Run processes file system events until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	defer func() {
		close(w.done)
		w.mu.Lock()
		for _, p := range w.timers {
			p.timer.Stop()
		}
		w.mu.Unlock()
		w.watcher.Close()
	}()

	slog.Debug("Watching agents directory", "dir", w.dir)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Agents directory watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	app, relevant := w.appFor(ev.Name)
	if !relevant {
		return
	}

	// A new app directory needs its own watch.
	if ev.Has(fsnotify.Create) && filepath.Dir(filepath.Clean(ev.Name)) == w.dir {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.add(ev.Name)
		}
	}

	slog.Debug("Agent definition changed", "app", app, "path", ev.Name, "op", ev.Op.String())
	w.schedule(app)
}

// appFor maps a path to the app it belongs to. Changes directly under the
// agents directory only matter for directories; inside an app only definition
// and environment files matter.
func (w *Watcher) appFor(path string) (string, bool) {
	rel, err := filepath.Rel(w.dir, filepath.Clean(path))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}

	parts := strings.Split(rel, string(filepath.Separator))
	app := parts[0]
	if ignoredDir(app) {
		return "", false
	}
	if len(parts) == 1 {
		return app, filepath.Ext(app) == ""
	}

	name := parts[len(parts)-1]
	switch {
	case name == ".env":
		return app, true
	case strings.HasPrefix(name, "."):
		return "", false
	}
	switch filepath.Ext(name) {
	case ".yaml", ".yml", ".json":
		return app, true
	}
	return "", false
}

func (w *Watcher) schedule(app string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.timers[app]; ok {
		p.timer.Stop()
	}
	w.gen++
	gen := w.gen
	w.timers[app] = pendingChange{
		timer: time.AfterFunc(w.debounce, func() { w.fire(app, gen) }),
		gen:   gen,
	}
}

// fire notifies a change of app unless the timer of generation gen has been
// replaced since it was scheduled.
func (w *Watcher) fire(app string, gen uint64) {
	w.mu.Lock()
	if p, ok := w.timers[app]; !ok || p.gen != gen {
		w.mu.Unlock()
		return
	}
	delete(w.timers, app)
	w.mu.Unlock()

	select {
	case w.changes <- app:
	case <-w.done:
	}
}

func (w *Watcher) add(dir string) {
	if err := w.watcher.Add(dir); err != nil {
		slog.Warn("Failed to watch app directory", "dir", dir, "error", err)
	}
}

func ignoredDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "__pycache__"
}
