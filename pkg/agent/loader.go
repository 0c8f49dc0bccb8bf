package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"
	"github.com/natefinch/atomic"

	"github.com/docker/agentgateway/pkg/environment"
)

// DefinitionFile is the file describing an application's root agent.
const DefinitionFile = "root_agent.yaml"

var ErrNotFound = errors.New("agent not found")

// Definition is the content of root_agent.yaml.
type Definition struct {
	AgentClass  string         `yaml:"agent_class" json:"agent_class"`
	Name        string         `yaml:"name" json:"name"`
	Model       string         `yaml:"model,omitempty" json:"model,omitempty"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Instruction string         `yaml:"instruction,omitempty" json:"instruction,omitempty"`
	Config      map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// Factory builds an agent from its definition.
type Factory func(ctx context.Context, def Definition) (Agent, error)

// Loader builds agents from <dir>/<app>/root_agent.yaml.
type Loader struct {
	dir string

	mu        sync.RWMutex
	factories map[string]Factory
}

// NewLoader returns a loader for dir with the built-in agent classes registered.
func NewLoader(dir string) *Loader {
	l := &Loader{
		dir:       dir,
		factories: map[string]Factory{},
	}
	l.Register(EchoClass, NewEcho)
	return l
}

// Dir returns the agents directory.
func (l *Loader) Dir() string {
	return l.dir
}

// Register makes an agent class available to definitions.
func (l *Loader) Register(class string, factory Factory) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.factories[class] = factory
}

// AppDir returns the directory of app, rejecting names that would escape the
// agents directory.
func (l *Loader) AppDir(app string) (string, error) {
	if app == "" || app == "." || app == ".." || strings.ContainsAny(app, `/\`) {
		return "", fmt.Errorf("invalid app name %q", app)
	}
	return filepath.Join(l.dir, app), nil
}

// ReadDefinition parses the definition of app. A missing app wraps ErrNotFound.
func (l *Loader) ReadDefinition(app string) (Definition, error) {
	dir, err := l.AppDir(app)
	if err != nil {
		return Definition{}, fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, DefinitionFile))
	if errors.Is(err, os.ErrNotExist) {
		return Definition{}, fmt.Errorf("%w: no %s in %s", ErrNotFound, DefinitionFile, dir)
	}
	if err != nil {
		return Definition{}, err
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("parsing %s of %s: %w", DefinitionFile, app, err)
	}
	if def.Name == "" {
		def.Name = app
	}
	if def.AgentClass == "" {
		def.AgentClass = EchoClass
	}
	return def, nil
}

// Load builds the root agent of app. The app's .env file, if any, is loaded
// into the environment first.
func (l *Loader) Load(ctx context.Context, app string) (Agent, error) {
	def, err := l.ReadDefinition(app)
	if err != nil {
		return nil, err
	}

	dir, _ := l.AppDir(app)
	if err := environment.LoadEnvFile(filepath.Join(dir, ".env")); err != nil {
		slog.Warn("Failed to load .env", "app", app, "error", err)
	}

	l.mu.RLock()
	factory, ok := l.factories[def.AgentClass]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown agent_class %q for app %s", def.AgentClass, app)
	}

	a, err := factory(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("building agent %s: %w", def.Name, err)
	}
	slog.Debug("Agent loaded", "app", app, "class", def.AgentClass, "name", a.Name())
	return a, nil
}

// ListApps returns the sorted names of the sub-directories of the agents
// directory, skipping hidden directories and caches.
func (l *Loader) ListApps() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("reading agents directory: %w", err)
	}

	var apps []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") || name == "__pycache__" {
			continue
		}
		apps = append(apps, name)
	}
	slices.Sort(apps)
	return apps, nil
}

// Save writes def as the definition of app.
func (l *Loader) Save(app string, def Definition) error {
	dir, err := l.AppDir(app)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(def)
	if err != nil {
		return fmt.Errorf("encoding definition: %w", err)
	}
	return writeFile(filepath.Join(dir, DefinitionFile), data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(data))
}
