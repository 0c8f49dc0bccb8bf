package evaluation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/docker/agentgateway/pkg/event"
)

const evalSetExtension = ".evalset.json"

var validID = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// EvalSetsManager stores the eval sets of applications.
type EvalSetsManager interface {
	CreateEvalSet(app, setID string) (*EvalSet, error)
	GetEvalSet(app, setID string) (*EvalSet, error)
	ListEvalSets(app string) ([]string, error)
	AddEvalCase(app, setID string, c EvalCase) error
	GetEvalCase(app, setID, evalID string) (*EvalCase, error)
	UpdateEvalCase(app, setID string, c EvalCase) error
	DeleteEvalCase(app, setID, evalID string) error
}

// LocalEvalSetsManager keeps each eval set in <dir>/<app>/<set>.evalset.json.
type LocalEvalSetsManager struct {
	dir string
	mu  sync.Mutex
}

var _ EvalSetsManager = (*LocalEvalSetsManager)(nil)

func NewLocalEvalSetsManager(dir string) *LocalEvalSetsManager {
	return &LocalEvalSetsManager{dir: dir}
}

func (m *LocalEvalSetsManager) path(app, setID string) string {
	return filepath.Join(m.dir, app, setID+evalSetExtension)
}

func (m *LocalEvalSetsManager) CreateEvalSet(app, setID string) (*EvalSet, error) {
	if err := checkApp(app); err != nil {
		return nil, err
	}
	if err := checkID("eval set", setID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.path(app, setID)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%s: %w", setID, ErrEvalSetExists)
	}

	set := &EvalSet{
		EvalSetID:         setID,
		Name:              setID,
		EvalCases:         []EvalCase{},
		CreationTimestamp: event.Timestamp(time.Now()),
	}
	if err := writeJSON(path, set); err != nil {
		return nil, err
	}
	return set, nil
}

func (m *LocalEvalSetsManager) GetEvalSet(app, setID string) (*EvalSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(app, setID)
}

func (m *LocalEvalSetsManager) load(app, setID string) (*EvalSet, error) {
	if checkApp(app) != nil || checkID("eval set", setID) != nil {
		return nil, fmt.Errorf("%s: %w", setID, ErrEvalSetNotFound)
	}
	var set EvalSet
	err := readJSON(m.path(app, setID), &set)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", setID, ErrEvalSetNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &set, nil
}

func (m *LocalEvalSetsManager) ListEvalSets(app string) ([]string, error) {
	if err := checkApp(app); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(m.dir, app))
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	ids := []string{}
	for _, e := range entries {
		if id, ok := strings.CutSuffix(e.Name(), evalSetExtension); ok && !e.IsDir() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *LocalEvalSetsManager) AddEvalCase(app, setID string, c EvalCase) error {
	if err := checkID("eval case", c.EvalID); err != nil {
		return err
	}
	return m.update(app, setID, func(set *EvalSet) error {
		if slices.ContainsFunc(set.EvalCases, func(existing EvalCase) bool { return existing.EvalID == c.EvalID }) {
			return fmt.Errorf("%s: %w", c.EvalID, ErrEvalCaseExists)
		}
		set.EvalCases = append(set.EvalCases, c)
		return nil
	})
}

func (m *LocalEvalSetsManager) GetEvalCase(app, setID, evalID string) (*EvalCase, error) {
	set, err := m.GetEvalSet(app, setID)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(set.EvalCases, func(c EvalCase) bool { return c.EvalID == evalID })
	if i < 0 {
		return nil, fmt.Errorf("%s: %w", evalID, ErrEvalCaseNotFound)
	}
	return &set.EvalCases[i], nil
}

func (m *LocalEvalSetsManager) UpdateEvalCase(app, setID string, c EvalCase) error {
	return m.update(app, setID, func(set *EvalSet) error {
		i := slices.IndexFunc(set.EvalCases, func(existing EvalCase) bool { return existing.EvalID == c.EvalID })
		if i < 0 {
			return fmt.Errorf("%s: %w", c.EvalID, ErrEvalCaseNotFound)
		}
		set.EvalCases[i] = c
		return nil
	})
}

func (m *LocalEvalSetsManager) DeleteEvalCase(app, setID, evalID string) error {
	return m.update(app, setID, func(set *EvalSet) error {
		before := len(set.EvalCases)
		set.EvalCases = slices.DeleteFunc(set.EvalCases, func(c EvalCase) bool { return c.EvalID == evalID })
		if len(set.EvalCases) == before {
			return fmt.Errorf("%s: %w", evalID, ErrEvalCaseNotFound)
		}
		return nil
	})
}

func (m *LocalEvalSetsManager) update(app, setID string, change func(*EvalSet) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, err := m.load(app, setID)
	if err != nil {
		return err
	}
	if err := change(set); err != nil {
		return err
	}
	return writeJSON(m.path(app, setID), set)
}

func checkID(kind, id string) error {
	if !validID.MatchString(id) {
		return fmt.Errorf("%s id %q must contain only letters, digits and underscores: %w", kind, id, ErrInvalidID)
	}
	return nil
}

// checkApp rejects app names that would escape the storage directory.
func checkApp(app string) error {
	if app == "" || app == "." || app == ".." || strings.ContainsAny(app, `/\`) {
		return fmt.Errorf("app name %q: %w", app, ErrInvalidID)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}
