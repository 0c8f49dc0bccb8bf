package evaluation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/docker/agentgateway/pkg/event"
)

const (
	historyDir      = ".eval_history"
	resultExtension = ".evalset_result.json"
)

// ResultsStore keeps the results of eval runs.
type ResultsStore interface {
	// Save records the results of a run of setID. A case that already has a
	// result in that set is overwritten; other cases are kept.
	Save(app, setID string, results []EvalCaseResult) (*EvalSetResult, error)
	Get(app, resultID string) (*EvalSetResult, error)
	List(app string) ([]string, error)
}

// LocalResultsStore keeps one file per eval set:
// <dir>/<app>/.eval_history/<app>_<set>.evalset_result.json
type LocalResultsStore struct {
	dir string
	mu  sync.Mutex
}

var _ ResultsStore = (*LocalResultsStore)(nil)

func NewLocalResultsStore(dir string) *LocalResultsStore {
	return &LocalResultsStore{dir: dir}
}

// ResultID is the id under which the results of setID are stored.
func ResultID(app, setID string) string {
	return app + "_" + setID
}

func (s *LocalResultsStore) path(app, resultID string) string {
	return filepath.Join(s.dir, app, historyDir, resultID+resultExtension)
}

func (s *LocalResultsStore) Save(app, setID string, results []EvalCaseResult) (*EvalSetResult, error) {
	if err := checkApp(app); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := ResultID(app, setID)
	path := s.path(app, id)

	stored := &EvalSetResult{EvalSetResultID: id, EvalSetResultName: id, EvalSetID: setID}
	if err := readJSON(path, stored); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	for _, r := range results {
		i := slices.IndexFunc(stored.EvalCaseResults, func(existing EvalCaseResult) bool { return existing.EvalID == r.EvalID })
		if i < 0 {
			stored.EvalCaseResults = append(stored.EvalCaseResults, r)
			continue
		}
		stored.EvalCaseResults[i] = r
	}
	stored.CreationTimestamp = event.Timestamp(time.Now())

	if err := writeJSON(path, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *LocalResultsStore) Get(app, resultID string) (*EvalSetResult, error) {
	if checkApp(app) != nil || checkApp(resultID) != nil {
		return nil, fmt.Errorf("%s: %w", resultID, ErrEvalResultNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result EvalSetResult
	err := readJSON(s.path(app, resultID), &result)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", resultID, ErrEvalResultNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *LocalResultsStore) List(app string) ([]string, error) {
	if err := checkApp(app); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(s.dir, app, historyDir))
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	ids := []string{}
	for _, e := range entries {
		if id, ok := strings.CutSuffix(e.Name(), resultExtension); ok && !e.IsDir() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}
