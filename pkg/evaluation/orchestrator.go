// Package evaluation replays recorded conversations against an application
// and scores the answers.
package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docker/agentgateway/pkg/event"
	"github.com/docker/agentgateway/pkg/metrics"
	"github.com/docker/agentgateway/pkg/runner"
	"github.com/docker/agentgateway/pkg/session"
)

// DefaultUserID runs cases that do not name a user.
const DefaultUserID = "test_user_id"

// RunnerSource resolves the runner of an app.
type RunnerSource interface {
	GetOrCreate(ctx context.Context, app string) (*runner.Runner, error)
}

// RunRequest selects what to evaluate. Empty EvalIDs runs every case of the
// set; empty Metrics uses DefaultMetrics.
type RunRequest struct {
	AppName   string
	EvalSetID string
	EvalIDs   []string
	Metrics   []EvalMetric
}

// Orchestrator runs eval sets.
type Orchestrator struct {
	sets        EvalSetsManager
	results     ResultsStore
	runners     RunnerSource
	concurrency int
	metrics     *metrics.Metrics
}

type Option func(*Orchestrator)

// WithConcurrency bounds how many cases run at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		o.concurrency = max(n, 1)
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func NewOrchestrator(sets EvalSetsManager, results ResultsStore, runners RunnerSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sets:        sets,
		results:     results,
		runners:     runners,
		concurrency: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// workItem is a case to replay and the position of its result.
type workItem struct {
	index int
	c     *EvalCase
}

// Run replays the selected cases, stores their results and returns them in
// eval set order.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) ([]EvalCaseResult, error) {
	set, err := o.sets.GetEvalSet(req.AppName, req.EvalSetID)
	if err != nil {
		return nil, err
	}

	cases := set.EvalCases
	if len(req.EvalIDs) > 0 {
		cases = slices.DeleteFunc(slices.Clone(cases), func(c EvalCase) bool {
			return !slices.Contains(req.EvalIDs, c.EvalID)
		})
	} else {
		slog.Info("No eval ids given, running every case", "app", req.AppName, "eval_set", req.EvalSetID, "cases", len(cases))
	}

	r, err := o.runners.GetOrCreate(ctx, req.AppName)
	if err != nil {
		return nil, &DependencyError{App: req.AppName, Err: err}
	}

	evalMetrics := req.Metrics
	if len(evalMetrics) == 0 {
		evalMetrics = DefaultMetrics
	}

	results := make([]EvalCaseResult, len(cases))
	work := make(chan workItem, len(cases))
	for i := range cases {
		work <- workItem{index: i, c: &cases[i]}
	}
	close(work)

	var wg sync.WaitGroup
	for range min(o.concurrency, len(cases)) {
		wg.Go(func() {
			for item := range work {
				if ctx.Err() != nil {
					return
				}
				result := o.runCase(ctx, r, set.EvalSetID, item.c, evalMetrics)
				o.metrics.EvalCase(result.FinalEvalStatus.String())
				results[item.index] = result
			}
		})
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := o.results.Save(req.AppName, set.EvalSetID, results); err != nil {
		return results, fmt.Errorf("saving eval results: %w", err)
	}
	return results, nil
}

// runCase replays c in a fresh eval session and scores it. Execution
// failures are reported in the result, not returned.
func (o *Orchestrator) runCase(ctx context.Context, r *runner.Runner, setID string, c *EvalCase, evalMetrics []EvalMetric) EvalCaseResult {
	start := time.Now()
	userID := DefaultUserID
	var state map[string]any
	if c.SessionInput != nil {
		if c.SessionInput.UserID != "" {
			userID = c.SessionInput.UserID
		}
		state = c.SessionInput.State
	}

	result := EvalCaseResult{
		EvalSetFile: setID,
		EvalSetID:   setID,
		EvalID:      c.EvalID,
		UserID:      userID,
		SessionID:   session.EvalPrefix + uuid.NewString(),
	}

	logger := slog.With("app", r.AppName(), "eval_set", setID, "eval_id", c.EvalID)
	logger.Debug("Starting evaluation")

	sessions := r.Services().Sessions
	if _, err := sessions.Create(ctx, session.CreateRequest{
		AppName:   r.AppName(),
		UserID:    userID,
		SessionID: result.SessionID,
		State:     state,
	}); err != nil {
		return failed(result, evalMetrics, fmt.Errorf("creating eval session: %w", err))
	}

	actual, err := replay(ctx, r, userID, result.SessionID, c.Conversation)
	if err != nil {
		logger.Error("Evaluation failed", "error", err)
		result = failed(result, evalMetrics, err)
	} else {
		result.EvalMetricResultPerInvocation = make([]EvalMetricResultPerInvocation, len(c.Conversation))
		for i := range c.Conversation {
			result.EvalMetricResultPerInvocation[i] = EvalMetricResultPerInvocation{
				ActualInvocation:   actual[i],
				ExpectedInvocation: c.Conversation[i],
			}
		}
		for _, metric := range evalMetrics {
			overall, perInvocation := evaluate(metric, actual, c.Conversation)
			result.OverallEvalMetricResults = append(result.OverallEvalMetricResults, overall)
			for i, m := range perInvocation {
				result.EvalMetricResultPerInvocation[i].EvalMetricResults = append(result.EvalMetricResultPerInvocation[i].EvalMetricResults, m)
			}
		}
		result.FinalEvalStatus = aggregate(result.OverallEvalMetricResults)
	}

	if sess, err := sessions.Get(ctx, session.Key{AppName: r.AppName(), UserID: userID, SessionID: result.SessionID}); err == nil {
		result.SessionDetails = sess
	}

	logger.Debug("Evaluation complete", "status", result.FinalEvalStatus, "duration", time.Since(start))
	return result
}

// replay sends each recorded user message and collects what the agent did.
func replay(ctx context.Context, r *runner.Runner, userID, sessionID string, conversation []Invocation) ([]Invocation, error) {
	actual := make([]Invocation, 0, len(conversation))
	for _, expected := range conversation {
		inv := Invocation{UserContent: expected.UserContent}
		for ev, err := range r.Run(ctx, runner.RunRequest{
			UserID:     userID,
			SessionID:  sessionID,
			NewMessage: expected.UserContent,
		}) {
			if err != nil {
				return actual, fmt.Errorf("running invocation %d: %w", len(actual)+1, err)
			}
			if inv.InvocationID == "" {
				inv.InvocationID = ev.InvocationID
			}
			collect(&inv, ev)
		}
		inv.CreationTimestamp = event.Timestamp(time.Now())
		actual = append(actual, inv)
	}
	return actual, nil
}

func failed(result EvalCaseResult, evalMetrics []EvalMetric, err error) EvalCaseResult {
	result.Error = err.Error()
	result.FinalEvalStatus = StatusFailed
	result.OverallEvalMetricResults = nil
	for _, metric := range evalMetrics {
		result.OverallEvalMetricResults = append(result.OverallEvalMetricResults, notEvaluated(metric, err))
	}
	return result
}
