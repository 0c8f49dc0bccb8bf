package evaluation

import (
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/docker/agentgateway/pkg/session"
)

var (
	ErrEvalSetNotFound    = errors.New("eval set not found")
	ErrEvalCaseNotFound   = errors.New("eval case not found")
	ErrEvalSetExists      = errors.New("eval set already exists")
	ErrEvalCaseExists     = errors.New("eval case already exists")
	ErrEvalResultNotFound = errors.New("eval result not found")
	ErrInvalidID          = errors.New("invalid id")
)

// DependencyError reports that the application under evaluation could not be
// prepared. No case of the batch was run.
type DependencyError struct {
	App string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("preparing %q for evaluation: %v", e.App, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// EvalStatus is the outcome of a metric or of a whole case.
type EvalStatus int

const (
	StatusPassed       EvalStatus = 1
	StatusFailed       EvalStatus = 2
	StatusNotEvaluated EvalStatus = 3
)

func (s EvalStatus) String() string {
	switch s {
	case StatusPassed:
		return "PASSED"
	case StatusFailed:
		return "FAILED"
	default:
		return "NOT_EVALUATED"
	}
}

// ToolUse is one function call made by the agent.
type ToolUse struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// IntermediateData is what happened between the user message and the final
// response.
type IntermediateData struct {
	ToolUses []ToolUse `json:"tool_uses"`
}

// Invocation is one user turn and the agent's answer to it.
type Invocation struct {
	InvocationID      string           `json:"invocation_id,omitempty"`
	UserContent       *genai.Content   `json:"user_content"`
	FinalResponse     *genai.Content   `json:"final_response,omitempty"`
	IntermediateData  IntermediateData `json:"intermediate_data"`
	CreationTimestamp float64          `json:"creation_timestamp,omitempty"`
}

// SessionInput seeds the session a case is replayed in.
type SessionInput struct {
	AppName string         `json:"app_name"`
	UserID  string         `json:"user_id"`
	State   map[string]any `json:"state,omitempty"`
}

// EvalCase is a recorded conversation.
type EvalCase struct {
	EvalID            string        `json:"eval_id"`
	Conversation      []Invocation  `json:"conversation"`
	SessionInput      *SessionInput `json:"session_input,omitempty"`
	CreationTimestamp float64       `json:"creation_timestamp"`
}

// EvalSet groups the cases of an application.
type EvalSet struct {
	EvalSetID         string     `json:"eval_set_id"`
	Name              string     `json:"name,omitempty"`
	Description       string     `json:"description,omitempty"`
	EvalCases         []EvalCase `json:"eval_cases"`
	CreationTimestamp float64    `json:"creation_timestamp"`
}

// EvalMetric names a metric and the score it must reach to pass.
type EvalMetric struct {
	MetricName string  `json:"metric_name"`
	Threshold  float64 `json:"threshold"`
}

type EvalMetricResult struct {
	EvalMetric
	Score      *float64   `json:"score,omitempty"`
	EvalStatus EvalStatus `json:"eval_status"`
	Error      string     `json:"error,omitempty"`
}

type EvalMetricResultPerInvocation struct {
	ActualInvocation   Invocation         `json:"actual_invocation"`
	ExpectedInvocation Invocation         `json:"expected_invocation"`
	EvalMetricResults  []EvalMetricResult `json:"eval_metric_results"`
}

// EvalCaseResult is the outcome of replaying one case.
type EvalCaseResult struct {
	EvalSetFile                   string                          `json:"eval_set_file"`
	EvalSetID                     string                          `json:"eval_set_id"`
	EvalID                        string                          `json:"eval_id"`
	FinalEvalStatus               EvalStatus                      `json:"final_eval_status"`
	OverallEvalMetricResults      []EvalMetricResult              `json:"overall_eval_metric_results"`
	EvalMetricResultPerInvocation []EvalMetricResultPerInvocation `json:"eval_metric_result_per_invocation"`
	Error                         string                          `json:"error,omitempty"`
	UserID                        string                          `json:"user_id"`
	SessionID                     string                          `json:"session_id"`
	SessionDetails                *session.Session                `json:"session_details,omitempty"`
}

// EvalSetResult is the stored outcome of the runs of an eval set.
type EvalSetResult struct {
	EvalSetResultID   string           `json:"eval_set_result_id"`
	EvalSetResultName string           `json:"eval_set_result_name"`
	EvalSetID         string           `json:"eval_set_id"`
	EvalCaseResults   []EvalCaseResult `json:"eval_case_results"`
	CreationTimestamp float64          `json:"creation_timestamp"`
}
