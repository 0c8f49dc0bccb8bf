// Package api holds the request and response bodies of the HTTP surface.
package api

import (
	"google.golang.org/genai"

	"github.com/docker/agentgateway/pkg/evaluation"
	"github.com/docker/agentgateway/pkg/event"
)

// AgentRunRequest represents one turn sent to an application
type AgentRunRequest struct {
	AppName    string         `json:"app_name"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	NewMessage *genai.Content `json:"new_message"`
	Streaming  bool           `json:"streaming,omitempty"`
	StateDelta map[string]any `json:"state_delta,omitempty"`
}

// CreateSessionRequest represents the optional body of a session creation
type CreateSessionRequest struct {
	State  map[string]any `json:"state,omitempty"`
	Events []*event.Event `json:"events,omitempty"`
}

// AddSessionToEvalSetRequest represents a request to record a session as an eval case
type AddSessionToEvalSetRequest struct {
	EvalID    string `json:"eval_id"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// RunEvalRequest represents a request to run an eval set. Empty EvalIDs runs
// every case.
type RunEvalRequest struct {
	EvalIDs     []string                `json:"eval_ids"`
	EvalMetrics []evaluation.EvalMetric `json:"eval_metrics"`
}

// RunEvalResult represents the outcome of one case of an eval run
type RunEvalResult struct {
	AppName                       string                                     `json:"app_name"`
	EvalSetFile                   string                                     `json:"eval_set_file"`
	EvalSetID                     string                                     `json:"eval_set_id"`
	EvalID                        string                                     `json:"eval_id"`
	FinalEvalStatus               evaluation.EvalStatus                      `json:"final_eval_status"`
	OverallEvalMetricResults      []evaluation.EvalMetricResult              `json:"overall_eval_metric_results"`
	EvalMetricResultPerInvocation []evaluation.EvalMetricResultPerInvocation `json:"eval_metric_result_per_invocation"`
	Error                         string                                     `json:"error,omitempty"`
	UserID                        string                                     `json:"user_id"`
	SessionID                     string                                     `json:"session_id"`
}

// NewRunEvalResult converts a case result for the wire
func NewRunEvalResult(app string, r evaluation.EvalCaseResult) RunEvalResult {
	return RunEvalResult{
		AppName:                       app,
		EvalSetFile:                   r.EvalSetFile,
		EvalSetID:                     r.EvalSetID,
		EvalID:                        r.EvalID,
		FinalEvalStatus:               r.FinalEvalStatus,
		OverallEvalMetricResults:      r.OverallEvalMetricResults,
		EvalMetricResultPerInvocation: r.EvalMetricResultPerInvocation,
		Error:                         r.Error,
		UserID:                        r.UserID,
		SessionID:                     r.SessionID,
	}
}

// AgentBuildRequest represents a request to write an agent definition
type AgentBuildRequest struct {
	AgentName   string `json:"agent_name"`
	AgentType   string `json:"agent_type"`
	Model       string `json:"model"`
	Description string `json:"description"`
	Instruction string `json:"instruction"`
}

// Feedback represents end-user feedback about an answer
type Feedback struct {
	AppName   string `json:"app_name"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	EventID   string `json:"event_id"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment,omitempty"`
}
