package evaluation

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/docker/agentgateway/pkg/event"
)

// Metric names.
const (
	MetricToolTrajectory = "tool_trajectory_avg_score"
	MetricResponseMatch  = "response_match_score"
)

// DefaultMetrics are used when a run names no metric.
var DefaultMetrics = []EvalMetric{
	{MetricName: MetricToolTrajectory, Threshold: 1.0},
	{MetricName: MetricResponseMatch, Threshold: 0.8},
}

// scorer rates one actual invocation against the expected one, from 0 to 1.
type scorer func(actual, expected Invocation) float64

var scorers = map[string]scorer{
	MetricToolTrajectory: func(actual, expected Invocation) float64 {
		return toolTrajectoryScore(expected.IntermediateData.ToolUses, actual.IntermediateData.ToolUses)
	},
	MetricResponseMatch: func(actual, expected Invocation) float64 {
		return rouge1(event.ContentText(expected.FinalResponse), event.ContentText(actual.FinalResponse))
	},
}

// evaluate scores a metric over a conversation. It returns the overall result
// and one result per invocation. A metric that cannot be computed is
// NOT_EVALUATED and carries the reason.
func evaluate(metric EvalMetric, actual, expected []Invocation) (EvalMetricResult, []EvalMetricResult) {
	score, ok := scorers[metric.MetricName]
	switch {
	case !ok:
		return notEvaluated(metric, fmt.Errorf("unknown metric %q", metric.MetricName)), nil
	case len(expected) == 0:
		return notEvaluated(metric, fmt.Errorf("no invocation to score")), nil
	case len(actual) != len(expected):
		return notEvaluated(metric, fmt.Errorf("%d invocations were run, %d expected", len(actual), len(expected))), nil
	}

	perInvocation := make([]EvalMetricResult, len(expected))
	total := 0.0
	for i := range expected {
		s := score(actual[i], expected[i])
		total += s
		perInvocation[i] = scored(metric, s)
	}
	return scored(metric, total/float64(len(expected))), perInvocation
}

func scored(metric EvalMetric, score float64) EvalMetricResult {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return notEvaluated(metric, fmt.Errorf("score is not a finite number: %v", score))
	}
	status := StatusFailed
	if score >= metric.Threshold {
		status = StatusPassed
	}
	return EvalMetricResult{EvalMetric: metric, Score: &score, EvalStatus: status}
}

func notEvaluated(metric EvalMetric, err error) EvalMetricResult {
	return EvalMetricResult{EvalMetric: metric, EvalStatus: StatusNotEvaluated, Error: err.Error()}
}

// aggregate folds metric statuses into a case status: any failure fails the
// case, and a case passes only when every metric passed.
func aggregate(results []EvalMetricResult) EvalStatus {
	if len(results) == 0 {
		return StatusNotEvaluated
	}
	status := StatusPassed
	for _, r := range results {
		switch r.EvalStatus {
		case StatusFailed:
			return StatusFailed
		case StatusNotEvaluated:
			status = StatusNotEvaluated
		}
	}
	return status
}

// https://medium.com/nlplanet/two-minutes-nlp-learn-the-rouge-metric-by-examples-f179cc285499
func rouge1(expected, actual string) float64 {
	expectedWords := strings.Fields(strings.ToLower(expected))
	actualWords := strings.Fields(strings.ToLower(actual))
	if len(expectedWords) == 0 && len(actualWords) == 0 {
		return 1.0
	}
	if len(expectedWords) == 0 || len(actualWords) == 0 {
		return 0.0
	}

	actualCounts := make(map[string]int)
	for _, word := range actualWords {
		actualCounts[word]++
	}

	overlap := 0
	for word, expectedCount := range countWords(expectedWords) {
		overlap += min(actualCounts[word], expectedCount)
	}

	precision := float64(overlap) / float64(len(actualWords))
	recall := float64(overlap) / float64(len(expectedWords))
	if precision+recall == 0 {
		return 0.0
	}
	return 2 * (precision * recall) / (precision + recall)
}

func countWords(words []string) map[string]int {
	counts := make(map[string]int)
	for _, w := range words {
		counts[w]++
	}
	return counts
}

// toolTrajectoryScore is the share of positions where both trajectories call
// the same tool with the same arguments, over the longer trajectory.
func toolTrajectoryScore(expected, actual []ToolUse) float64 {
	maximum := max(len(expected), len(actual))
	if maximum == 0 {
		return 1.0
	}

	matches := 0
	for i := range min(len(expected), len(actual)) {
		if expected[i].Name == actual[i].Name && sameArgs(expected[i].Args, actual[i].Args) {
			matches++
		}
	}
	return float64(matches) / float64(maximum)
}

// sameArgs compares arguments by their JSON form, so 1 and 1.0 are equal.
func sameArgs(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(args map[string]any) any {
	data, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return args
	}
	return out
}
