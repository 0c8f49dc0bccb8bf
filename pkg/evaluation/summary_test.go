package evaluation

import (
	"strings"
	"testing"
	"time"

	"gotest.tools/v3/golden"
)

func metricResult(name string, score *float64, status EvalStatus) EvalMetricResult {
	return EvalMetricResult{EvalMetric: EvalMetric{MetricName: name}, Score: score, EvalStatus: status}
}

func TestReport(t *testing.T) {
	t.Parallel()

	results := []EvalCaseResult{
		{
			EvalID:          "b_case",
			FinalEvalStatus: StatusPassed,
			OverallEvalMetricResults: []EvalMetricResult{
				metricResult(MetricToolTrajectory, new(1.0), StatusPassed),
				metricResult(MetricResponseMatch, new(0.9), StatusPassed),
			},
		},
		{
			EvalID:          "a_case",
			FinalEvalStatus: StatusFailed,
			OverallEvalMetricResults: []EvalMetricResult{
				metricResult(MetricToolTrajectory, new(0.5), StatusFailed),
				metricResult(MetricResponseMatch, nil, StatusNotEvaluated),
			},
		},
		{
			EvalID:          "c_case",
			FinalEvalStatus: StatusFailed,
			Error:           "boom",
			OverallEvalMetricResults: []EvalMetricResult{
				metricResult(MetricToolTrajectory, nil, StatusNotEvaluated),
				metricResult(MetricResponseMatch, nil, StatusNotEvaluated),
			},
		},
	}

	var out strings.Builder
	PrintResults(&out, results)
	PrintSummary(&out, Summarize(results), 1234567*time.Microsecond)

	golden.Assert(t, out.String(), "report.golden")
}
