package evaluation

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"time"
)

// MetricSummary counts the outcomes of one metric across cases.
type MetricSummary struct {
	Name         string
	Passed       int
	Failed       int
	NotEvaluated int
}

func (m MetricSummary) total() int {
	return m.Passed + m.Failed + m.NotEvaluated
}

// Summary contains aggregate statistics across the cases of a run.
type Summary struct {
	TotalCases  int
	PassedCases int
	FailedCases int
	Errors      int
	Metrics     []MetricSummary
}

// Summarize aggregates case results. Metrics keep their first-seen order.
func Summarize(results []EvalCaseResult) Summary {
	summary := Summary{TotalCases: len(results)}
	index := map[string]int{}

	for _, r := range results {
		switch r.FinalEvalStatus {
		case StatusPassed:
			summary.PassedCases++
		case StatusFailed:
			summary.FailedCases++
		}
		if r.Error != "" {
			summary.Errors++
		}

		for _, m := range r.OverallEvalMetricResults {
			i, ok := index[m.MetricName]
			if !ok {
				i = len(summary.Metrics)
				index[m.MetricName] = i
				summary.Metrics = append(summary.Metrics, MetricSummary{Name: m.MetricName})
			}
			switch m.EvalStatus {
			case StatusPassed:
				summary.Metrics[i].Passed++
			case StatusFailed:
				summary.Metrics[i].Failed++
			default:
				summary.Metrics[i].NotEvaluated++
			}
		}
	}
	return summary
}

// PrintSummary outputs the summary of a run to the writer.
func PrintSummary(out io.Writer, summary Summary, duration time.Duration) {
	fmt.Fprintln(out)

	if summary.Errors > 0 {
		fmt.Fprintf(out, "❌ %24s: %d/%d cases could not run\n", "Errors", summary.Errors, summary.TotalCases)
	}

	printMetric(out, "Cases", summary.PassedCases, summary.TotalCases)
	for _, m := range summary.Metrics {
		printMetric(out, m.Name, m.Passed, m.total())
	}

	fmt.Fprintf(out, "\nTotal Time: %s\n", duration.Round(time.Millisecond))
}

// PrintResults outputs one line per case.
func PrintResults(out io.Writer, results []EvalCaseResult) {
	sorted := slices.Clone(results)
	slices.SortFunc(sorted, func(a, b EvalCaseResult) int {
		return cmp.Compare(a.EvalID, b.EvalID)
	})

	for _, r := range sorted {
		fmt.Fprintf(out, "%s %s", statusIcon(r.FinalEvalStatus), r.EvalID)
		for _, m := range r.OverallEvalMetricResults {
			if m.Score != nil {
				fmt.Fprintf(out, "  %s=%.2f", m.MetricName, *m.Score)
			} else {
				fmt.Fprintf(out, "  %s=n/a", m.MetricName)
			}
		}
		if r.Error != "" {
			fmt.Fprintf(out, "  error: %s", r.Error)
		}
		fmt.Fprintln(out)
	}
}

func printMetric(out io.Writer, label string, passed, total int) {
	ratio := 0.0
	if total > 0 {
		ratio = float64(passed) / float64(total)
	}
	fmt.Fprintf(out, "%s %24s: %d/%d passed (%.1f%%)\n", ratioIcon(ratio), label, passed, total, ratio*100)
}

func ratioIcon(ratio float64) string {
	switch {
	case ratio > 0.75:
		return "✅"
	case ratio > 0.50:
		return "⚠️"
	default:
		return "❌"
	}
}

func statusIcon(status EvalStatus) string {
	switch status {
	case StatusPassed:
		return "✅"
	case StatusFailed:
		return "❌"
	default:
		return "➖"
	}
}
