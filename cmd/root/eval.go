package root

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/docker/agentgateway/pkg/evaluation"
	"github.com/docker/agentgateway/pkg/runnercache"
)

type evalFlags struct {
	root *rootFlags

	evalDir     string
	metrics     []string
	concurrency int
}

func newEvalCmd(root *rootFlags) *cobra.Command {
	flags := evalFlags{root: root}

	cmd := &cobra.Command{
		Use:   "eval <agents-dir> <app> <eval-set> [<eval-id>...]",
		Short: "Run an eval set against an application",
		Long:  `Replay the recorded cases of an eval set, score them and store the results next to the eval set`,
		Args:  cobra.MinimumNArgs(3),
		RunE:  flags.runEvalCommand,
	}

	cmd.Flags().StringVar(&flags.evalDir, "eval-dir", "", "Directory holding eval sets and results (default: the agents directory)")
	cmd.Flags().StringSliceVar(&flags.metrics, "metric", nil, "Metric to score, as name=threshold (default: tool_trajectory_avg_score=1.0, response_match_score=0.8)")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "Cases run at once (default: number of CPUs)")

	return cmd
}

func (f *evalFlags) runEvalCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	evalMetrics, err := parseMetrics(f.metrics)
	if err != nil {
		return err
	}

	s := *f.root.settings
	s.AgentsDir = args[0]
	if f.evalDir != "" {
		s.EvalDir = f.evalDir
	}

	svc, closeServices, err := newServices(ctx, &s, nil)
	if err != nil {
		return err
	}
	defer closeServices()

	loader, err := newLoader(s.AgentsDir)
	if err != nil {
		return err
	}
	runners := runnercache.New(runnercache.LoaderBuild(loader, svc))
	defer runners.CloseAll(ctx)

	var opts []evaluation.Option
	if f.concurrency > 0 {
		opts = append(opts, evaluation.WithConcurrency(f.concurrency))
	}
	evalDir := s.EvalStorageDir()
	orchestrator := evaluation.NewOrchestrator(
		evaluation.NewLocalEvalSetsManager(evalDir),
		evaluation.NewLocalResultsStore(evalDir),
		runners,
		opts...,
	)

	start := time.Now()
	results, err := orchestrator.Run(ctx, evaluation.RunRequest{
		AppName:   args[1],
		EvalSetID: args[2],
		EvalIDs:   args[3:],
		Metrics:   evalMetrics,
	})
	if results == nil && err != nil {
		return err
	}

	evaluation.PrintResults(out, results)
	summary := evaluation.Summarize(results)
	evaluation.PrintSummary(out, summary, time.Since(start))

	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		return RuntimeError{Err: err}
	}
	if summary.PassedCases < summary.TotalCases {
		return RuntimeError{Err: fmt.Errorf("%d of %d cases did not pass", summary.TotalCases-summary.PassedCases, summary.TotalCases)}
	}
	return nil
}

// parseMetrics reads name=threshold pairs.
func parseMetrics(pairs []string) ([]evaluation.EvalMetric, error) {
	var out []evaluation.EvalMetric
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid metric %q, expected name=threshold", pair)
		}
		threshold, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid threshold for %s: %w", name, err)
		}
		out = append(out, evaluation.EvalMetric{MetricName: name, Threshold: threshold})
	}
	return out, nil
}
