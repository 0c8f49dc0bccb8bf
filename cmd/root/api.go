package root

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/docker/agentgateway/pkg/agentwatch"
	"github.com/docker/agentgateway/pkg/config"
	"github.com/docker/agentgateway/pkg/evaluation"
	"github.com/docker/agentgateway/pkg/metrics"
	"github.com/docker/agentgateway/pkg/runnercache"
	"github.com/docker/agentgateway/pkg/server"
	"github.com/docker/agentgateway/pkg/tracestore"
)

type apiFlags struct {
	root *rootFlags

	host            string
	port            int
	listen          string
	sessionDB       string
	artifactDir     string
	evalDir         string
	allowOrigins    []string
	reloadAgents    bool
	heartbeat       time.Duration
	maxSpans        int
	evalConcurrency int
}

func newAPICmd(root *rootFlags) *cobra.Command {
	flags := apiFlags{root: root}

	cmd := &cobra.Command{
		Use:   "api [<agents-dir>]",
		Short: "Start the gateway HTTP server",
		Long:  `Serve every application of the agents directory over HTTP, SSE and WebSocket`,
		Args:  cobra.MaximumNArgs(1),
		RunE:  flags.runAPICommand,
	}

	cmd.Flags().StringVar(&flags.host, "host", config.DefaultHost, "Host to bind")
	cmd.Flags().IntVar(&flags.port, "port", config.DefaultPort, "Port to listen on")
	cmd.Flags().StringVarP(&flags.listen, "listen", "l", "", "Full listen address (unix://<path>, fd://<n>, tcp://<host:port>), overrides --host and --port")
	cmd.Flags().StringVarP(&flags.sessionDB, "session-db", "s", "", "SQLite file for sessions (default: in memory)")
	cmd.Flags().StringVar(&flags.artifactDir, "artifact-dir", "", "Directory for artifacts (default: in memory)")
	cmd.Flags().StringVar(&flags.evalDir, "eval-dir", "", "Directory for eval sets and results (default: the agents directory)")
	cmd.Flags().StringSliceVar(&flags.allowOrigins, "allow-origins", nil, "Origins allowed by CORS and the live endpoint")
	cmd.Flags().BoolVar(&flags.reloadAgents, "reload-agents", false, "Rebuild an application's runner when its files change")
	cmd.Flags().DurationVar(&flags.heartbeat, "heartbeat", config.DefaultHeartbeatInterval, "Idle interval after which SSE streams get a keep-alive comment")
	cmd.Flags().IntVar(&flags.maxSpans, "max-spans", 0, "Maximum number of spans kept for trace lookups (0 = unbounded)")
	cmd.Flags().IntVar(&flags.evalConcurrency, "eval-concurrency", 0, "Eval cases run at once (default: number of CPUs)")

	return cmd
}

// settings applies the flags given on the command line over the loaded
// settings.
func (f *apiFlags) settings(cmd *cobra.Command, args []string) (*config.Settings, error) {
	s := *f.root.settings
	if len(args) == 1 {
		s.AgentsDir = args[0]
	}

	changed := cmd.Flags().Changed
	if changed("host") {
		s.Host = f.host
	}
	if changed("port") {
		s.Port = f.port
	}
	if changed("listen") {
		s.Listen = f.listen
	}
	if changed("session-db") {
		s.SessionDB = f.sessionDB
	}
	if changed("artifact-dir") {
		s.ArtifactDir = f.artifactDir
	}
	if changed("eval-dir") {
		s.EvalDir = f.evalDir
	}
	if changed("allow-origins") {
		s.AllowOrigins = f.allowOrigins
	}
	if changed("reload-agents") {
		s.ReloadAgents = f.reloadAgents
	}
	if changed("heartbeat") {
		s.HeartbeatInterval = f.heartbeat
	}
	if changed("max-spans") {
		s.MaxSpans = f.maxSpans
	}
	if changed("eval-concurrency") {
		s.EvalConcurrency = f.evalConcurrency
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &s, nil
}

func (f *apiFlags) runAPICommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s, err := f.settings(cmd, args)
	if err != nil {
		return err
	}

	m := metrics.New()
	traces := tracestore.New(tracestore.WithMaxSpans(s.MaxSpans), tracestore.WithMetrics(m))
	tp, err := newTracerProvider(ctx, traces, s.OTLPEndpoint, f.root.enableOtel)
	if err != nil {
		return err
	}
	defer func() {
		if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("Failed to flush traces", "error", err)
		}
	}()

	svc, closeServices, err := newServices(ctx, s, tp)
	if err != nil {
		return err
	}
	defer closeServices()

	loader, err := newLoader(s.AgentsDir)
	if err != nil {
		return err
	}

	runners := runnercache.New(runnercache.LoaderBuild(loader, svc), runnercache.WithMetrics(m))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.ShutdownTimeout)
		defer cancel()
		runners.CloseAll(closeCtx)
		slog.Info("All runners closed")
	}()

	if s.ReloadAgents {
		w, err := agentwatch.New(loader.Dir())
		if err != nil {
			return fmt.Errorf("watching agents directory: %w", err)
		}
		go w.Run(ctx)
		go runners.Follow(ctx, w.Changes())
	}

	evalDir := s.EvalStorageDir()
	srv := server.New(server.Deps{
		Loader:      loader,
		Runners:     runners,
		Services:    svc,
		Traces:      traces,
		EvalSets:    evaluation.NewLocalEvalSetsManager(evalDir),
		EvalResults: evaluation.NewLocalResultsStore(evalDir),
	},
		server.WithAllowOrigins(s.AllowOrigins),
		server.WithHeartbeatInterval(s.HeartbeatInterval),
		server.WithEvalConcurrency(s.EvalConcurrency),
		server.WithMetrics(m),
	)

	ln, err := server.Listen(ctx, s.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr(), err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Listening on "+ln.Addr().String())
	slog.Info("Starting server", "agents", loader.Dir(), "addr", ln.Addr().String(), "title", s.AppTitle)

	if err := srv.Serve(ctx, ln, s.ShutdownTimeout); err != nil {
		return RuntimeError{Err: fmt.Errorf("serving: %w", err)}
	}
	slog.Info("Server stopped")
	return nil
}
