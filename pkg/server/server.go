// Package server exposes the gateway over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/docker/agentgateway/pkg/agent"
	"github.com/docker/agentgateway/pkg/evaluation"
	"github.com/docker/agentgateway/pkg/live"
	"github.com/docker/agentgateway/pkg/metrics"
	"github.com/docker/agentgateway/pkg/runner"
	"github.com/docker/agentgateway/pkg/stream"
	"github.com/docker/agentgateway/pkg/tracestore"
)

// Runners resolves and invalidates per-app runners.
type Runners interface {
	GetOrCreate(ctx context.Context, app string) (*runner.Runner, error)
	Invalidate(app string)
}

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Loader      *agent.Loader
	Runners     Runners
	Services    runner.Services
	Traces      *tracestore.Store
	EvalSets    evaluation.EvalSetsManager
	EvalResults evaluation.ResultsStore
}

type Server struct {
	e    *echo.Echo
	deps Deps

	allowOrigins    []string
	heartbeat       time.Duration
	evalConcurrency int
	metrics         *metrics.Metrics

	bridge *stream.Bridge
	evals  *evaluation.Orchestrator
}

type Option func(*Server)

// WithAllowOrigins enables CORS for the given origins.
func WithAllowOrigins(origins []string) Option {
	return func(s *Server) {
		s.allowOrigins = origins
	}
}

func WithHeartbeatInterval(d time.Duration) Option {
	return func(s *Server) {
		s.heartbeat = d
	}
}

func WithEvalConcurrency(n int) Option {
	return func(s *Server) {
		s.evalConcurrency = n
	}
}

// WithMetrics instruments the server and serves the registry at /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

func New(deps Deps, opts ...Option) *Server {
	s := &Server{
		deps:      deps,
		heartbeat: stream.DefaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.bridge = stream.NewBridge(stream.WithHeartbeatInterval(s.heartbeat), stream.WithMetrics(s.metrics))
	evalOpts := []evaluation.Option{evaluation.WithMetrics(s.metrics)}
	if s.evalConcurrency > 0 {
		evalOpts = append(evalOpts, evaluation.WithConcurrency(s.evalConcurrency))
	}
	s.evals = evaluation.NewOrchestrator(deps.EvalSets, deps.EvalResults, deps.Runners, evalOpts...)

	liveOpts := []live.Option{live.WithMetrics(s.metrics)}
	if len(s.allowOrigins) > 0 {
		liveOpts = append(liveOpts, live.WithCheckOrigin(s.checkOrigin))
	}
	liveHandler := live.NewHandler(deps.Runners, deps.Services.Sessions, liveOpts...)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	if len(s.allowOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     s.allowOrigins,
			AllowCredentials: true,
		}))
	}
	e.Use(requestLogger())
	s.e = e

	// Execution
	e.POST("/run", s.run)
	e.POST("/run_sse", s.runSSE)
	e.GET("/run_live", echo.WrapHandler(liveHandler))

	// Applications
	e.GET("/list-apps", s.listApps)
	e.POST("/builder/save", s.builderSave)

	// Sessions
	sessions := e.Group("/apps/:app/users/:user/sessions")
	sessions.GET("", s.listSessions)
	sessions.POST("", s.createSession)
	sessions.GET("/:session", s.getSession)
	sessions.POST("/:session", s.createSessionWithID)
	sessions.DELETE("/:session", s.deleteSession)

	// Artifacts
	artifacts := sessions.Group("/:session/artifacts")
	artifacts.GET("", s.listArtifacts)
	artifacts.GET("/:name", s.loadArtifact)
	artifacts.DELETE("/:name", s.deleteArtifact)
	artifacts.GET("/:name/versions", s.listArtifactVersions)
	artifacts.GET("/:name/versions/:version", s.loadArtifactVersion)

	// Evaluation
	evalSets := e.Group("/apps/:app/eval_sets")
	evalSets.GET("", s.listEvalSets)
	evalSets.POST("/:set", s.createEvalSet)
	evalSets.POST("/:set/add_session", s.addSessionToEvalSet)
	evalSets.GET("/:set/evals", s.listEvals)
	evalSets.GET("/:set/evals/:eval", s.getEval)
	evalSets.PUT("/:set/evals/:eval", s.updateEval)
	evalSets.DELETE("/:set/evals/:eval", s.deleteEval)
	evalSets.POST("/:set/run_eval", s.runEval)
	e.GET("/apps/:app/eval_results", s.listEvalResults)
	e.GET("/apps/:app/eval_results/:result", s.getEvalResult)

	// Diagnostics
	e.GET("/debug/trace/:event_id", s.traceByEvent)
	e.GET("/debug/trace/session/:session_id", s.traceBySession)
	e.POST("/feedback", s.feedback)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	// Health check endpoint
	e.GET("/ping", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.e
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully: in-flight requests get shutdownTimeout to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           s.e,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	stopped := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		stopped <- srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Failed to start server", "error", err)
		return err
	}
	return <-stopped
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.allowOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				slog.Warn("Request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			slog.Debug("Request", attrs...)
			return nil
		},
	})
}
