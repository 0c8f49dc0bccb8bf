package server

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/docker/agentgateway/pkg/agent"
	"github.com/docker/agentgateway/pkg/api"
	"github.com/docker/agentgateway/pkg/event"
	"github.com/docker/agentgateway/pkg/runner"
	"github.com/docker/agentgateway/pkg/runnercache"
	"github.com/docker/agentgateway/pkg/session"
	"github.com/docker/agentgateway/pkg/stream"
)

func (s *Server) run(c echo.Context) error {
	req, r, err := s.prepareRun(c)
	if err != nil {
		return err
	}

	events := []*event.Event{}
	for ev, err := range r.Run(c.Request().Context(), runRequest(req)) {
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("agent run failed: %v", err))
		}
		events = append(events, ev)
	}
	slog.Info("Agent run complete", "app", req.AppName, "session", req.SessionID, "events", len(events))

	return c.JSON(http.StatusOK, events)
}

func (s *Server) runSSE(c echo.Context) error {
	req, r, err := s.prepareRun(c)
	if err != nil {
		return err
	}

	stream.SetHeaders(c.Response().Header())
	c.Response().WriteHeader(http.StatusOK)

	produce := func(ctx context.Context) iter.Seq2[*event.Event, error] {
		return r.Run(ctx, runRequest(req))
	}
	if err := s.bridge.Stream(c.Request().Context(), c.Response(), req.SessionID, produce); err != nil {
		slog.Debug("SSE client went away", "app", req.AppName, "session", req.SessionID, "error", err)
	}
	return nil
}

// prepareRun decodes a run request, checks its session and resolves the
// runner, so that failures are reported before any output is written.
func (s *Server) prepareRun(c echo.Context) (api.AgentRunRequest, *runner.Runner, error) {
	var req api.AgentRunRequest
	if err := c.Bind(&req); err != nil {
		return req, nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}
	if req.AppName == "" || req.UserID == "" || req.SessionID == "" {
		return req, nil, echo.NewHTTPError(http.StatusBadRequest, "app_name, user_id and session_id are required")
	}

	ctx := c.Request().Context()
	if _, err := s.deps.Services.Sessions.Get(ctx, session.Key{AppName: req.AppName, UserID: req.UserID, SessionID: req.SessionID}); err != nil {
		return req, nil, sessionError(err)
	}

	r, err := s.deps.Runners.GetOrCreate(ctx, req.AppName)
	if err != nil {
		return req, nil, runnerError(err)
	}
	return req, r, nil
}

func runRequest(req api.AgentRunRequest) runner.RunRequest {
	mode := agent.StreamingNone
	if req.Streaming {
		mode = agent.StreamingSSE
	}
	return runner.RunRequest{
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		NewMessage: req.NewMessage,
		StateDelta: req.StateDelta,
		RunConfig:  agent.RunConfig{StreamingMode: mode},
	}
}

func sessionError(err error) error {
	if errors.Is(err, session.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Session not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to get session: %v", err))
}

// runnerError maps runner construction failures: an unknown app is 404,
// anything else is a bad definition.
func runnerError(err error) error {
	var creationErr *runnercache.CreationError
	switch {
	case errors.Is(err, agent.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &creationErr):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
