package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/docker/agentgateway/pkg/agent"
	"github.com/docker/agentgateway/pkg/api"
	"github.com/docker/agentgateway/pkg/tracestore"
)

func (s *Server) listApps(c echo.Context) error {
	apps, err := s.deps.Loader.ListApps()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to list apps: %v", err))
	}
	if apps == nil {
		apps = []string{}
	}
	return c.JSON(http.StatusOK, apps)
}

// builderSave writes the definition of an agent and reports whether it loads.
// The cached runner of the app is dropped so the next request picks it up.
func (s *Server) builderSave(c echo.Context) error {
	var req api.AgentBuildRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}
	if req.AgentName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent_name is required")
	}

	def := agent.Definition{
		AgentClass:  req.AgentType,
		Name:        req.AgentName,
		Model:       req.Model,
		Description: req.Description,
		Instruction: req.Instruction,
	}
	if err := s.deps.Loader.Save(req.AgentName, def); err != nil {
		slog.Error("Failed to save agent", "agent", req.AgentName, "error", err)
		return c.JSON(http.StatusOK, false)
	}
	s.deps.Runners.Invalidate(req.AgentName)

	if _, err := s.deps.Loader.Load(c.Request().Context(), req.AgentName); err != nil {
		slog.Error("Saved agent does not load", "agent", req.AgentName, "error", err)
		return c.JSON(http.StatusOK, false)
	}
	slog.Info("Agent saved", "agent", req.AgentName, "class", def.AgentClass)
	return c.JSON(http.StatusOK, true)
}

func (s *Server) feedback(c echo.Context) error {
	var fb api.Feedback
	if err := c.Bind(&fb); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}
	slog.Info("Feedback received",
		"app", fb.AppName,
		"user", fb.UserID,
		"session", fb.SessionID,
		"event", fb.EventID,
		"rating", fb.Rating,
		"comment", fb.Comment,
	)
	return c.NoContent(http.StatusOK)
}

func (s *Server) traceByEvent(c echo.Context) error {
	attrs, err := s.deps.Traces.LookupByEvent(c.Param("event_id"))
	if errors.Is(err, tracestore.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Trace not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, attrs)
}

func (s *Server) traceBySession(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Traces.LookupBySession(c.Param("session_id")))
}
