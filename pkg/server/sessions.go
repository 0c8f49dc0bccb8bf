package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"

	"github.com/docker/agentgateway/pkg/api"
	"github.com/docker/agentgateway/pkg/session"
)

func sessionKey(c echo.Context) session.Key {
	return session.Key{AppName: c.Param("app"), UserID: c.Param("user"), SessionID: c.Param("session")}
}

func (s *Server) listSessions(c echo.Context) error {
	sessions, err := s.deps.Services.Sessions.List(c.Request().Context(), c.Param("app"), c.Param("user"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to list sessions: %v", err))
	}

	sessions = slices.DeleteFunc(sessions, (*session.Session).IsEval)
	if sessions == nil {
		sessions = []*session.Session{}
	}
	return c.JSON(http.StatusOK, sessions)
}

func (s *Server) getSession(c echo.Context) error {
	sess, err := s.deps.Services.Sessions.Get(c.Request().Context(), sessionKey(c))
	if err != nil {
		return sessionError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) createSession(c echo.Context) error {
	return s.create(c, "")
}

func (s *Server) createSessionWithID(c echo.Context) error {
	return s.create(c, c.Param("session"))
}

func (s *Server) create(c echo.Context, sessionID string) error {
	var req api.CreateSessionRequest
	if err := bindOptional(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	sess, err := s.deps.Services.Sessions.Create(ctx, session.CreateRequest{
		AppName:   c.Param("app"),
		UserID:    c.Param("user"),
		SessionID: sessionID,
		State:     req.State,
	})
	if errors.Is(err, session.ErrAlreadyExists) {
		slog.Warn("Session already exists", "session", sessionID)
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Session already exists: %s", sessionID))
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to create session: %v", err))
	}

	for _, ev := range req.Events {
		ev.Classify()
		if err := s.deps.Services.Sessions.AppendEvent(ctx, sess, ev); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to append event: %v", err))
		}
	}

	slog.Info("New session created", "app", sess.AppName, "user", sess.UserID, "session", sess.ID)
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) deleteSession(c echo.Context) error {
	err := s.deps.Services.Sessions.Delete(c.Request().Context(), sessionKey(c))
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to delete session: %v", err))
	}
	return c.NoContent(http.StatusOK)
}

// bindOptional decodes the request body into v, accepting an empty body.
func bindOptional(c echo.Context, v any) error {
	if c.Request().ContentLength == 0 {
		return nil
	}
	if err := c.Bind(v); err != nil && !errors.Is(err, io.EOF) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}
