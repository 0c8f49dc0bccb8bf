package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/docker/agentgateway/pkg/api"
	"github.com/docker/agentgateway/pkg/evaluation"
	"github.com/docker/agentgateway/pkg/event"
	"github.com/docker/agentgateway/pkg/session"
)

func (s *Server) listEvalSets(c echo.Context) error {
	ids, err := s.deps.EvalSets.ListEvalSets(c.Param("app"))
	if err != nil {
		return evalError(err)
	}
	if ids == nil {
		ids = []string{}
	}
	return c.JSON(http.StatusOK, ids)
}

func (s *Server) createEvalSet(c echo.Context) error {
	set, err := s.deps.EvalSets.CreateEvalSet(c.Param("app"), c.Param("set"))
	if err != nil {
		return evalError(err)
	}
	return c.JSON(http.StatusOK, set)
}

// addSessionToEvalSet records an existing session as a new eval case.
func (s *Server) addSessionToEvalSet(c echo.Context) error {
	var req api.AddSessionToEvalSetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}
	if req.EvalID == "" || req.SessionID == "" || req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "eval_id, session_id and user_id are required")
	}

	app := c.Param("app")
	sess, err := s.deps.Services.Sessions.Get(c.Request().Context(), session.Key{AppName: app, UserID: req.UserID, SessionID: req.SessionID})
	if err != nil {
		return sessionError(err)
	}

	evalCase := evaluation.EvalCase{
		EvalID:            req.EvalID,
		Conversation:      evaluation.ConvertSession(sess),
		SessionInput:      &evaluation.SessionInput{AppName: app, UserID: req.UserID, State: map[string]any{}},
		CreationTimestamp: event.Timestamp(time.Now()),
	}
	if err := s.deps.EvalSets.AddEvalCase(app, c.Param("set"), evalCase); err != nil {
		return evalError(err)
	}
	slog.Info("Session added to eval set", "app", app, "eval_set", c.Param("set"), "eval_id", req.EvalID, "invocations", len(evalCase.Conversation))
	return c.NoContent(http.StatusOK)
}

func (s *Server) listEvals(c echo.Context) error {
	set, err := s.deps.EvalSets.GetEvalSet(c.Param("app"), c.Param("set"))
	if err != nil {
		return evalError(err)
	}

	ids := make([]string, 0, len(set.EvalCases))
	for _, ec := range set.EvalCases {
		ids = append(ids, ec.EvalID)
	}
	slices.Sort(ids)
	return c.JSON(http.StatusOK, ids)
}

func (s *Server) getEval(c echo.Context) error {
	evalCase, err := s.deps.EvalSets.GetEvalCase(c.Param("app"), c.Param("set"), c.Param("eval"))
	if err != nil {
		return evalError(err)
	}
	return c.JSON(http.StatusOK, evalCase)
}

func (s *Server) updateEval(c echo.Context) error {
	var evalCase evaluation.EvalCase
	if err := c.Bind(&evalCase); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}

	evalID := c.Param("eval")
	if evalCase.EvalID != "" && evalCase.EvalID != evalID {
		return echo.NewHTTPError(http.StatusBadRequest, "Eval id in the body does not match the path")
	}
	evalCase.EvalID = evalID

	if err := s.deps.EvalSets.UpdateEvalCase(c.Param("app"), c.Param("set"), evalCase); err != nil {
		return evalError(err)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) deleteEval(c echo.Context) error {
	if err := s.deps.EvalSets.DeleteEvalCase(c.Param("app"), c.Param("set"), c.Param("eval")); err != nil {
		return evalError(err)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) runEval(c echo.Context) error {
	var req api.RunEvalRequest
	if err := bindOptional(c, &req); err != nil {
		return err
	}

	app := c.Param("app")
	results, err := s.evals.Run(c.Request().Context(), evaluation.RunRequest{
		AppName:   app,
		EvalSetID: c.Param("set"),
		EvalIDs:   req.EvalIDs,
		Metrics:   req.EvalMetrics,
	})
	if err != nil && results == nil {
		return evalError(err)
	}
	if err != nil {
		slog.Error("Failed to store eval results", "app", app, "eval_set", c.Param("set"), "error", err)
	}

	out := make([]api.RunEvalResult, 0, len(results))
	for _, r := range results {
		out = append(out, api.NewRunEvalResult(app, r))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) listEvalResults(c echo.Context) error {
	ids, err := s.deps.EvalResults.List(c.Param("app"))
	if err != nil {
		return evalError(err)
	}
	if ids == nil {
		ids = []string{}
	}
	return c.JSON(http.StatusOK, ids)
}

func (s *Server) getEvalResult(c echo.Context) error {
	result, err := s.deps.EvalResults.Get(c.Param("app"), c.Param("result"))
	if err != nil {
		return evalError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// evalError maps evaluation failures. A missing eval set is reported as a
// bad request since it names the resource being acted on, while missing
// cases and results are 404.
func evalError(err error) error {
	var depErr *evaluation.DependencyError
	switch {
	case errors.Is(err, evaluation.ErrEvalCaseNotFound), errors.Is(err, evaluation.ErrEvalResultNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, evaluation.ErrEvalSetNotFound),
		errors.Is(err, evaluation.ErrEvalSetExists),
		errors.Is(err, evaluation.ErrEvalCaseExists),
		errors.Is(err, evaluation.ErrInvalidID),
		errors.As(err, &depErr):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
