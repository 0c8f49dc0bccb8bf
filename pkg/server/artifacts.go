package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/docker/agentgateway/pkg/artifact"
)

func artifactKey(c echo.Context) artifact.Key {
	return artifact.Key{
		AppName:   c.Param("app"),
		UserID:    c.Param("user"),
		SessionID: c.Param("session"),
		Filename:  c.Param("name"),
	}
}

func (s *Server) listArtifacts(c echo.Context) error {
	names, err := s.deps.Services.Artifacts.ListKeys(c.Request().Context(), c.Param("app"), c.Param("user"), c.Param("session"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to list artifacts: %v", err))
	}
	if names == nil {
		names = []string{}
	}
	return c.JSON(http.StatusOK, names)
}

func (s *Server) loadArtifact(c echo.Context) error {
	version := artifact.LatestVersion
	if v := c.QueryParam("version"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid version %q", v))
		}
		version = n
	}
	return s.load(c, version)
}

func (s *Server) loadArtifactVersion(c echo.Context) error {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid version %q", c.Param("version")))
	}
	return s.load(c, version)
}

func (s *Server) load(c echo.Context, version int) error {
	part, err := s.deps.Services.Artifacts.Load(c.Request().Context(), artifactKey(c), version)
	if errors.Is(err, artifact.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Artifact not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to load artifact: %v", err))
	}
	return c.JSON(http.StatusOK, part)
}

func (s *Server) listArtifactVersions(c echo.Context) error {
	versions, err := s.deps.Services.Artifacts.ListVersions(c.Request().Context(), artifactKey(c))
	if err != nil && !errors.Is(err, artifact.ErrNotFound) {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to list versions: %v", err))
	}
	if versions == nil {
		versions = []int{}
	}
	return c.JSON(http.StatusOK, versions)
}

func (s *Server) deleteArtifact(c echo.Context) error {
	err := s.deps.Services.Artifacts.Delete(c.Request().Context(), artifactKey(c))
	if err != nil && !errors.Is(err, artifact.ErrNotFound) {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to delete artifact: %v", err))
	}
	return c.NoContent(http.StatusOK)
}
