package root

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"go.opentelemetry.io/otel/trace"

	"github.com/docker/agentgateway/pkg/agent"
	"github.com/docker/agentgateway/pkg/artifact"
	"github.com/docker/agentgateway/pkg/config"
	"github.com/docker/agentgateway/pkg/credential"
	"github.com/docker/agentgateway/pkg/environment"
	"github.com/docker/agentgateway/pkg/memory"
	"github.com/docker/agentgateway/pkg/runner"
	"github.com/docker/agentgateway/pkg/session"
)

// newServices builds the services shared by every runner. The returned
// function releases them.
func newServices(ctx context.Context, s *config.Settings, tp trace.TracerProvider) (runner.Services, func(), error) {
	svc := runner.Services{
		Memory:         memory.NewInMemoryService(),
		Credentials:    credential.NewInMemoryService(),
		TracerProvider: tp,
	}
	cleanup := func() {}

	if s.SessionDB != "" {
		store, err := session.NewSQLiteService(ctx, s.SessionDB)
		if err != nil {
			return svc, nil, fmt.Errorf("creating session store: %w", err)
		}
		svc.Sessions = store
		cleanup = func() {
			if err := store.Close(); err != nil {
				slog.Error("Failed to close session store", "error", err)
			}
		}
	} else {
		svc.Sessions = session.NewInMemoryService()
	}

	if s.ArtifactDir != "" {
		artifacts, err := artifact.NewLocalService(s.ArtifactDir)
		if err != nil {
			cleanup()
			return svc, nil, fmt.Errorf("creating artifact store: %w", err)
		}
		svc.Artifacts = artifacts
	} else {
		svc.Artifacts = artifact.NewInMemoryService()
	}

	return svc, cleanup, nil
}

// newLoader returns the loader of the agents directory, with the directory's
// .env file loaded into the environment.
func newLoader(dir string) (*agent.Loader, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving agents directory: %w", err)
	}
	if err := environment.LoadEnvFile(filepath.Join(abs, ".env")); err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return agent.NewLoader(abs), nil
}
