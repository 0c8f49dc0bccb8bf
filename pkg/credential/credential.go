// Package credential stores credentials obtained by tools on behalf of a user.
package credential

import (
	"context"
	"errors"

	"github.com/docker/agentgateway/pkg/concurrent"
)

var ErrNotFound = errors.New("credential not found")

// Credential is an opaque credential of a given auth scheme.
type Credential struct {
	AuthType string         `json:"authType"`
	Data     map[string]any `json:"data,omitempty"`
}

// Service persists credentials per application, user and key.
type Service interface {
	Save(ctx context.Context, appName, userID, key string, cred Credential) error
	Load(ctx context.Context, appName, userID, key string) (Credential, error)
}

type credentialKey struct {
	app, user, key string
}

// InMemoryService keeps credentials for the lifetime of the process.
type InMemoryService struct {
	creds *concurrent.Map[credentialKey, Credential]
}

var _ Service = (*InMemoryService)(nil)

func NewInMemoryService() *InMemoryService {
	return &InMemoryService{creds: concurrent.NewMap[credentialKey, Credential]()}
}

func (s *InMemoryService) Save(_ context.Context, appName, userID, key string, cred Credential) error {
	s.creds.Store(credentialKey{appName, userID, key}, cred)
	return nil
}

func (s *InMemoryService) Load(_ context.Context, appName, userID, key string) (Credential, error) {
	cred, ok := s.creds.Load(credentialKey{appName, userID, key})
	if !ok {
		return Credential{}, ErrNotFound
	}
	return cred, nil
}
