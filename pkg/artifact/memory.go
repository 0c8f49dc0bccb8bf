package artifact

import (
	"context"
	"slices"
	"sync"

	"google.golang.org/genai"
)

type memoryKey struct {
	app, user, scope, filename string
}

// InMemoryService keeps artifact versions in memory.
type InMemoryService struct {
	mu        sync.RWMutex
	artifacts map[memoryKey][]*genai.Part
}

var _ Service = (*InMemoryService)(nil)

func NewInMemoryService() *InMemoryService {
	return &InMemoryService{artifacts: map[memoryKey][]*genai.Part{}}
}

func toMemoryKey(k Key) memoryKey {
	return memoryKey{app: k.AppName, user: k.UserID, scope: k.scope(), filename: k.Filename}
}

func (s *InMemoryService) Save(_ context.Context, key Key, part *genai.Part) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mk := toMemoryKey(key)
	s.artifacts[mk] = append(s.artifacts[mk], part)
	return len(s.artifacts[mk]) - 1, nil
}

func (s *InMemoryService) Load(_ context.Context, key Key, version int) (*genai.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.artifacts[toMemoryKey(key)]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	if version == LatestVersion {
		return versions[len(versions)-1], nil
	}
	if version < 0 || version >= len(versions) {
		return nil, ErrNotFound
	}
	return versions[version], nil
}

func (s *InMemoryService) ListKeys(_ context.Context, appName, userID, sessionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for k := range s.artifacts {
		if k.app != appName || k.user != userID {
			continue
		}
		if k.scope == sessionID || k.scope == "user" {
			names = append(names, k.filename)
		}
	}
	slices.Sort(names)
	return names, nil
}

func (s *InMemoryService) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.artifacts, toMemoryKey(key))
	return nil
}

func (s *InMemoryService) ListVersions(_ context.Context, key Key) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.artifacts[toMemoryKey(key)]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	out := make([]int, len(versions))
	for i := range versions {
		out[i] = i
	}
	return out, nil
}
