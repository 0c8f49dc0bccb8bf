package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"
	"google.golang.org/genai"
)

// LocalService stores artifacts under a root directory, one JSON file per
// version: <root>/<app>/<user>/<session|user>/<filename>/<version>.json
type LocalService struct {
	root string
}

var _ Service = (*LocalService)(nil)

func NewLocalService(root string) (*LocalService, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	return &LocalService{root: root}, nil
}

func (s *LocalService) scopeDir(appName, userID, scope string) string {
	return filepath.Join(s.root, url.PathEscape(appName), url.PathEscape(userID), url.PathEscape(scope))
}

func (s *LocalService) dir(key Key) string {
	return filepath.Join(s.scopeDir(key.AppName, key.UserID, key.scope()), url.PathEscape(key.Filename))
}

func (s *LocalService) Save(ctx context.Context, key Key, part *genai.Part) (int, error) {
	versions, err := s.ListVersions(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	version := 0
	if len(versions) > 0 {
		version = versions[len(versions)-1] + 1
	}

	data, err := json.Marshal(part)
	if err != nil {
		return 0, fmt.Errorf("encoding artifact: %w", err)
	}
	dir := s.dir(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	if err := atomic.WriteFile(filepath.Join(dir, strconv.Itoa(version)+".json"), bytes.NewReader(data)); err != nil {
		return 0, fmt.Errorf("writing artifact: %w", err)
	}
	return version, nil
}

func (s *LocalService) Load(ctx context.Context, key Key, version int) (*genai.Part, error) {
	if version == LatestVersion {
		versions, err := s.ListVersions(ctx, key)
		if err != nil {
			return nil, err
		}
		version = versions[len(versions)-1]
	}

	data, err := os.ReadFile(filepath.Join(s.dir(key), strconv.Itoa(version)+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var part genai.Part
	if err := json.Unmarshal(data, &part); err != nil {
		return nil, fmt.Errorf("decoding artifact %s: %w", key.Filename, err)
	}
	return &part, nil
}

func (s *LocalService) ListKeys(_ context.Context, appName, userID, sessionID string) ([]string, error) {
	var names []string
	for _, scope := range []string{sessionID, "user"} {
		entries, err := os.ReadDir(s.scopeDir(appName, userID, scope))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			name, err := url.PathUnescape(e.Name())
			if err != nil {
				continue
			}
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}

func (s *LocalService) Delete(_ context.Context, key Key) error {
	return os.RemoveAll(s.dir(key))
}

func (s *LocalService) ListVersions(_ context.Context, key Key) ([]int, error) {
	entries, err := os.ReadDir(s.dir(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var versions []int
	for _, e := range entries {
		v, err := strconv.Atoi(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil || e.IsDir() {
			continue
		}
		versions = append(versions, v)
	}
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	slices.Sort(versions)
	return versions, nil
}
