// Package artifact stores versioned binary or text artifacts produced by agents.
package artifact

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"
)

var ErrNotFound = errors.New("artifact not found")

// LatestVersion asks Load for the newest version.
const LatestVersion = -1

// Key identifies an artifact. Filenames prefixed with "user:" are shared by
// all sessions of the user.
type Key struct {
	AppName   string
	UserID    string
	SessionID string
	Filename  string
}

func (k Key) userScoped() bool {
	return strings.HasPrefix(k.Filename, "user:")
}

// scope returns the session component of the storage path.
func (k Key) scope() string {
	if k.userScoped() {
		return "user"
	}
	return k.SessionID
}

// Service persists artifacts. Every Save creates a new version, starting at 0.
type Service interface {
	Save(ctx context.Context, key Key, part *genai.Part) (int, error)
	Load(ctx context.Context, key Key, version int) (*genai.Part, error)
	// ListKeys returns the filenames visible from a session, sorted.
	ListKeys(ctx context.Context, appName, userID, sessionID string) ([]string, error)
	Delete(ctx context.Context, key Key) error
	ListVersions(ctx context.Context, key Key) ([]int, error)
}
