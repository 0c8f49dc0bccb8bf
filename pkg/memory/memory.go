// Package memory is the long-term memory agents can search across sessions.
package memory

import (
	"context"
	"strings"

	"google.golang.org/genai"

	"github.com/docker/agentgateway/pkg/concurrent"
	"github.com/docker/agentgateway/pkg/session"
)

// Entry is one remembered piece of content.
type Entry struct {
	Content   *genai.Content `json:"content"`
	Author    string         `json:"author,omitempty"`
	Timestamp float64        `json:"timestamp,omitempty"`
}

// Service ingests finished sessions and answers keyword queries over them.
type Service interface {
	AddSession(ctx context.Context, sess *session.Session) error
	Search(ctx context.Context, appName, userID, query string) ([]Entry, error)
}

type scope struct {
	app, user string
}

// InMemoryService matches query words against remembered event text.
type InMemoryService struct {
	entries *concurrent.Map[scope, *concurrent.Slice[Entry]]
}

var _ Service = (*InMemoryService)(nil)

func NewInMemoryService() *InMemoryService {
	return &InMemoryService{entries: concurrent.NewMap[scope, *concurrent.Slice[Entry]]()}
}

func (s *InMemoryService) AddSession(_ context.Context, sess *session.Session) error {
	entries, _ := s.entries.LoadOrStore(scope{sess.AppName, sess.UserID}, concurrent.NewSlice[Entry])
	for _, ev := range sess.Events {
		if ev.Content == nil || ev.Text() == "" {
			continue
		}
		entries.Append(Entry{Content: ev.Content, Author: ev.Author, Timestamp: ev.Timestamp})
	}
	return nil
}

func (s *InMemoryService) Search(_ context.Context, appName, userID, query string) ([]Entry, error) {
	entries, ok := s.entries.Load(scope{appName, userID})
	if !ok {
		return nil, nil
	}

	words := strings.Fields(strings.ToLower(query))
	return entries.Filter(func(e Entry) bool {
		text := strings.ToLower(contentText(e.Content))
		for _, w := range words {
			if strings.Contains(text, w) {
				return true
			}
		}
		return false
	}), nil
}

func contentText(c *genai.Content) string {
	var sb strings.Builder
	for _, p := range c.Parts {
		if p != nil {
			sb.WriteString(p.Text)
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}
