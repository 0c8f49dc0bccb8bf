package session

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docker/agentgateway/pkg/concurrent"
	"github.com/docker/agentgateway/pkg/event"
)

// InMemoryService keeps sessions in memory.
type InMemoryService struct {
	// appendMu serializes read-modify-write updates of stored sessions.
	appendMu sync.Mutex
	sessions *concurrent.Map[Key, *Session]
}

var _ Service = (*InMemoryService)(nil)

func NewInMemoryService() *InMemoryService {
	return &InMemoryService{
		sessions: concurrent.NewMap[Key, *Session](),
	}
}

func (s *InMemoryService) Create(_ context.Context, req CreateRequest) (*Session, error) {
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	sess := &Session{
		ID:             id,
		AppName:        req.AppName,
		UserID:         req.UserID,
		State:          req.State,
		LastUpdateTime: event.Timestamp(time.Now()),
	}
	stored := sess.Clone()
	if _, loaded := s.sessions.LoadOrStore(sess.Key(), func() *Session { return stored }); loaded {
		return nil, ErrAlreadyExists
	}
	return stored.Clone(), nil
}

func (s *InMemoryService) Get(_ context.Context, key Key) (*Session, error) {
	if key.SessionID == "" {
		return nil, ErrEmptyID
	}
	sess, ok := s.sessions.Load(key)
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *InMemoryService) List(_ context.Context, appName, userID string) ([]*Session, error) {
	var sessions []*Session
	s.sessions.Range(func(key Key, sess *Session) bool {
		if key.AppName == appName && key.UserID == userID {
			c := sess.Clone()
			c.Events = nil
			sessions = append(sessions, c)
		}
		return true
	})
	slices.SortFunc(sessions, func(a, b *Session) int {
		return cmp.Compare(a.LastUpdateTime, b.LastUpdateTime)
	})
	return sessions, nil
}

func (s *InMemoryService) Delete(_ context.Context, key Key) error {
	if key.SessionID == "" {
		return ErrEmptyID
	}
	if _, ok := s.sessions.LoadAndDelete(key); !ok {
		return ErrNotFound
	}
	return nil
}

func (s *InMemoryService) AppendEvent(_ context.Context, sess *Session, ev *event.Event) error {
	if !applyEvent(sess, ev) {
		return nil
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	stored, ok := s.sessions.Load(sess.Key())
	if !ok {
		return ErrNotFound
	}
	updated := stored.Clone()
	applyEvent(updated, ev)
	s.sessions.Store(sess.Key(), updated)
	return nil
}
