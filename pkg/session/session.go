// Package session stores conversations and the events appended to them.
package session

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"

	"github.com/docker/agentgateway/pkg/event"
)

var (
	ErrEmptyID       = errors.New("session ID cannot be empty")
	ErrNotFound      = errors.New("session not found")
	ErrAlreadyExists = errors.New("session already exists")
)

// EvalPrefix marks sessions created by evaluation runs. They are hidden from
// listings.
const EvalPrefix = "___eval___session___"

// Key identifies a session.
type Key struct {
	AppName   string
	UserID    string
	SessionID string
}

// Session is a conversation between a user and an application.
type Session struct {
	ID             string         `json:"id"`
	AppName        string         `json:"appName"`
	UserID         string         `json:"userId"`
	State          map[string]any `json:"state"`
	Events         []*event.Event `json:"events"`
	LastUpdateTime float64        `json:"lastUpdateTime"`
}

func (s *Session) Key() Key {
	return Key{AppName: s.AppName, UserID: s.UserID, SessionID: s.ID}
}

// IsEval reports whether the session was created by an evaluation run.
func (s *Session) IsEval() bool {
	return strings.HasPrefix(s.ID, EvalPrefix)
}

// Clone returns a copy that shares events but not the slices or maps holding them.
func (s *Session) Clone() *Session {
	c := *s
	c.State = maps.Clone(s.State)
	if c.State == nil {
		c.State = map[string]any{}
	}
	c.Events = slices.Clone(s.Events)
	return &c
}

// CreateRequest describes a new session. An empty SessionID gets a generated id.
type CreateRequest struct {
	AppName   string
	UserID    string
	SessionID string
	State     map[string]any
}

// Service persists sessions.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Session, error)
	Get(ctx context.Context, key Key) (*Session, error)
	// List returns the sessions of a user without their events.
	List(ctx context.Context, appName, userID string) ([]*Session, error)
	Delete(ctx context.Context, key Key) error
	// AppendEvent applies the event's state delta and records it. Partial
	// events are not recorded. sess is updated in place.
	AppendEvent(ctx context.Context, sess *Session, ev *event.Event) error
}

// applyEvent mutates sess with ev and reports whether ev should be stored.
func applyEvent(sess *Session, ev *event.Event) bool {
	if ev.Partial {
		return false
	}
	if sess.State == nil {
		sess.State = map[string]any{}
	}
	for k, v := range ev.Actions.StateDelta {
		if strings.HasPrefix(k, "temp:") {
			continue
		}
		sess.State[k] = v
	}
	sess.Events = append(sess.Events, ev)
	sess.LastUpdateTime = ev.Timestamp
	return true
}
