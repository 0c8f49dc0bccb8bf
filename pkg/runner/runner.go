// Package runner executes an application's root agent against its session,
// artifact, memory and credential services.
package runner

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/docker/agentgateway/pkg/agent"
	"github.com/docker/agentgateway/pkg/artifact"
	"github.com/docker/agentgateway/pkg/credential"
	"github.com/docker/agentgateway/pkg/event"
	"github.com/docker/agentgateway/pkg/memory"
	"github.com/docker/agentgateway/pkg/session"
	"github.com/docker/agentgateway/pkg/tracing"
)

var ErrLiveUnsupported = errors.New("agent does not support live sessions")

// Services are the collaborators shared by every runner.
type Services struct {
	Sessions    session.Service
	Artifacts   artifact.Service
	Memory      memory.Service
	Credentials credential.Service
	// TracerProvider is used for invocation spans. Nil means the global one.
	TracerProvider trace.TracerProvider
}

// Runner is the execution context of one application.
type Runner struct {
	appName string
	agent   agent.Agent
	svc     Services
}

func New(appName string, a agent.Agent, svc Services) *Runner {
	return &Runner{appName: appName, agent: a, svc: svc}
}

func (r *Runner) AppName() string { return r.appName }
func (r *Runner) Agent() agent.Agent { return r.agent }
func (r *Runner) Services() Services { return r.svc }

// RunRequest is one turn of a conversation.
type RunRequest struct {
	UserID     string
	SessionID  string
	NewMessage *genai.Content
	StateDelta map[string]any
	RunConfig  agent.RunConfig
}

// Session returns the session the runner would execute against.
func (r *Runner) Session(ctx context.Context, userID, sessionID string) (*session.Session, error) {
	return r.svc.Sessions.Get(ctx, session.Key{AppName: r.appName, UserID: userID, SessionID: sessionID})
}

// Run appends the user message to the session, runs the agent and yields its
// events. Non-partial events are appended to the session before they are
// yielded, and every event is classified so transports can frame control
// events.
func (r *Runner) Run(ctx context.Context, req RunRequest) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		sess, err := r.Session(ctx, req.UserID, req.SessionID)
		if err != nil {
			yield(nil, err)
			return
		}

		inv := r.invocation(sess, req.NewMessage, req.RunConfig)
		ctx, span := tracing.StartInvocation(ctx, r.svc.TracerProvider, inv.Trace())
		defer span.End()

		if req.NewMessage != nil || len(req.StateDelta) > 0 {
			userEvent := event.New(inv.InvocationID, "user", req.NewMessage)
			userEvent.Actions.StateDelta = req.StateDelta
			if err := r.svc.Sessions.AppendEvent(ctx, sess, userEvent); err != nil {
				yield(nil, fmt.Errorf("recording user message: %w", err))
				return
			}
		}

		r.forward(ctx, span, sess, r.agent.Run(ctx, inv), yield)
	}
}

// LiveRequest starts a duplex session.
type LiveRequest struct {
	UserID    string
	SessionID string
	RunConfig agent.RunConfig
}

// RunLive runs the agent in live mode, feeding it from queue until the queue
// is closed or the agent stops.
func (r *Runner) RunLive(ctx context.Context, req LiveRequest, queue *agent.LiveRequestQueue) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		live, ok := r.agent.(agent.LiveAgent)
		if !ok {
			yield(nil, fmt.Errorf("%s: %w", r.appName, ErrLiveUnsupported))
			return
		}

		sess, err := r.Session(ctx, req.UserID, req.SessionID)
		if err != nil {
			yield(nil, err)
			return
		}

		req.RunConfig.StreamingMode = agent.StreamingBidi
		inv := r.invocation(sess, nil, req.RunConfig)
		ctx, span := tracing.StartInvocation(ctx, r.svc.TracerProvider, inv.Trace())
		defer span.End()

		r.forward(ctx, span, sess, live.RunLive(ctx, inv, queue), yield)
	}
}

func (r *Runner) forward(ctx context.Context, span trace.Span, sess *session.Session, events iter.Seq2[*event.Event, error], yield func(*event.Event, error) bool) {
	for ev, err := range events {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
			return
		}

		ev.Classify()
		if !ev.Partial {
			if err := r.svc.Sessions.AppendEvent(ctx, sess, ev); err != nil {
				slog.Error("Failed to append event to session", "app", r.appName, "session", sess.ID, "event", ev.ID, "error", err)
			}
		}
		if !yield(ev, nil) {
			return
		}
	}
}

func (r *Runner) invocation(sess *session.Session, msg *genai.Content, cfg agent.RunConfig) *agent.InvocationContext {
	return &agent.InvocationContext{
		AppName:      r.appName,
		InvocationID: "e-" + uuid.NewString(),
		Session:      sess,
		UserContent:  msg,
		RunConfig:    cfg,
		Artifacts:    r.svc.Artifacts,
		Memory:       r.svc.Memory,
		Credentials:  r.svc.Credentials,
	}
}

// Close releases the agent's resources.
func (r *Runner) Close(ctx context.Context) error {
	if c, ok := r.agent.(agent.Closer); ok {
		return c.Close(ctx)
	}
	return nil
}
