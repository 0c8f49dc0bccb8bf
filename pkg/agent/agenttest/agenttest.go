// Package agenttest provides scripted agents for tests.
package agenttest

import (
	"context"
	"iter"
	"sync/atomic"

	"google.golang.org/genai"

	"github.com/docker/agentgateway/pkg/agent"
	"github.com/docker/agentgateway/pkg/event"
)

// Step produces one event, or an error that ends the run.
type Step func(ctx context.Context, inv *agent.InvocationContext) (*event.Event, error)

// Text returns a step emitting a model text event.
func Text(text string) Step {
	return func(_ context.Context, inv *agent.InvocationContext) (*event.Event, error) {
		return event.New(inv.InvocationID, "scripted", genai.NewContentFromText(text, genai.RoleModel)), nil
	}
}

// Call returns a step emitting a function call event.
func Call(name string, args map[string]any) Step {
	return func(_ context.Context, inv *agent.InvocationContext) (*event.Event, error) {
		return event.New(inv.InvocationID, "scripted", &genai.Content{
			Role:  string(genai.RoleModel),
			Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{Name: name, Args: args}}},
		}), nil
	}
}

// Fail returns a step that ends the run with err.
func Fail(err error) Step {
	return func(context.Context, *agent.InvocationContext) (*event.Event, error) {
		return nil, err
	}
}

// Wait returns a step that blocks until ch is closed or ctx is done, then
// emits nothing.
func Wait(ch <-chan struct{}) Step {
	return func(ctx context.Context, _ *agent.InvocationContext) (*event.Event, error) {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return nil, nil
	}
}

// Agent runs its steps in order. Steps returning a nil event emit nothing.
type Agent struct {
	AgentName string
	Steps     []Step
	// OnDone is called when a run has executed all of its steps.
	OnDone func()

	closed atomic.Int32
	// CloseFunc, when set, is called by Close.
	CloseFunc func(ctx context.Context) error
}

var _ agent.Agent = (*Agent)(nil)

func (a *Agent) Name() string        { return a.AgentName }
func (a *Agent) Description() string { return "scripted test agent" }

func (a *Agent) Run(ctx context.Context, inv *agent.InvocationContext) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		for _, step := range a.Steps {
			ev, err := step(ctx, inv)
			if err != nil {
				yield(nil, err)
				return
			}
			if ev == nil {
				continue
			}
			if !yield(ev, nil) {
				return
			}
		}
		if a.OnDone != nil {
			a.OnDone()
		}
	}
}

func (a *Agent) Close(ctx context.Context) error {
	a.closed.Add(1)
	if a.CloseFunc != nil {
		return a.CloseFunc(ctx)
	}
	return nil
}

// Closed returns how many times Close was called.
func (a *Agent) Closed() int {
	return int(a.closed.Load())
}
