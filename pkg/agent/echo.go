package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"google.golang.org/genai"

	"github.com/docker/agentgateway/pkg/event"
	"github.com/docker/agentgateway/pkg/tracing"
)

// EchoClass is the agent_class of the built-in echo agent.
const EchoClass = "echo"

// Echo answers every message with its own text. It exists to exercise the
// gateway without a model: it emits the same spans and control events a
// model-backed agent would.
type Echo struct {
	name        string
	description string
	model       string
	prefix      string
	renderURL   string
}

var _ LiveAgent = (*Echo)(nil)

// NewEcho builds an echo agent. Recognized config keys are "prefix" and
// "render_url"; the latter makes the agent request a session render before
// answering.
func NewEcho(_ context.Context, def Definition) (Agent, error) {
	e := &Echo{
		name:        def.Name,
		description: def.Description,
		model:       def.Model,
	}
	if v, ok := def.Config["prefix"]; ok {
		s, isString := v.(string)
		if !isString {
			return nil, fmt.Errorf("config.prefix must be a string, got %T", v)
		}
		e.prefix = s
	}
	if v, ok := def.Config["render_url"].(string); ok {
		e.renderURL = v
	}
	return e, nil
}

func (e *Echo) Name() string        { return e.name }
func (e *Echo) Description() string { return e.description }

func (e *Echo) Run(ctx context.Context, inv *InvocationContext) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		if e.renderURL != "" {
			if !yield(e.render(ctx, inv), nil) {
				return
			}
		}
		yield(e.reply(ctx, inv, inv.UserContent), nil)
	}
}

func (e *Echo) RunLive(ctx context.Context, inv *InvocationContext, queue *LiveRequestQueue) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		for {
			req, err := queue.Receive(ctx)
			if errors.Is(err, ErrQueueClosed) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}

			switch {
			case req.Close:
				return
			case req.Content != nil:
				tracing.TraceSendData(ctx, inv.Trace(), inv.InvocationID, req.Content)
				if !yield(e.reply(ctx, inv, req.Content), nil) {
					return
				}
			case req.Blob != nil:
				tracing.TraceSendData(ctx, inv.Trace(), inv.InvocationID, map[string]any{"mimeType": req.Blob.MIMEType, "size": len(req.Blob.Data)})
				text := fmt.Sprintf("received %d bytes of %s", len(req.Blob.Data), req.Blob.MIMEType)
				if !yield(e.reply(ctx, inv, genai.NewContentFromText(text, genai.RoleUser)), nil) {
					return
				}
			}
		}
	}
}

func (e *Echo) reply(ctx context.Context, inv *InvocationContext, in *genai.Content) *event.Event {
	text := e.prefix + event.ContentText(in)
	ev := event.New(inv.InvocationID, e.name, genai.NewContentFromText(text, genai.RoleModel))
	ev.TurnComplete = true
	tracing.TraceCallLLM(ctx, inv.Trace(), ev.ID, e.model, in, ev.Content)
	return ev
}

func (e *Echo) render(ctx context.Context, inv *InvocationContext) *event.Event {
	args := map[string]any{"url": e.renderURL}
	ev := event.New(inv.InvocationID, e.name, &genai.Content{
		Role:  string(genai.RoleModel),
		Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{Name: event.RenderSessionTool, Args: args}}},
	})
	tracing.TraceToolCall(ctx, inv.Trace(), ev.ID, event.RenderSessionTool, args, nil)
	return ev
}
