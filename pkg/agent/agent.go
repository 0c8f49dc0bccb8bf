// Package agent defines the contract between the gateway and the reasoning
// logic it executes, and loads agent definitions from disk.
package agent

import (
	"context"
	"iter"

	"google.golang.org/genai"

	"github.com/docker/agentgateway/pkg/artifact"
	"github.com/docker/agentgateway/pkg/credential"
	"github.com/docker/agentgateway/pkg/event"
	"github.com/docker/agentgateway/pkg/memory"
	"github.com/docker/agentgateway/pkg/session"
	"github.com/docker/agentgateway/pkg/tracing"
)

// StreamingMode selects how an agent delivers output.
type StreamingMode string

const (
	StreamingNone StreamingMode = "none"
	StreamingSSE  StreamingMode = "sse"
	StreamingBidi StreamingMode = "bidi"
)

// Modality is a kind of output a live session asks for.
type Modality string

const (
	ModalityText  Modality = "TEXT"
	ModalityAudio Modality = "AUDIO"
)

// RunConfig tunes a single execution.
type RunConfig struct {
	StreamingMode      StreamingMode
	ResponseModalities []Modality
}

// InvocationContext is everything an agent sees while handling one request.
type InvocationContext struct {
	AppName      string
	InvocationID string
	Session      *session.Session
	UserContent  *genai.Content
	RunConfig    RunConfig

	Artifacts   artifact.Service
	Memory      memory.Service
	Credentials credential.Service
}

// Trace returns the identifiers spans emitted for this invocation carry.
func (inv *InvocationContext) Trace() tracing.Invocation {
	return tracing.Invocation{
		AppName:      inv.AppName,
		SessionID:    inv.Session.ID,
		InvocationID: inv.InvocationID,
	}
}

// Agent is the reasoning and tool logic behind an application. Run yields
// events in production order and stops at the first error.
type Agent interface {
	Name() string
	Description() string
	Run(ctx context.Context, inv *InvocationContext) iter.Seq2[*event.Event, error]
}

// LiveAgent is implemented by agents that support duplex sessions. RunLive
// consumes the queue until it is closed.
type LiveAgent interface {
	Agent
	RunLive(ctx context.Context, inv *InvocationContext, queue *LiveRequestQueue) iter.Seq2[*event.Event, error]
}

// Closer is implemented by agents that hold resources (toolsets, remote
// sessions) which must be released when the agent is replaced.
type Closer interface {
	Close(ctx context.Context) error
}
