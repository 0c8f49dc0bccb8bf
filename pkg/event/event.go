// Package event defines the unit of output produced by an agent execution.
package event

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// Kind tells transports how to frame an event.
type Kind string

const (
	// KindContent is ordinary agent output.
	KindContent Kind = "content"
	// KindRenderSession asks the client to render a session view.
	KindRenderSession Kind = "render_session"
)

// RenderSessionTool is the function name an agent calls to request a
// render_session control frame.
const RenderSessionTool = "render_session"

// Actions are the side effects attached to an event.
type Actions struct {
	StateDelta      map[string]any `json:"stateDelta,omitempty"`
	ArtifactDelta   map[string]int `json:"artifactDelta,omitempty"`
	TransferToAgent string         `json:"transferToAgent,omitempty"`
	Escalate        bool           `json:"escalate,omitempty"`
}

// Render is the payload of a render_session control event.
type Render struct {
	URL string `json:"url"`
}

// Event is an immutable, ordered, timestamped unit of agent output.
type Event struct {
	ID           string         `json:"id"`
	InvocationID string         `json:"invocationId"`
	Author       string         `json:"author"`
	Branch       string         `json:"branch,omitempty"`
	Timestamp    float64        `json:"timestamp"`
	Content      *genai.Content `json:"content,omitempty"`
	Partial      bool           `json:"partial,omitempty"`
	TurnComplete bool           `json:"turnComplete,omitempty"`
	Interrupted  bool           `json:"interrupted,omitempty"`
	ErrorCode    string         `json:"errorCode,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Actions      Actions        `json:"actions"`

	Kind   Kind    `json:"-"`
	Render *Render `json:"-"`
}

// New returns an event with a fresh id and the current timestamp.
func New(invocationID, author string, content *genai.Content) *Event {
	return &Event{
		ID:           uuid.NewString(),
		InvocationID: invocationID,
		Author:       author,
		Timestamp:    Timestamp(time.Now()),
		Content:      content,
		Kind:         KindContent,
	}
}

// Timestamp converts t to fractional seconds since the epoch.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Text concatenates the text parts of the event content.
func (e *Event) Text() string {
	return ContentText(e.Content)
}

// FunctionCalls returns the function calls carried by the event.
func (e *Event) FunctionCalls() []*genai.FunctionCall {
	if e.Content == nil {
		return nil
	}
	var calls []*genai.FunctionCall
	for _, p := range e.Content.Parts {
		if p != nil && p.FunctionCall != nil {
			calls = append(calls, p.FunctionCall)
		}
	}
	return calls
}

// FunctionResponses returns the function responses carried by the event.
func (e *Event) FunctionResponses() []*genai.FunctionResponse {
	if e.Content == nil {
		return nil
	}
	var responses []*genai.FunctionResponse
	for _, p := range e.Content.Parts {
		if p != nil && p.FunctionResponse != nil {
			responses = append(responses, p.FunctionResponse)
		}
	}
	return responses
}

// IsFinalResponse reports whether the event ends the agent's turn with
// user-visible content.
func (e *Event) IsFinalResponse() bool {
	if e.Partial {
		return false
	}
	return len(e.FunctionCalls()) == 0 && len(e.FunctionResponses()) == 0
}

// Classify sets Kind and Render from the event content. An event carrying a
// render_session function call with a non-empty "url" argument becomes a
// control event; everything else is content.
func (e *Event) Classify() {
	e.Kind = KindContent
	e.Render = nil
	for _, call := range e.FunctionCalls() {
		if call.Name != RenderSessionTool {
			continue
		}
		url, _ := call.Args["url"].(string)
		if url == "" {
			return
		}
		e.Kind = KindRenderSession
		e.Render = &Render{URL: url}
		return
	}
}

// ContentText concatenates the text parts of c.
func ContentText(c *genai.Content) string {
	if c == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range c.Parts {
		if p != nil {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}
