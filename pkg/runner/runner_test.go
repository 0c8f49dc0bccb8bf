package runner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/genai"

	"github.com/docker/agentgateway/pkg/agent"
	"github.com/docker/agentgateway/pkg/agent/agenttest"
	"github.com/docker/agentgateway/pkg/event"
	"github.com/docker/agentgateway/pkg/session"
)

func newRunner(t *testing.T, a agent.Agent) (*Runner, session.Service) {
	t.Helper()

	sessions := session.NewInMemoryService()
	_, err := sessions.Create(t.Context(), session.CreateRequest{AppName: "app", UserID: "u", SessionID: "s"})
	require.NoError(t, err)
	return New("app", a, Services{Sessions: sessions}), sessions
}

func TestRunner_Run(t *testing.T) {
	t.Parallel()

	a := &agenttest.Agent{AgentName: "a", Steps: []agenttest.Step{
		agenttest.Text("one"),
		agenttest.Call(event.RenderSessionTool, map[string]any{"url": "https://view"}),
		agenttest.Text("two"),
	}}
	r, sessions := newRunner(t, a)

	var events []*event.Event
	for ev, err := range r.Run(t.Context(), RunRequest{
		UserID:     "u",
		SessionID:  "s",
		NewMessage: genai.NewContentFromText("hi", genai.RoleUser),
		StateDelta: map[string]any{"mood": "good"},
	}) {
		require.NoError(t, err)
		events = append(events, ev)
	}

	require.Len(t, events, 3)
	assert.Equal(t, event.KindContent, events[0].Kind)
	assert.Equal(t, event.KindRenderSession, events[1].Kind)
	assert.Equal(t, "https://view", events[1].Render.URL)

	sess, err := sessions.Get(t.Context(), session.Key{AppName: "app", UserID: "u", SessionID: "s"})
	require.NoError(t, err)
	require.Len(t, sess.Events, 4)
	assert.Equal(t, "user", sess.Events[0].Author)
	assert.Equal(t, "hi", sess.Events[0].Text())
	assert.Equal(t, "good", sess.State["mood"])
}

func TestRunner_RunMissingSession(t *testing.T) {
	t.Parallel()

	r, _ := newRunner(t, &agenttest.Agent{})

	for _, err := range r.Run(t.Context(), RunRequest{UserID: "u", SessionID: "missing"}) {
		require.ErrorIs(t, err, session.ErrNotFound)
	}
}

func TestRunner_RunError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	sessions := session.NewInMemoryService()
	_, err := sessions.Create(t.Context(), session.CreateRequest{AppName: "app", UserID: "u", SessionID: "s"})
	require.NoError(t, err)
	r := New("app", &agenttest.Agent{Steps: []agenttest.Step{agenttest.Text("partial"), agenttest.Fail(boom)}}, Services{
		Sessions:       sessions,
		TracerProvider: tp,
	})

	var texts []string
	var gotErr error
	for ev, err := range r.Run(t.Context(), RunRequest{UserID: "u", SessionID: "s"}) {
		if err != nil {
			gotErr = err
			break
		}
		texts = append(texts, ev.Text())
	}

	require.ErrorIs(t, gotErr, boom)
	assert.Equal(t, []string{"partial"}, texts)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "invocation", spans[0].Name)
	assert.Equal(t, "boom", spans[0].Status.Description)
}

func TestRunner_RunLiveUnsupported(t *testing.T) {
	t.Parallel()

	r, _ := newRunner(t, &agenttest.Agent{})

	for _, err := range r.RunLive(t.Context(), LiveRequest{UserID: "u", SessionID: "s"}, agent.NewLiveRequestQueue()) {
		require.ErrorIs(t, err, ErrLiveUnsupported)
	}
}

func TestRunner_Close(t *testing.T) {
	t.Parallel()

	a := &agenttest.Agent{}
	r, _ := newRunner(t, a)

	require.NoError(t, r.Close(t.Context()))
	assert.Equal(t, 1, a.Closed())
}
