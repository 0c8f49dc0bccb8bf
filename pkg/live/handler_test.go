package live

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/agentgateway/pkg/agent"
	"github.com/docker/agentgateway/pkg/event"
	"github.com/docker/agentgateway/pkg/runner"
	"github.com/docker/agentgateway/pkg/session"
)

type runnerFunc func(ctx context.Context, app string) (*runner.Runner, error)

func (f runnerFunc) GetOrCreate(ctx context.Context, app string) (*runner.Runner, error) {
	return f(ctx, app)
}

func newServer(t *testing.T, runners RunnerSource) *httptest.Server {
	t.Helper()

	sessions := session.NewInMemoryService()
	_, err := sessions.Create(t.Context(), session.CreateRequest{AppName: "app", UserID: "u", SessionID: "s"})
	require.NoError(t, err)

	if runners == nil {
		echo, err := agent.NewEcho(t.Context(), agent.Definition{Name: "echo", Config: map[string]any{"prefix": "echo: "}})
		require.NoError(t, err)
		r := runner.New("app", echo, runner.Services{Sessions: sessions})
		runners = runnerFunc(func(context.Context, string) (*runner.Runner, error) { return r, nil })
	}

	srv := httptest.NewServer(NewHandler(runners, sessions))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/run_live?" + query
	conn, resp, err := websocket.DefaultDialer.DialContext(t.Context(), url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func readClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()

	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		return closeErr
	}
}

func TestHandler_RoundTrip(t *testing.T) {
	t.Parallel()

	srv := newServer(t, nil)
	conn := dial(t, srv, "app_name=app&user_id=u&session_id=s&modalities=TEXT")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"content":{"role":"user","parts":[{"text":"hello"}]}}`)))
	var ev event.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "echo: hello", ev.Text())
	assert.True(t, ev.TurnComplete)

	// Invalid messages are skipped without ending the session.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"bogus":1}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"blob":{"mimeType":"audio/pcm","data":"AAEC"}}`)))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "echo: received 3 bytes of audio/pcm", ev.Text())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"close":true}`)))
	closeErr := readClose(t, conn)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}

func TestHandler_SessionNotFound(t *testing.T) {
	t.Parallel()

	srv := newServer(t, nil)
	conn := dial(t, srv, "app_name=app&user_id=u&session_id=missing")

	closeErr := readClose(t, conn)
	assert.Equal(t, CloseSessionNotFound, closeErr.Code)
	assert.Equal(t, "Session not found", closeErr.Text)
}

func TestHandler_RunnerFailure(t *testing.T) {
	t.Parallel()

	reason := strings.Repeat("é", 100)
	srv := newServer(t, runnerFunc(func(context.Context, string) (*runner.Runner, error) {
		return nil, errors.New(reason)
	}))
	conn := dial(t, srv, "app_name=app&user_id=u&session_id=s")

	closeErr := readClose(t, conn)
	assert.Equal(t, CloseInternalError, closeErr.Code)
	assert.LessOrEqual(t, len(closeErr.Text), maxCloseReason)
	assert.True(t, utf8.ValidString(closeErr.Text))
	assert.True(t, strings.HasPrefix(reason, closeErr.Text))
}

func TestHandler_RejectsBadQueryBeforeUpgrade(t *testing.T) {
	t.Parallel()

	srv := newServer(t, nil)
	for _, query := range []string{
		"app_name=app&user_id=u&session_id=s&modalities=VIDEO",
		"app_name=app&user_id=u",
	} {
		resp, err := http.Get(srv.URL + "/run_live?" + query)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
	}
}

func TestParseParams(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/run_live?app_name=a&user_id=u&session_id=s", nil)
	p, err := ParseParams(req)
	require.NoError(t, err)
	assert.Equal(t, []agent.Modality{agent.ModalityText, agent.ModalityAudio}, p.Modalities)

	req = httptest.NewRequest(http.MethodGet, "/run_live?app_name=a&user_id=u&session_id=s&modalities=audio&modalities=text,audio", nil)
	p, err = ParseParams(req)
	require.NoError(t, err)
	assert.Equal(t, []agent.Modality{agent.ModalityAudio, agent.ModalityText, agent.ModalityAudio}, p.Modalities)
}

func TestTruncateReason(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncateReason("short"))

	ascii := strings.Repeat("x", 200)
	assert.Equal(t, ascii[:maxCloseReason], truncateReason(ascii))

	// A three-byte rune straddling the limit is dropped whole.
	mixed := strings.Repeat("x", 122) + "€"
	assert.Equal(t, strings.Repeat("x", 122), truncateReason(mixed))
}

func TestValidator(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	for _, valid := range []string{
		`{"content":{"role":"user","parts":[{"text":"hi"}]}}`,
		`{"blob":{"mimeType":"audio/pcm","data":""}}`,
		`{"activity_start":{}}`,
		`{"close":true}`,
	} {
		assert.NoError(t, v.Validate([]byte(valid)), valid)
	}
	for _, invalid := range []string{
		`{}`,
		`{"bogus":1}`,
		`{"blob":{"data":"AA"}}`,
		`{"close":"yes"}`,
		`[1,2]`,
		`nope`,
	} {
		assert.Error(t, v.Validate([]byte(invalid)), invalid)
	}
}
