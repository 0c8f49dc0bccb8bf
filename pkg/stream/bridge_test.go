package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/docker/agentgateway/pkg/event"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type frame struct {
	id, event, data, comment string
}

func parseFrames(t *testing.T, raw string) []frame {
	t.Helper()

	var frames []frame
	for block := range strings.SplitSeq(strings.TrimSuffix(raw, "\n\n"), "\n\n") {
		if block == "" {
			continue
		}
		var f frame
		for line := range strings.SplitSeq(block, "\n") {
			switch {
			case strings.HasPrefix(line, "id: "):
				f.id = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "event: "):
				f.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				f.data += strings.TrimPrefix(line, "data: ")
			case strings.HasPrefix(line, ": "):
				f.comment = strings.TrimPrefix(line, ": ")
			default:
				t.Fatalf("unexpected line %q", line)
			}
		}
		frames = append(frames, f)
	}
	return frames
}

func textEvent(text string) *event.Event {
	ev := event.New("inv", "agent", genai.NewContentFromText(text, genai.RoleModel))
	ev.Classify()
	return ev
}

func produceAll(items ...any) Producer {
	return func(context.Context) iter.Seq2[*event.Event, error] {
		return func(yield func(*event.Event, error) bool) {
			for _, it := range items {
				var ok bool
				switch v := it.(type) {
				case *event.Event:
					ok = yield(v, nil)
				case error:
					ok = yield(nil, v)
				}
				if !ok {
					return
				}
			}
		}
	}
}

func TestBridge_StreamFraming(t *testing.T) {
	t.Parallel()

	render := event.New("inv", "agent", &genai.Content{Parts: []*genai.Part{{
		FunctionCall: &genai.FunctionCall{Name: event.RenderSessionTool, Args: map[string]any{"url": "https://live/1"}},
	}}})
	render.Classify()
	first, last := textEvent("one"), textEvent("two")

	var out syncBuffer
	err := NewBridge().Stream(t.Context(), &out, "s-1", produceAll(first, render, last))
	require.NoError(t, err)

	frames := parseFrames(t, out.String())
	require.Len(t, frames, 5)

	assert.Equal(t, FrameStreamStart, frames[0].event)
	assert.JSONEq(t, `{"type":"stream_start","session_id":"s-1"}`, frames[0].data)

	assert.Equal(t, FrameAgentEvent, frames[1].event)
	assert.Equal(t, first.ID, frames[1].id)
	var decoded event.Event
	require.NoError(t, json.Unmarshal([]byte(frames[1].data), &decoded))
	assert.Equal(t, "one", decoded.Text())

	assert.Equal(t, FrameRenderSession, frames[2].event)
	assert.Equal(t, render.ID, frames[2].id)
	assert.JSONEq(t, `{"type":"render_session","url":"https://live/1"}`, frames[2].data)

	assert.Equal(t, FrameAgentEvent, frames[3].event)
	assert.Equal(t, last.ID, frames[3].id)

	assert.Equal(t, FrameStreamComplete, frames[4].event)
	assert.JSONEq(t, `{"type":"stream_complete"}`, frames[4].data)
}

func TestBridge_StreamError(t *testing.T) {
	t.Parallel()

	var out syncBuffer
	err := NewBridge().Stream(t.Context(), &out, "s", produceAll(textEvent("before"), errors.New(`tool "x" failed`), textEvent("never")))
	require.NoError(t, err)

	frames := parseFrames(t, out.String())
	require.Len(t, frames, 3)
	assert.Equal(t, FrameAgentEvent, frames[1].event)
	assert.Equal(t, FrameError, frames[2].event)
	assert.JSONEq(t, `{"type":"error","error":"tool \"x\" failed"}`, frames[2].data)
}

func TestBridge_Heartbeat(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		release := make(chan struct{})
		producer := func(context.Context) iter.Seq2[*event.Event, error] {
			return func(yield func(*event.Event, error) bool) {
				<-release
				yield(textEvent("late"), nil)
			}
		}

		var out syncBuffer
		done := make(chan error)
		go func() {
			done <- NewBridge().Stream(t.Context(), &out, "s", producer)
		}()

		time.Sleep(DefaultHeartbeatInterval - time.Second)
		synctest.Wait()
		assert.NotContains(t, out.String(), ": keep-alive")

		time.Sleep(2 * time.Second)
		synctest.Wait()
		assert.Equal(t, 1, strings.Count(out.String(), ": keep-alive\n\n"))

		time.Sleep(DefaultHeartbeatInterval)
		synctest.Wait()
		assert.Equal(t, 2, strings.Count(out.String(), ": keep-alive\n\n"))

		close(release)
		require.NoError(t, <-done)

		frames := parseFrames(t, out.String())
		require.Len(t, frames, 5)
		assert.Equal(t, "keep-alive", frames[1].comment)
		assert.Equal(t, "keep-alive", frames[2].comment)
		assert.Equal(t, FrameAgentEvent, frames[3].event)
		assert.Equal(t, FrameStreamComplete, frames[4].event)
	})
}

func TestBridge_DisconnectDoesNotStopExecution(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		release := make(chan struct{})
		var produced atomic.Int32
		var finished atomic.Bool
		producer := func(ctx context.Context) iter.Seq2[*event.Event, error] {
			return func(yield func(*event.Event, error) bool) {
				defer finished.Store(true)
				if !yield(textEvent("first"), nil) {
					return
				}
				produced.Add(1)
				<-release
				for range 100 {
					if ctx.Err() != nil {
						return
					}
					if !yield(textEvent("more"), nil) {
						return
					}
					produced.Add(1)
				}
			}
		}

		ctx, cancel := context.WithCancel(t.Context())
		var out syncBuffer
		done := make(chan error)
		go func() {
			done <- NewBridge(WithBuffer(1)).Stream(ctx, &out, "s", producer)
		}()

		synctest.Wait()
		cancel()
		require.ErrorIs(t, <-done, context.Canceled)

		close(release)
		synctest.Wait()

		assert.True(t, finished.Load())
		assert.Equal(t, int32(101), produced.Load())
		assert.NotContains(t, out.String(), "stream_complete")
	})
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestBridge_WriteFailureDetaches(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		var finished atomic.Bool
		producer := func(context.Context) iter.Seq2[*event.Event, error] {
			return func(yield func(*event.Event, error) bool) {
				defer finished.Store(true)
				for range 10 {
					if !yield(textEvent("x"), nil) {
						return
					}
				}
			}
		}

		err := NewBridge(WithBuffer(0)).Stream(t.Context(), failingWriter{}, "s", producer)
		require.ErrorContains(t, err, "broken pipe")

		synctest.Wait()
		assert.True(t, finished.Load())
	})
}

type jsonRecorder struct {
	messages []any
	failAt   int
}

func (r *jsonRecorder) WriteJSON(v any) error {
	if r.failAt > 0 && len(r.messages)+1 == r.failAt {
		return errors.New("closed")
	}
	r.messages = append(r.messages, v)
	return nil
}

func TestForward(t *testing.T) {
	t.Parallel()

	rec := &jsonRecorder{}
	err := Forward(produceAll(textEvent("a"), textEvent("b"))(t.Context()), rec)
	require.NoError(t, err)
	assert.Len(t, rec.messages, 2)

	boom := errors.New("boom")
	rec = &jsonRecorder{}
	err = Forward(produceAll(textEvent("a"), boom)(t.Context()), rec)
	require.ErrorIs(t, err, boom)
	assert.Len(t, rec.messages, 1)

	rec = &jsonRecorder{failAt: 2}
	err = Forward(produceAll(textEvent("a"), textEvent("b"), textEvent("c"))(t.Context()), rec)
	require.ErrorContains(t, err, "closed")
	assert.Len(t, rec.messages, 1)
}
