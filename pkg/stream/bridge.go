// Package stream bridges an agent's event sequence onto client transports.
//
// The execution runs on its own goroutine with a context that ignores the
// client's cancellation: a client that goes away stops the forwarding, never
// the execution. Whatever the execution produces after that is drained and
// discarded.
package stream

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/docker/agentgateway/pkg/event"
	"github.com/docker/agentgateway/pkg/metrics"
)

// DefaultHeartbeatInterval is how long a stream may stay silent before a
// keep-alive comment is written.
const DefaultHeartbeatInterval = 20 * time.Second

const heartbeatComment = "keep-alive"

// Producer starts an execution. The context it receives is not cancelled when
// the client disconnects.
type Producer func(ctx context.Context) iter.Seq2[*event.Event, error]

type item struct {
	ev  *event.Event
	err error
}

// Bridge converts executions into SSE streams.
type Bridge struct {
	heartbeat time.Duration
	buffer    int
	metrics   *metrics.Metrics
}

type Option func(*Bridge)

func WithHeartbeatInterval(d time.Duration) Option {
	return func(b *Bridge) {
		b.heartbeat = d
	}
}

// WithBuffer sets how many events the execution may run ahead of the client.
func WithBuffer(n int) Option {
	return func(b *Bridge) {
		b.buffer = n
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

func NewBridge(opts ...Option) *Bridge {
	b := &Bridge{
		heartbeat: DefaultHeartbeatInterval,
		buffer:    64,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Stream writes a stream_start frame, one frame per produced event, and a
// stream_complete frame when the execution ends. An execution error is
// reported as a single error frame instead of stream_complete. Stream returns
// when the execution ends or when ctx is done or a write fails; in the latter
// cases the execution keeps running in the background.
func (b *Bridge) Stream(ctx context.Context, w io.Writer, sessionID string, produce Producer) error {
	b.metrics.StreamOpened()
	defer b.metrics.StreamClosed()

	items := make(chan item, b.buffer)
	go func() {
		defer close(items)
		for ev, err := range produce(context.WithoutCancel(ctx)) {
			items <- item{ev: ev, err: err}
			if err != nil {
				return
			}
		}
	}()

	sse := NewSSEWriter(w)
	detach := func(reason string, err error) error {
		slog.Warn("Client stream ended early, execution continues", "session", sessionID, "reason", reason, "error", err)
		go func() {
			for range items {
			}
		}()
		return err
	}

	if err := b.write(sse, "", FrameStreamStart, map[string]string{"type": FrameStreamStart, "session_id": sessionID}); err != nil {
		return detach("write", err)
	}

	heartbeat := time.NewTimer(b.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return detach("disconnect", context.Cause(ctx))

		case <-heartbeat.C:
			if err := sse.WriteComment(heartbeatComment); err != nil {
				return detach("write", err)
			}
			b.metrics.Heartbeat()
			heartbeat.Reset(b.heartbeat)

		case it, ok := <-items:
			if !ok {
				if err := b.write(sse, "", FrameStreamComplete, map[string]string{"type": FrameStreamComplete}); err != nil {
					return detach("write", err)
				}
				return nil
			}
			if it.err != nil {
				slog.Error("Execution failed during stream", "session", sessionID, "error", it.err)
				if err := b.write(sse, "", FrameError, map[string]string{"type": FrameError, "error": it.err.Error()}); err != nil {
					return detach("write", err)
				}
				return nil
			}
			if err := b.writeEvent(sse, it.ev); err != nil {
				return detach("write", err)
			}
			heartbeat.Reset(b.heartbeat)
		}
	}
}

func (b *Bridge) writeEvent(sse *SSEWriter, ev *event.Event) error {
	if ev.Kind == event.KindRenderSession && ev.Render != nil {
		slog.Info("Sending render_session frame", "url", ev.Render.URL)
		return b.write(sse, ev.ID, FrameRenderSession, map[string]string{"type": FrameRenderSession, "url": ev.Render.URL})
	}
	return b.write(sse, ev.ID, FrameAgentEvent, ev)
}

func (b *Bridge) write(sse *SSEWriter, id, frameType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := sse.WriteEvent(id, frameType, data); err != nil {
		return err
	}
	b.metrics.FrameWritten(frameType)
	return nil
}
