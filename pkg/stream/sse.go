package stream

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Frame types.
const (
	FrameStreamStart    = "stream_start"
	FrameAgentEvent     = "agent_event"
	FrameRenderSession  = "render_session"
	FrameStreamComplete = "stream_complete"
	FrameError          = "error"
)

// SSEWriter writes Server-Sent-Event frames and flushes after each one.
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func NewSSEWriter(w io.Writer) *SSEWriter {
	f, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: f}
}

// SetHeaders prepares an HTTP response for an event stream.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// WriteEvent writes one frame. Empty id or event fields are omitted; data is
// split on newlines into several data lines.
func (s *SSEWriter) WriteEvent(id, eventType string, data []byte) error {
	var sb strings.Builder
	if id != "" {
		fmt.Fprintf(&sb, "id: %s\n", id)
	}
	if eventType != "" {
		fmt.Fprintf(&sb, "event: %s\n", eventType)
	}
	for line := range strings.SplitSeq(string(data), "\n") {
		fmt.Fprintf(&sb, "data: %s\n", line)
	}
	sb.WriteString("\n")
	return s.write(sb.String())
}

// WriteComment writes a comment line, which clients ignore.
func (s *SSEWriter) WriteComment(text string) error {
	return s.write(": " + text + "\n\n")
}

func (s *SSEWriter) write(frame string) error {
	if _, err := io.WriteString(s.w, frame); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
