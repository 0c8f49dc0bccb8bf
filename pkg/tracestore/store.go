// Package tracestore keeps finished spans in memory and correlates them with
// the events and sessions they describe.
package tracestore

import (
	"context"
	"errors"
	"strings"
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/docker/agentgateway/pkg/metrics"
	"github.com/docker/agentgateway/pkg/tracing"
)

var ErrNotFound = errors.New("trace not found")

// Span is a finished span as served by the debug endpoints.
type Span struct {
	Name         string         `json:"name"`
	TraceID      string         `json:"trace_id"`
	SpanID       string         `json:"span_id"`
	ParentSpanID string         `json:"parent_span_id,omitempty"`
	StartTime    int64          `json:"start_time"`
	EndTime      int64          `json:"end_time"`
	Attributes   map[string]any `json:"attributes"`
}

type record struct {
	span    Span
	eventID string
}

// Store implements sdktrace.SpanExporter. Register it with a simple span
// processor so spans are visible as soon as they end.
type Store struct {
	maxSpans int
	metrics  *metrics.Metrics

	mu            sync.RWMutex
	records       []record
	byEvent       map[string]record
	sessionTraces map[string]map[string]struct{}
}

var _ sdktrace.SpanExporter = (*Store)(nil)

type Option func(*Store)

// WithMaxSpans bounds the number of retained spans. The oldest spans, and the
// event index entries pointing at them, are dropped first. Zero means unbounded.
func WithMaxSpans(n int) Option {
	return func(s *Store) {
		s.maxSpans = n
	}
}

// WithMetrics counts exported spans.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		byEvent:       map[string]record{},
		sessionTraces: map[string]map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExportSpans records each span. It never fails.
func (s *Store) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, ros := range spans {
		s.Record(fromReadOnly(ros))
	}
	s.metrics.SpansRecorded(len(spans))
	return nil
}

func (s *Store) Shutdown(context.Context) error {
	return nil
}

// Record indexes one finished span.
func (s *Store) Record(span Span) {
	eventID, _ := span.Attributes[tracing.KeyEventID].(string)
	rec := record{span: span}
	if eventID != "" && indexedByEvent(span.Name) {
		rec.eventID = eventID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.eventID != "" {
		s.byEvent[rec.eventID] = rec
	}
	if span.Name == tracing.SpanCallLLM {
		if sessionID, _ := span.Attributes[tracing.KeySessionID].(string); sessionID != "" {
			traces, ok := s.sessionTraces[sessionID]
			if !ok {
				traces = map[string]struct{}{}
				s.sessionTraces[sessionID] = traces
			}
			traces[span.TraceID] = struct{}{}
		}
	}

	s.records = append(s.records, rec)
	if s.maxSpans > 0 && len(s.records) > s.maxSpans {
		s.evict(len(s.records) - s.maxSpans)
	}
}

func (s *Store) evict(n int) {
	for _, old := range s.records[:n] {
		if old.eventID == "" {
			continue
		}
		if current, ok := s.byEvent[old.eventID]; ok && current.span.SpanID == old.span.SpanID {
			delete(s.byEvent, old.eventID)
		}
	}
	s.records = append([]record(nil), s.records[n:]...)
}

// LookupByEvent returns the attributes of the span that produced eventID,
// plus its trace_id and span_id. When several spans carry the same event id
// the most recently recorded one wins.
func (s *Store) LookupByEvent(eventID string) (map[string]any, error) {
	s.mu.RLock()
	rec, ok := s.byEvent[eventID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	attrs := make(map[string]any, len(rec.span.Attributes)+2)
	for k, v := range rec.span.Attributes {
		attrs[k] = v
	}
	attrs["trace_id"] = rec.span.TraceID
	attrs["span_id"] = rec.span.SpanID
	return attrs, nil
}

// LookupBySession returns every recorded span whose trace contains a model
// call of sessionID, in record order. The result is empty, never nil, when
// nothing matches.
func (s *Store) LookupBySession(sessionID string) []Span {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spans := []Span{}
	traces := s.sessionTraces[sessionID]
	if len(traces) == 0 {
		return spans
	}
	for _, rec := range s.records {
		if _, ok := traces[rec.span.TraceID]; ok {
			spans = append(spans, rec.span)
		}
	}
	return spans
}

// Len returns the number of retained spans.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}

func indexedByEvent(name string) bool {
	return name == tracing.SpanCallLLM || name == tracing.SpanSendData || strings.HasPrefix(name, tracing.SpanExecuteTool)
}

func fromReadOnly(ros sdktrace.ReadOnlySpan) Span {
	attrs := make(map[string]any, len(ros.Attributes()))
	for _, kv := range ros.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}

	span := Span{
		Name:       ros.Name(),
		TraceID:    ros.SpanContext().TraceID().String(),
		SpanID:     ros.SpanContext().SpanID().String(),
		StartTime:  ros.StartTime().UnixNano(),
		EndTime:    ros.EndTime().UnixNano(),
		Attributes: attrs,
	}
	if parent := ros.Parent(); parent.IsValid() {
		span.ParentSpanID = parent.SpanID().String()
	}
	return span
}
