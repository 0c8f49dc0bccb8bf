// Package tracing emits the spans that tie agent activity to events and
// sessions.
package tracing

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/docker/agentgateway"

// Span names.
const (
	SpanInvocation  = "invocation"
	SpanCallLLM     = "call_llm"
	SpanSendData    = "send_data"
	SpanExecuteTool = "execute_tool"
)

// Attribute keys.
const (
	KeyEventID      = "gcp.vertex.agent.event_id"
	KeySessionID    = "gcp.vertex.agent.session_id"
	KeyInvocationID = "gcp.vertex.agent.invocation_id"
	KeyLLMRequest   = "gcp.vertex.agent.llm_request"
	KeyLLMResponse  = "gcp.vertex.agent.llm_response"
	KeyToolArgs     = "gcp.vertex.agent.tool_call_args"
	KeyToolResponse = "gcp.vertex.agent.tool_response"
	KeyData         = "gcp.vertex.agent.data"
	KeyModel        = "gen_ai.request.model"
	KeyToolName     = "gen_ai.tool.name"
	KeyAppName      = "gen_ai.agent.app_name"
)

// Invocation identifies the execution a span belongs to.
type Invocation struct {
	AppName      string
	SessionID    string
	InvocationID string
}

// tracer returns a tracer from the provider of the span in ctx, falling back
// to the global provider.
func tracer(ctx context.Context) trace.Tracer {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		return span.TracerProvider().Tracer(instrumentationName)
	}
	return otel.Tracer(instrumentationName)
}

// StartInvocation opens the root span of one agent execution. A nil tp uses
// the global provider.
func StartInvocation(ctx context.Context, tp trace.TracerProvider, inv Invocation) (context.Context, trace.Span) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(instrumentationName).Start(ctx, SpanInvocation, trace.WithAttributes(
		attribute.String(KeyAppName, inv.AppName),
		attribute.String(KeySessionID, inv.SessionID),
		attribute.String(KeyInvocationID, inv.InvocationID),
	))
}

// TraceCallLLM records a model call that produced the event eventID.
func TraceCallLLM(ctx context.Context, inv Invocation, eventID, model string, request, response any) {
	_, span := tracer(ctx).Start(ctx, SpanCallLLM)
	defer span.End()

	span.SetAttributes(
		attribute.String(KeySessionID, inv.SessionID),
		attribute.String(KeyInvocationID, inv.InvocationID),
		attribute.String(KeyEventID, eventID),
		attribute.String(KeyModel, model),
		attribute.String(KeyLLMRequest, encode(request)),
		attribute.String(KeyLLMResponse, encode(response)),
	)
}

// TraceToolCall records a tool execution whose response is the event eventID.
func TraceToolCall(ctx context.Context, inv Invocation, eventID, tool string, args, response any) {
	_, span := tracer(ctx).Start(ctx, SpanExecuteTool+" "+tool)
	defer span.End()

	span.SetAttributes(
		attribute.String(KeyInvocationID, inv.InvocationID),
		attribute.String(KeyEventID, eventID),
		attribute.String(KeyToolName, tool),
		attribute.String(KeyToolArgs, encode(args)),
		attribute.String(KeyToolResponse, encode(response)),
	)
}

// TraceSendData records data pushed into a live session.
func TraceSendData(ctx context.Context, inv Invocation, eventID string, data any) {
	_, span := tracer(ctx).Start(ctx, SpanSendData)
	defer span.End()

	span.SetAttributes(
		attribute.String(KeyInvocationID, inv.InvocationID),
		attribute.String(KeyEventID, eventID),
		attribute.String(KeyData, encode(data)),
	)
}

func encode(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "<not serializable>"
	}
	return string(b)
}
