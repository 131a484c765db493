// Package telemetry defines the narrow tracing surface the core depends
// on. Exporter wiring (OTLP, stdout, sampling policy) is an external
// concern — callers hand the core a Tracer built however they like; the
// core only ever calls Start/End.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the tracing dependency injected into the deployment engine.
// Any go.opentelemetry.io/otel trace.Tracer satisfies it directly.
type Tracer interface {
	Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span)
}

// NoopTracer discards every span. It is the default when no Tracer is
// injected, so the engine never has to nil-check.
type NoopTracer struct{}

func (NoopTracer) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

// Span wraps trace.Span with the small set of helpers the engine uses
// repeatedly, mirroring the teacher's attribute-by-type dispatch.
type Span struct {
	trace.Span
}

// StartSpan starts a span through the injected Tracer, defaulting to a
// NoopTracer if none was supplied.
func StartSpan(ctx context.Context, tracer Tracer, name string, opts ...trace.SpanStartOption) (context.Context, *Span) {
	if tracer == nil {
		tracer = NoopTracer{}
	}
	ctx, span := tracer.Start(ctx, name, opts...)
	return ctx, &Span{Span: span}
}

// SetAttribute sets a single attribute, dispatching on Go type the way
// ad-hoc call sites expect rather than requiring attribute.KeyValue.
func (s *Span) SetAttribute(key string, value any) {
	switch v := value.(type) {
	case string:
		s.SetAttributes(attribute.String(key, v))
	case int:
		s.SetAttributes(attribute.Int(key, v))
	case int64:
		s.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.SetAttributes(attribute.Bool(key, v))
	default:
		s.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

// SetError records an error on the span and marks its status.
func (s *Span) SetError(err error) {
	if err == nil {
		return
	}
	s.RecordError(err)
	s.SetStatus(codes.Error, err.Error())
}

// SetOK marks the span as successful.
func (s *Span) SetOK() {
	s.SetStatus(codes.Ok, "")
}

// DeploymentSpan starts a span for one deployment-lifecycle operation
// (deploy, rollback, verify), tagged with the deployment and strategy.
func DeploymentSpan(ctx context.Context, tracer Tracer, operation, deploymentID, strategy string) (context.Context, *Span) {
	ctx, span := StartSpan(ctx, tracer, "deployment."+operation, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttribute("deployment.id", deploymentID)
	span.SetAttribute("deployment.strategy", strategy)
	return ctx, span
}

// RemoteExecSpan starts a span for one remote command execution against
// one asset.
func RemoteExecSpan(ctx context.Context, tracer Tracer, assetID, backend string) (context.Context, *Span) {
	ctx, span := StartSpan(ctx, tracer, "remote.exec", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttribute("asset.id", assetID)
	span.SetAttribute("remote.backend", backend)
	return ctx, span
}

// HealthProbeSpan starts a span for one health probe against one asset.
func HealthProbeSpan(ctx context.Context, tracer Tracer, assetID, checkType string) (context.Context, *Span) {
	ctx, span := StartSpan(ctx, tracer, "health.probe", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttribute("asset.id", assetID)
	span.SetAttribute("health.check_type", checkType)
	return ctx, span
}
