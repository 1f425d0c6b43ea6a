// Package telemetry implements core.Telemetry over the OpenTelemetry
// trace API. It only acquires a tracer from the global provider —
// exporter wiring (OTLP endpoints, batching, resources) belongs to the
// host process, not this library.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/seanbrar/pollux-sub002/core"
)

const tracerName = "github.com/seanbrar/pollux-sub002"

// Provider hands out spans from the globally registered OTel tracer
// provider. If the host never configures one, spans are no-ops, which
// keeps this safe as the default Telemetry implementation.
type Provider struct {
	tracer trace.Tracer
}

// NewProvider acquires the library tracer from the global provider.
func NewProvider() *Provider {
	return &Provider{tracer: otel.Tracer(tracerName)}
}

func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := p.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() {
	s.span.End()
}

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}
