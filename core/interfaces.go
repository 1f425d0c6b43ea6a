// Package core holds the data model, error taxonomy, and configuration
// contract shared by every pipeline stage and provider adapter.
package core

import "context"

// Logger is the minimal structured-logging interface every component
// depends on. Components must work fine against a NoOpLogger.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger lets a stage attach its own component tag without
// dropping the caller's base logger configuration.
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// NoOpLogger discards everything. It is the default when no logger is
// injected, so every component must tolerate it.
type NoOpLogger struct{}

func (n *NoOpLogger) Info(string, map[string]interface{})  {}
func (n *NoOpLogger) Error(string, map[string]interface{}) {}
func (n *NoOpLogger) Warn(string, map[string]interface{})  {}
func (n *NoOpLogger) Debug(string, map[string]interface{}) {}

func (n *NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (n *NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (n *NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (n *NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}

// Telemetry starts spans for distributed tracing. It is optional:
// every caller must work against a NoOpTelemetry.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Span is a single unit of traced work.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// NoOpSpan discards attributes and errors.
type NoOpSpan struct{}

func (s *NoOpSpan) End()                             {}
func (s *NoOpSpan) SetAttribute(string, interface{}) {}
func (s *NoOpSpan) RecordError(error)                {}

// NoOpTelemetry hands out NoOpSpans.
type NoOpTelemetry struct{}

func (t *NoOpTelemetry) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, &NoOpSpan{}
}
