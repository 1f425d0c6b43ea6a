package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ProductionLogger is the default Logger implementation: JSON lines
// when running under Kubernetes (detected via KUBERNETES_SERVICE_HOST)
// or when explicitly requested, human-readable text otherwise.
type ProductionLogger struct {
	level     string
	format    string
	component string
	output    io.Writer
	mu        sync.RWMutex
}

// NewProductionLogger builds a ProductionLogger. level defaults to
// INFO; format auto-detects JSON under Kubernetes, falling back to
// text, unless POLLUX_LOG_FORMAT overrides it.
func NewProductionLogger() *ProductionLogger {
	level := strings.ToUpper(strings.TrimSpace(os.Getenv("POLLUX_LOG_LEVEL")))
	if level == "" {
		level = "INFO"
	}

	format := "text"
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		format = "json"
	}
	if v := os.Getenv("POLLUX_LOG_FORMAT"); v != "" {
		format = v
	}

	return &ProductionLogger{
		level:  level,
		format: format,
		output: os.Stdout,
	}
}

// WithComponent returns a Logger tagged with component, sharing this
// logger's level, format, and output.
func (l *ProductionLogger) WithComponent(component string) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &ProductionLogger{
		level:     l.level,
		format:    l.format,
		component: component,
		output:    l.output,
	}
}

// SetOutput redirects where log lines are written. Intended for tests.
func (l *ProductionLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

func (l *ProductionLogger) Info(msg string, fields map[string]interface{})  { l.log("INFO", msg, fields) }
func (l *ProductionLogger) Warn(msg string, fields map[string]interface{})  { l.log("WARN", msg, fields) }
func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) { l.log("ERROR", msg, fields) }
func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) { l.log("DEBUG", msg, fields) }

func (l *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("INFO", msg, withCallID(ctx, fields))
}

func (l *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("ERROR", msg, withCallID(ctx, fields))
}

func (l *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("WARN", msg, withCallID(ctx, fields))
}

func (l *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log("DEBUG", msg, withCallID(ctx, fields))
}

type contextKey string

const callIDKey contextKey = "pollux_call_id"

// ContextWithCallID attaches a call identifier to ctx for correlation
// across a batch's concurrent calls.
func ContextWithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, callIDKey, callID)
}

func withCallID(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	id, ok := ctx.Value(callIDKey).(string)
	if !ok || id == "" {
		return fields
	}
	merged := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged["call_id"] = id
	return merged
}

func (l *ProductionLogger) log(level, msg string, fields map[string]interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.shouldLog(level) {
		return
	}

	timestamp := time.Now().Format(time.RFC3339)
	if l.format == "json" {
		l.logJSON(timestamp, level, msg, fields)
	} else {
		l.logText(timestamp, level, msg, fields)
	}
}

func (l *ProductionLogger) logJSON(timestamp, level, msg string, fields map[string]interface{}) {
	entry := map[string]interface{}{
		"timestamp": timestamp,
		"level":     level,
		"component": l.component,
		"message":   msg,
	}
	for k, v := range fields {
		if k == "timestamp" || k == "level" || k == "component" || k == "message" {
			continue
		}
		entry[k] = v
	}
	if data, err := json.Marshal(entry); err == nil {
		fmt.Fprintln(l.output, string(data))
	}
}

func (l *ProductionLogger) logText(timestamp, level, msg string, fields map[string]interface{}) {
	var b strings.Builder
	if len(fields) > 0 {
		b.WriteString(" ")
		for k, v := range fields {
			fmt.Fprintf(&b, "%s=%v ", k, v)
		}
	}
	component := l.component
	if component == "" {
		component = "pollux"
	}
	fmt.Fprintf(l.output, "%s [%s] [%s] %s%s\n", timestamp, level, component, msg, b.String())
}

var logLevels = map[string]int{"DEBUG": 0, "INFO": 1, "WARN": 2, "ERROR": 3}

func (l *ProductionLogger) shouldLog(level string) bool {
	current, ok1 := logLevels[l.level]
	target, ok2 := logLevels[level]
	if !ok1 || !ok2 {
		return true
	}
	return target >= current
}
