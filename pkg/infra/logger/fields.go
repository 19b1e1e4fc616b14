// Package logger carries structured logging fields through a context, so a
// delivery can be logged with the agent, task and trace it belongs to.
package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/logger"
	"github.com/kart-io/logger/core"
)

type contextKey int

const (
	loggerFieldsKey contextKey = iota
	contextLoggerKey
)

// loggerFields is copied on every write; a context never sees a later
// change made through a derived context.
type loggerFields struct {
	keys   []string
	values map[string]interface{}
}

func (lf *loggerFields) clone() *loggerFields {
	n := &loggerFields{
		keys:   make([]string, len(lf.keys), len(lf.keys)+1),
		values: make(map[string]interface{}, len(lf.values)+1),
	}
	copy(n.keys, lf.keys)
	for k, v := range lf.values {
		n.values[k] = v
	}
	return n
}

func (lf *loggerFields) set(key string, value interface{}) {
	if _, ok := lf.values[key]; !ok {
		lf.keys = append(lf.keys, key)
	}
	lf.values[key] = value
}

// toSlice returns the fields as key/value pairs in insertion order.
func (lf *loggerFields) toSlice() []interface{} {
	if len(lf.keys) == 0 {
		return nil
	}
	slice := make([]interface{}, 0, len(lf.keys)*2)
	for _, k := range lf.keys {
		slice = append(slice, k, lf.values[k])
	}
	return slice
}

func getLoggerFields(ctx context.Context) *loggerFields {
	if lf, ok := ctx.Value(loggerFieldsKey).(*loggerFields); ok {
		return lf
	}
	return &loggerFields{values: map[string]interface{}{}}
}

func withField(ctx context.Context, key string, value interface{}) context.Context {
	lf := getLoggerFields(ctx).clone()
	lf.set(key, value)
	return context.WithValue(ctx, loggerFieldsKey, lf)
}

// WithAgentKey adds the key of the agent the work belongs to.
func WithAgentKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return withField(ctx, "key", key)
}

// WithTaskID adds the scheduled task id.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	if taskID == "" {
		return ctx
	}
	return withField(ctx, "task_id", taskID)
}

// WithFields adds key/value pairs. A trailing key without a value and
// non-string keys are ignored.
func WithFields(ctx context.Context, keysAndValues ...interface{}) context.Context {
	if len(keysAndValues) < 2 {
		return ctx
	}
	lf := getLoggerFields(ctx).clone()
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			lf.set(key, keysAndValues[i+1])
		}
	}
	return context.WithValue(ctx, loggerFieldsKey, lf)
}

// ExtractOpenTelemetryFields copies trace_id and span_id from the span
// in ctx, if it is recording.
func ExtractOpenTelemetryFields(ctx context.Context) context.Context {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return ctx
	}
	spanCtx := span.SpanContext()
	if !spanCtx.IsValid() {
		return ctx
	}

	lf := getLoggerFields(ctx).clone()
	lf.set("trace_id", spanCtx.TraceID().String())
	lf.set("span_id", spanCtx.SpanID().String())
	return context.WithValue(ctx, loggerFieldsKey, lf)
}

// GetContextFields returns the fields stored in ctx, or nil.
func GetContextFields(ctx context.Context) []interface{} {
	return getLoggerFields(ctx).toSlice()
}

// GetLogger returns the logger stored with WithLogger, or the global
// logger carrying the context fields.
func GetLogger(ctx context.Context) core.Logger {
	if l, ok := ctx.Value(contextLoggerKey).(core.Logger); ok {
		return l
	}
	base := logger.Global()
	fields := GetContextFields(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// WithLogger stores a pre-configured logger in ctx.
func WithLogger(ctx context.Context, l core.Logger) context.Context {
	return context.WithValue(ctx, contextLoggerKey, l)
}
