package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	// Cycle correlation
	if cycle, ok := CycleFromContext(ctx); ok {
		fields = append(fields,
			zap.String("cycle.id", cycle.ID),
			zap.Int("cycle.depth", cycle.Depth),
		)
	}

	return fields
}

// Cycle identifies one running EDRR cycle for log correlation.
type Cycle struct {
	ID    string
	Depth int
}

type cycleCtxKey struct{}

// WithCycle adds cycle correlation to context. An empty id is stored as-is;
// log consumers treat it as an anonymous cycle.
func WithCycle(ctx context.Context, id string, depth int) context.Context {
	return context.WithValue(ctx, cycleCtxKey{}, Cycle{ID: id, Depth: depth})
}

// CycleFromContext extracts cycle correlation from context.
func CycleFromContext(ctx context.Context) (Cycle, bool) {
	c, ok := ctx.Value(cycleCtxKey{}).(Cycle)
	return c, ok
}

// loggerCtxKey is the context key for Logger.
type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
