package detector

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/pkg/matcher"
)

// Logger wraps zap.Logger with detector-specific structured logging.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a new Logger. If logger is nil, uses a no-op logger.
func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("detector")}
}

func (l *Logger) underlying() *zap.Logger {
	if l == nil || l.logger == nil {
		return zap.NewNop()
	}
	return l.logger
}

// DocumentProcessed logs a completed detection run.
func (l *Logger) DocumentProcessed(ctx context.Context, domains []string, stats Stats) {
	if l == nil || l.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.Strings("domains", domains),
		zap.Int("entities", stats.Entities),
		zap.Int("relationships", stats.Relationships),
		zap.Int("dropped_relationships", stats.DroppedRelationships),
		zap.Float64("mean_confidence", stats.MeanConfidence),
		zap.Duration("duration", stats.Duration),
	}
	fields = append(fields, l.traceFields(ctx)...)
	l.logger.Debug("document processed", fields...)
}

// RelationshipDropped logs a relationship match with an unresolved endpoint.
func (l *Logger) RelationshipDropped(ctx context.Context, m matcher.RawMatch) {
	if l == nil || l.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("domain", m.Definition.Domain),
		zap.String("pattern", m.Definition.Name),
		zap.String("version", m.Definition.Version),
		zap.Int("start", m.Start),
		zap.Int("end", m.End),
	}
	fields = append(fields, l.traceFields(ctx)...)
	l.logger.Debug("relationship dropped: unresolved endpoint", fields...)
}

// Error logs an error with context.
func (l *Logger) Error(ctx context.Context, msg string, err error, fields ...zap.Field) {
	if l == nil || l.logger == nil {
		return
	}
	allFields := l.traceFields(ctx)
	allFields = append(allFields, zap.Error(err))
	allFields = append(allFields, fields...)
	l.logger.Error(msg, allFields...)
}

// Debug logs a debug message with context.
func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	if l == nil || l.logger == nil {
		return
	}
	allFields := l.traceFields(ctx)
	allFields = append(allFields, fields...)
	l.logger.Debug(msg, allFields...)
}

// traceFields extracts trace context from the context.
func (l *Logger) traceFields(ctx context.Context) []zap.Field {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return nil
	}
	sc := span.SpanContext()
	fields := []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
	if sc.IsSampled() {
		fields = append(fields, zap.Bool("trace_sampled", true))
	}
	return fields
}
