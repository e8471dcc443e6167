package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MutationSummary describes one pipeline run for spans and logs.
type MutationSummary struct {
	MutationID  string
	ConnectorID string
	Provider    string
	Roots       int
	Things      int
	Edges       int
	PreQueried  bool
}

// MutationSpanAttributes builds canonical span attributes for a run.
func MutationSpanAttributes(s MutationSummary) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 7)
	if s.MutationID != "" {
		attrs = append(attrs, attribute.String("mutation.id", s.MutationID))
	}
	if s.ConnectorID != "" {
		attrs = append(attrs,
			attribute.String("mutation.connector", s.ConnectorID),
			attribute.String("db.system", s.Provider),
		)
	}
	if s.Roots > 0 {
		attrs = append(attrs, attribute.Int("mutation.roots", s.Roots))
	}
	if s.Things > 0 || s.Edges > 0 {
		attrs = append(attrs,
			attribute.Int("mutation.things", s.Things),
			attribute.Int("mutation.edges", s.Edges),
		)
	}
	if s.PreQueried {
		attrs = append(attrs, attribute.Bool("mutation.prequeried", true))
	}
	return attrs
}

// MutationLogFields builds canonical structured log fields for a run.
func MutationLogFields(ctx context.Context, s MutationSummary) []any {
	fields := make([]any, 0, 6)
	if s.ConnectorID != "" {
		fields = append(fields,
			slog.String("connector", s.ConnectorID),
			slog.String("provider", s.Provider),
		)
	}
	if s.Things > 0 || s.Edges > 0 {
		fields = append(fields, slog.Int("things", s.Things), slog.Int("edges", s.Edges))
	}

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		fields = append(fields, slog.String("trace_id", spanCtx.TraceID().String()))
	}
	return fields
}
