package observability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func TestMutationSpanAttributes(t *testing.T) {
	attrs := MutationSpanAttributes(MutationSummary{
		MutationID:  "m-1",
		ConnectorID: "graph",
		Provider:    "neo4j",
		Roots:       2,
		Things:      3,
		Edges:       1,
		PreQueried:  true,
	})
	assert.Contains(t, attrs, attribute.String("mutation.connector", "graph"))
	assert.Contains(t, attrs, attribute.String("db.system", "neo4j"))
	assert.Contains(t, attrs, attribute.Int("mutation.things", 3))
	assert.Contains(t, attrs, attribute.Bool("mutation.prequeried", true))

	assert.Empty(t, MutationSpanAttributes(MutationSummary{}))
}

func TestMutationLogFieldsIncludesTraceID(t *testing.T) {
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1, 2, 3},
		SpanID:  trace.SpanID{4, 5, 6},
		Remote:  true,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	fields := MutationLogFields(ctx, MutationSummary{ConnectorID: "docs", Provider: "bolt"})
	assert.Contains(t, fields, slog.String("trace_id", spanCtx.TraceID().String()))
	assert.Contains(t, fields, slog.String("connector", "docs"))
}
