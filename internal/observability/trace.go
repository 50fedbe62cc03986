package observability

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// GetTraceID returns the hex-encoded trace ID of the span active on ctx,
// or "" if ctx carries no valid span context. Callers that write audit
// entries can fold this into a non-NEVER-LOG metadata field to correlate
// an audited action back to the request that produced it.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
