// Package ctxutil carries per-request trace identity for the request log
// and the observability collectors. Tenant identity lives in pkg/ctxutil,
// not here; the two never mix.
package ctxutil

import "context"

type traceDataKey struct{}

// TraceData pairs the otel trace id with the request id minted by the
// request-log middleware.
type TraceData struct {
	TraceID   string
	RequestID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

// GetTraceData returns nil when the context carries no trace identity,
// e.g. on worker-side code paths that never passed through the middleware.
func GetTraceData(ctx context.Context) *TraceData {
	if td, ok := ctx.Value(traceDataKey{}).(*TraceData); ok {
		return td
	}
	return nil
}
