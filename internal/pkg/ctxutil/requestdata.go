package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type requestDataKey struct{}

// RequestData is the per-request identity attached by the auth middleware.
// TenantID is the only tenant source downstream code may use; request
// bodies never carry one.
type RequestData struct {
	TenantID    uuid.UUID
	TenantName  string
	TokenString string
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	val := ctx.Value(requestDataKey{})
	if rd, ok := val.(*RequestData); ok {
		return rd
	}
	return nil
}

// TenantID returns the authenticated tenant, or uuid.Nil when the context
// carries no request data.
func TenantID(ctx context.Context) uuid.UUID {
	if rd := GetRequestData(ctx); rd != nil {
		return rd.TenantID
	}
	return uuid.Nil
}
