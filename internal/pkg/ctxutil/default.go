package ctxutil

import "context"

// Default guards the call sites that may be handed a nil context by an
// optional adapter; everything downstream can then assume ctx != nil.
func Default(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
