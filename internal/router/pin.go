package router

import (
	"context"
	"strings"
)

type pinKey struct{}

// WithPin returns a context whose routed calls try provider name first.
func WithPin(ctx context.Context, name string) context.Context {
	name = strings.TrimSpace(name)
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, pinKey{}, name)
}

// PinFrom returns the pinned provider, if any.
func PinFrom(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(pinKey{}).(string)
	return name, ok && name != ""
}
