package middleware

import (
	"context"

	"github.com/barberdeskapp/barberdesk-backend/internal/gate"
)

type contextKey string

const ctxPrincipal contextKey = "principal"

// WithPrincipal injects the authenticated caller into the context.
func WithPrincipal(ctx context.Context, principal *gate.Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxPrincipal, principal)
}

// PrincipalFromContext returns the authenticated caller, or nil when the
// request did not pass the gate.
func PrincipalFromContext(ctx context.Context) *gate.Principal {
	if ctx == nil {
		return nil
	}
	if p, ok := ctx.Value(ctxPrincipal).(*gate.Principal); ok {
		return p
	}
	return nil
}
