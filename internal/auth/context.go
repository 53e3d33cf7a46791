package auth

import (
	"context"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type principalKey struct{}

// WithPrincipal кладёт аутентифицированного вызывающего в контекст.
func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom достаёт вызывающего из контекста.
func PrincipalFrom(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Principal)
	return p, ok
}
