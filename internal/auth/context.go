package auth

import "context"

// TokenSource records which extractor produced the access token.
type TokenSource string

const (
	TokenSourceCookie TokenSource = "cookie"
	TokenSourceBearer TokenSource = "bearer"
)

// Principal is the authenticated identity reference carried on a request.
// It is built from the access token alone, so it holds only id and email.
type Principal struct {
	UserID string
	Email  string
	Source TokenSource
}

type principalContextKey struct{}

// SetPrincipal stores the authenticated principal on the context for downstream handlers.
func SetPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext retrieves the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(Principal)
	return principal, ok
}
