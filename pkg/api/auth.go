package api

import (
	"context"

	echo "github.com/labstack/echo/v5"

	"github.com/tbenself/clawops/pkg/guard"
)

type principalKey struct{}

// withPrincipalID stashes the resolved principal id on ctx for
// ContextResolver to read back inside the domain layer.
func withPrincipalID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, principalKey{}, id)
}

// ContextResolver implements guard.IdentityResolver by reading the
// principal id the auth middleware stashed on the request context.
type ContextResolver struct{}

func (ContextResolver) Resolve(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(principalKey{}).(string)
	return id, ok && id != ""
}

// extractPrincipal resolves the caller's identity for one request.
//
// Priority: a matching X-Bot-Secret (the single shared operational secret
// spec.md §6 names for the Bot Interface's HTTP adapter path) authenticates
// the caller as whatever principal X-Bot-Principal names, defaulting to
// "bot". Otherwise this falls back to the teacher's oauth2-proxy header
// scheme (pkg/api/auth.go's extractAuthor): X-Forwarded-User, then
// X-Forwarded-Email. An empty return means unauthenticated.
func extractPrincipal(c *echo.Context, botSecret string) string {
	if botSecret != "" && c.Request().Header.Get("X-Bot-Secret") == botSecret {
		if principal := c.Request().Header.Get("X-Bot-Principal"); principal != "" {
			return principal
		}
		return "bot"
	}
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		return email
	}
	return ""
}

var _ guard.IdentityResolver = ContextResolver{}
