package guard

import "context"

type ctxKey int

const principalHeaderKey ctxKey = iota

// WithPrincipalID stashes a principal id resolved upstream (e.g. by echo
// middleware reading oauth2-proxy headers) onto the context, mirroring the
// teacher's extractAuthor, but generalized so pkg/guard stays transport-agnostic.
func WithPrincipalID(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, principalHeaderKey, principalID)
}

// ContextResolver reads the principal id stashed by WithPrincipalID.
type ContextResolver struct{}

func (ContextResolver) Resolve(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(principalHeaderKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
