// Package guard resolves caller identity and enforces per-operation role
// sets, grounded in the teacher's pkg/api/auth.go (header-based identity
// extraction) generalized into a pluggable resolver, since spec.md §4.3
// requires identity to come from "the ambient auth context" rather than
// any one fixed transport's header scheme.
package guard

import (
	"context"
	"fmt"

	"github.com/tbenself/clawops/ent"
	"github.com/tbenself/clawops/ent/member"
	"github.com/tbenself/clawops/pkg/coreerr"
)

// Role is one of the four project roles. owner is a superset of every
// other role.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
	RoleBot      Role = "bot"
)

// AuthContext is produced by Guard.Resolve and passed to every handler; it
// is the only source of caller identity a handler may use.
type AuthContext struct {
	PrincipalID string
	TenantID    string
	ProjectID   string
	Role        Role
}

// IdentityResolver extracts the caller's principal id from the ambient
// request context. The HTTP adapter supplies a header-based
// implementation (see pkg/api); bot calls and tests can supply a fixed
// identity.
type IdentityResolver interface {
	Resolve(ctx context.Context) (principalID string, ok bool)
}

// StaticResolver always resolves to a fixed principal id — used by the Bot
// Interface's single shared operational secret path and by tests.
type StaticResolver string

func (s StaticResolver) Resolve(context.Context) (string, bool) {
	if s == "" {
		return "", false
	}
	return string(s), true
}

// Guard resolves identity and checks project membership/role.
type Guard struct {
	client   *ent.Client
	resolver IdentityResolver
}

func New(client *ent.Client, resolver IdentityResolver) *Guard {
	return &Guard{client: client, resolver: resolver}
}

// Resolve extracts the caller's principal id without checking project
// membership, for operations that run before any membership can exist —
// init_project is the only one.
func (g *Guard) Resolve(ctx context.Context) (string, error) {
	principalID, ok := g.resolver.Resolve(ctx)
	if !ok || principalID == "" {
		return "", coreerr.ErrUnauthenticated
	}
	return principalID, nil
}

// Authorize resolves the caller, loads their membership in projectID, and
// checks role against required. owner always passes.
func (g *Guard) Authorize(ctx context.Context, tenantID, projectID string, required []Role) (*AuthContext, error) {
	principalID, ok := g.resolver.Resolve(ctx)
	if !ok || principalID == "" {
		return nil, coreerr.ErrUnauthenticated
	}

	m, err := g.client.Member.Query().
		Where(
			member.ProjectID(projectID),
			member.PrincipalID(principalID),
		).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, coreerr.ErrNotAMember
		}
		return nil, fmt.Errorf("looking up membership: %w", err)
	}

	role := Role(m.Role)
	if !Permits(role, required) {
		return nil, coreerr.NewPermissionError(roleStrings(required))
	}

	return &AuthContext{
		PrincipalID: principalID,
		TenantID:    tenantID,
		ProjectID:   projectID,
		Role:        role,
	}, nil
}

// Permits reports whether role satisfies one of the required roles. owner
// is a superset of every role.
func Permits(role Role, required []Role) bool {
	if role == RoleOwner {
		return true
	}
	for _, r := range required {
		if role == r {
			return true
		}
	}
	return false
}

// CheckScope rejects (as NotFound, never Forbidden) when an entity's
// project_id does not match the caller's resolved project — this is the
// cross-project oracle-leakage guard spec.md §4.3 requires.
func CheckScope(callerProjectID, entityProjectID string) error {
	if callerProjectID != entityProjectID {
		return coreerr.ErrNotFound
	}
	return nil
}

func roleStrings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
