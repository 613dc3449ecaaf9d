// Package botapi is the thin Bot Interface façade spec.md §2/§6 names: the
// four operations an automated worker calls directly
// (request_command, report_artifact, request_decision, await_decision),
// each delegating straight to pkg/commands/pkg/artifacts/pkg/decisions
// after a role check. It adds no behavior of its own beyond identity
// resolution, role enforcement, and the cross-project scope check that
// keeps a decision_id from leaking status across projects — the same
// "thin adapter in front of a service" shape as the teacher's
// pkg/api/handlers.go wrapping pkg/services.
package botapi

import (
	"context"

	"github.com/tbenself/clawops/ent"
	"github.com/tbenself/clawops/pkg/artifacts"
	"github.com/tbenself/clawops/pkg/commands"
	"github.com/tbenself/clawops/pkg/decisions"
	"github.com/tbenself/clawops/pkg/guard"
)

var botOrOwner = []guard.Role{guard.RoleBot, guard.RoleOwner}
var botOrOperatorOrOwner = []guard.Role{guard.RoleBot, guard.RoleOperator, guard.RoleOwner}

// API wires the four Bot Interface operations to their owning services.
type API struct {
	guard     *guard.Guard
	commands  *commands.Admitter
	artifacts *artifacts.Registry
	decisions *decisions.Lifecycle
}

func New(g *guard.Guard, c *commands.Admitter, a *artifacts.Registry, d *decisions.Lifecycle) *API {
	return &API{guard: g, commands: c, artifacts: a, decisions: d}
}

// RequestCommand admits a new command. Roles: bot, operator, owner.
func (a *API) RequestCommand(ctx context.Context, tenantID, projectID string, in commands.RequestInput) (*commands.Result, error) {
	if _, err := a.guard.Authorize(ctx, tenantID, projectID, botOrOperatorOrOwner); err != nil {
		return nil, err
	}
	in.TenantID, in.ProjectID = tenantID, projectID
	return a.commands.RequestCommand(ctx, in)
}

// ReportArtifact records an artifact manifest (deduping by content hash).
// Roles: bot, owner.
func (a *API) ReportArtifact(ctx context.Context, tenantID, projectID string, in artifacts.ReportInput) (*artifacts.Result, error) {
	if _, err := a.guard.Authorize(ctx, tenantID, projectID, botOrOwner); err != nil {
		return nil, err
	}
	in.TenantID, in.ProjectID = tenantID, projectID
	return a.artifacts.ReportArtifact(ctx, in)
}

// RequestDecision opens a new decision against a card. Roles: bot, owner.
func (a *API) RequestDecision(ctx context.Context, tenantID, projectID string, in decisions.RequestInput) (*ent.Decision, error) {
	if _, err := a.guard.Authorize(ctx, tenantID, projectID, botOrOwner); err != nil {
		return nil, err
	}
	in.TenantID, in.ProjectID = tenantID, projectID
	return a.decisions.RequestDecision(ctx, in)
}

// AwaitDecision returns a point-in-time status snapshot for a decision the
// bot is blocked on. It does not suspend the caller — sleep-until-signal is
// the job primitive's concern (pkg/jobs), not this façade's. Roles: bot,
// owner. A decision belonging to another project is reported as not found,
// never forbidden, so the bot cannot distinguish "wrong project" from
// "wrong id".
func (a *API) AwaitDecision(ctx context.Context, tenantID, projectID, decisionID string) (*decisions.Snapshot, error) {
	if _, err := a.guard.Authorize(ctx, tenantID, projectID, botOrOwner); err != nil {
		return nil, err
	}
	snap, err := a.decisions.AwaitDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if err := guard.CheckScope(projectID, snap.ProjectID); err != nil {
		return nil, err
	}
	return snap, nil
}
