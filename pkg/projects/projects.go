// Package projects implements the project/membership operations spec.md
// §3/§6 describe: init_project, add_member, remove_member, list_members,
// my_role. These never touch the event log — the closed event-type set in
// spec.md §6 has no project/membership events, so this is plain
// transactional CRUD over the projects/members tables, grounded in the
// teacher's pkg/services/session_service.go create-with-unique-index idiom
// (ent.IsConstraintError -> a named sentinel, never a raw DB error).
package projects

import (
	"context"
	"fmt"

	"github.com/tbenself/clawops/ent"
	"github.com/tbenself/clawops/ent/member"
	"github.com/tbenself/clawops/pkg/coreerr"
	"github.com/tbenself/clawops/pkg/guard"
	"github.com/tbenself/clawops/pkg/ids"
)

var anyMember = []guard.Role{guard.RoleOwner, guard.RoleOperator, guard.RoleViewer, guard.RoleBot}

// Service wires project/membership operations to the guard and the ent
// client directly — there is no intermediate event-sourced service to
// delegate to for this slice of the data model.
type Service struct {
	client *ent.Client
	guard  *guard.Guard
}

func New(client *ent.Client, g *guard.Guard) *Service {
	return &Service{client: client, guard: g}
}

// InitProjectInput is the input to InitProject.
type InitProjectInput struct {
	TenantID  string
	ProjectID string
	Name      string
}

// InitProject creates a new project and seats its caller as its first
// owner, in one transaction. Only identity is checked here — there is no
// membership to authorize against before the project exists.
func (s *Service) InitProject(ctx context.Context, in InitProjectInput) (*ent.Project, error) {
	principalID, err := s.guard.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := s.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	proj, err := tx.Project.Create().
		SetID(in.ProjectID).
		SetTenantID(in.TenantID).
		SetName(in.Name).
		Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return nil, coreerr.ErrProjectExists
		}
		return nil, fmt.Errorf("creating project: %w", err)
	}

	if _, err := tx.Member.Create().
		SetID(ids.New()).
		SetTenantID(in.TenantID).
		SetProjectID(in.ProjectID).
		SetPrincipalID(principalID).
		SetRole(member.RoleOwner).
		Save(ctx); err != nil {
		return nil, fmt.Errorf("seating first owner: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing init_project: %w", err)
	}
	return proj, nil
}

// AddMember seats principalID at role in projectID. Roles: owner.
func (s *Service) AddMember(ctx context.Context, tenantID, projectID, principalID string, role guard.Role) (*ent.Member, error) {
	if _, err := s.guard.Authorize(ctx, tenantID, projectID, []guard.Role{guard.RoleOwner}); err != nil {
		return nil, err
	}

	row, err := s.client.Member.Create().
		SetID(ids.New()).
		SetTenantID(tenantID).
		SetProjectID(projectID).
		SetPrincipalID(principalID).
		SetRole(member.Role(role)).
		Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return nil, coreerr.ErrDuplicateMember
		}
		return nil, fmt.Errorf("adding member: %w", err)
	}
	return row, nil
}

// RemoveMember removes principalID from projectID, refusing to remove the
// last remaining owner. Roles: owner.
func (s *Service) RemoveMember(ctx context.Context, tenantID, projectID, principalID string) error {
	if _, err := s.guard.Authorize(ctx, tenantID, projectID, []guard.Role{guard.RoleOwner}); err != nil {
		return err
	}

	target, err := s.client.Member.Query().
		Where(member.ProjectID(projectID), member.PrincipalID(principalID)).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return coreerr.ErrNotFound
		}
		return fmt.Errorf("loading member: %w", err)
	}

	if target.Role == member.RoleOwner {
		ownerCount, err := s.client.Member.Query().
			Where(member.ProjectID(projectID), member.RoleEQ(member.RoleOwner)).
			Count(ctx)
		if err != nil {
			return fmt.Errorf("counting owners: %w", err)
		}
		if ownerCount <= 1 {
			return coreerr.ErrCannotRemoveLastOwner
		}
	}

	if err := s.client.Member.DeleteOne(target).Exec(ctx); err != nil {
		return fmt.Errorf("removing member: %w", err)
	}
	return nil
}

// ListMembers returns every member of projectID. Any member may call this.
func (s *Service) ListMembers(ctx context.Context, tenantID, projectID string) ([]*ent.Member, error) {
	if _, err := s.guard.Authorize(ctx, tenantID, projectID, anyMember); err != nil {
		return nil, err
	}
	rows, err := s.client.Member.Query().
		Where(member.ProjectID(projectID)).
		Order(ent.Asc(member.FieldAddedTs)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	return rows, nil
}

// MyRole returns the caller's own role in projectID. Any member may call
// this (it is, definitionally, how a caller discovers it is a member).
func (s *Service) MyRole(ctx context.Context, tenantID, projectID string) (guard.Role, error) {
	authCtx, err := s.guard.Authorize(ctx, tenantID, projectID, anyMember)
	if err != nil {
		return "", err
	}
	return authCtx.Role, nil
}
