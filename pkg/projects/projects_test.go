package projects_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/tbenself/clawops/test/database"

	"github.com/tbenself/clawops/ent"
	"github.com/tbenself/clawops/pkg/coreerr"
	"github.com/tbenself/clawops/pkg/guard"
	"github.com/tbenself/clawops/pkg/ids"
	"github.com/tbenself/clawops/pkg/projects"
)

// serviceAs builds a Service resolving every call to principal, sharing one
// underlying ent client so multiple "callers" can act on the same project.
func serviceAs(client *ent.Client, principal string) *projects.Service {
	return projects.New(client, guard.New(client, guard.StaticResolver(principal)))
}

func TestInitProject_SeatsCallerAsOwner(t *testing.T) {
	db := testdb.NewTestClient(t)
	ctx := context.Background()
	projectID := ids.New()

	asAlice := serviceAs(db.Client, "alice")
	proj, err := asAlice.InitProject(ctx, projects.InitProjectInput{
		TenantID:  "t1",
		ProjectID: projectID,
		Name:      "proj",
	})
	require.NoError(t, err)
	assert.Equal(t, projectID, proj.ID)

	role, err := asAlice.MyRole(ctx, "t1", projectID)
	require.NoError(t, err)
	assert.Equal(t, guard.RoleOwner, role)
}

func TestInitProject_RejectsDuplicateProjectID(t *testing.T) {
	db := testdb.NewTestClient(t)
	ctx := context.Background()
	projectID := ids.New()
	asAlice := serviceAs(db.Client, "alice")

	_, err := asAlice.InitProject(ctx, projects.InitProjectInput{TenantID: "t1", ProjectID: projectID, Name: "proj"})
	require.NoError(t, err)

	_, err = asAlice.InitProject(ctx, projects.InitProjectInput{TenantID: "t1", ProjectID: projectID, Name: "proj-again"})
	assert.ErrorIs(t, err, coreerr.ErrProjectExists)
}

func TestAddMemberThenListMembers(t *testing.T) {
	db := testdb.NewTestClient(t)
	ctx := context.Background()
	projectID := ids.New()
	asAlice := serviceAs(db.Client, "alice")

	_, err := asAlice.InitProject(ctx, projects.InitProjectInput{TenantID: "t1", ProjectID: projectID, Name: "proj"})
	require.NoError(t, err)

	_, err = asAlice.AddMember(ctx, "t1", projectID, "bob", guard.RoleOperator)
	require.NoError(t, err)

	members, err := asAlice.ListMembers(ctx, "t1", projectID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestAddMember_RejectsNonOwnerCaller(t *testing.T) {
	db := testdb.NewTestClient(t)
	ctx := context.Background()
	projectID := ids.New()
	asAlice := serviceAs(db.Client, "alice")

	_, err := asAlice.InitProject(ctx, projects.InitProjectInput{TenantID: "t1", ProjectID: projectID, Name: "proj"})
	require.NoError(t, err)
	_, err = asAlice.AddMember(ctx, "t1", projectID, "bob", guard.RoleViewer)
	require.NoError(t, err)

	asBob := serviceAs(db.Client, "bob")
	_, err = asBob.AddMember(ctx, "t1", projectID, "carol", guard.RoleViewer)
	assert.Error(t, err)
}

func TestRemoveMember_RefusesToRemoveLastOwner(t *testing.T) {
	db := testdb.NewTestClient(t)
	ctx := context.Background()
	projectID := ids.New()
	asAlice := serviceAs(db.Client, "alice")

	_, err := asAlice.InitProject(ctx, projects.InitProjectInput{TenantID: "t1", ProjectID: projectID, Name: "proj"})
	require.NoError(t, err)

	err = asAlice.RemoveMember(ctx, "t1", projectID, "alice")
	assert.ErrorIs(t, err, coreerr.ErrCannotRemoveLastOwner)
}

func TestRemoveMember_SucceedsWhenAnotherOwnerRemains(t *testing.T) {
	db := testdb.NewTestClient(t)
	ctx := context.Background()
	projectID := ids.New()
	asAlice := serviceAs(db.Client, "alice")

	_, err := asAlice.InitProject(ctx, projects.InitProjectInput{TenantID: "t1", ProjectID: projectID, Name: "proj"})
	require.NoError(t, err)

	_, err = asAlice.AddMember(ctx, "t1", projectID, "bob", guard.RoleOwner)
	require.NoError(t, err)

	err = asAlice.RemoveMember(ctx, "t1", projectID, "alice")
	require.NoError(t, err)

	members, err := asAlice.ListMembers(ctx, "t1", projectID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "bob", members[0].PrincipalID)
}

func TestMyRole_RejectsNonMember(t *testing.T) {
	db := testdb.NewTestClient(t)
	ctx := context.Background()
	projectID := ids.New()
	asAlice := serviceAs(db.Client, "alice")

	_, err := asAlice.InitProject(ctx, projects.InitProjectInput{TenantID: "t1", ProjectID: projectID, Name: "proj"})
	require.NoError(t, err)

	asEve := serviceAs(db.Client, "eve")
	_, err = asEve.MyRole(ctx, "t1", projectID)
	assert.ErrorIs(t, err, coreerr.ErrNotAMember)
}
