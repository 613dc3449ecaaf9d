package guard_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/tbenself/clawops/test/database"

	"github.com/tbenself/clawops/pkg/coreerr"
	"github.com/tbenself/clawops/pkg/guard"
	"github.com/tbenself/clawops/pkg/ids"
)

func TestPermits(t *testing.T) {
	assert.True(t, guard.Permits(guard.RoleOwner, []guard.Role{guard.RoleOperator}))
	assert.True(t, guard.Permits(guard.RoleOperator, []guard.Role{guard.RoleOperator, guard.RoleOwner}))
	assert.False(t, guard.Permits(guard.RoleViewer, []guard.Role{guard.RoleOperator, guard.RoleOwner}))
}

func TestAuthorize(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()

	projectID := ids.New()
	_, err := client.Project.Create().
		SetID(projectID).
		SetTenantID("t1").
		SetName("proj").
		Save(ctx)
	require.NoError(t, err)

	_, err = client.Member.Create().
		SetID(ids.New()).
		SetTenantID("t1").
		SetProjectID(projectID).
		SetPrincipalID("alice").
		SetRole("operator").
		Save(ctx)
	require.NoError(t, err)

	t.Run("unauthenticated", func(t *testing.T) {
		g := guard.New(client.Client, guard.StaticResolver(""))
		_, err := g.Authorize(ctx, "t1", projectID, []guard.Role{guard.RoleOperator})
		assert.ErrorIs(t, err, coreerr.ErrUnauthenticated)
	})

	t.Run("not a member", func(t *testing.T) {
		g := guard.New(client.Client, guard.StaticResolver("stranger"))
		_, err := g.Authorize(ctx, "t1", projectID, []guard.Role{guard.RoleOperator})
		assert.ErrorIs(t, err, coreerr.ErrNotAMember)
	})

	t.Run("insufficient permissions", func(t *testing.T) {
		g := guard.New(client.Client, guard.StaticResolver("alice"))
		_, err := g.Authorize(ctx, "t1", projectID, []guard.Role{guard.RoleOwner})
		var permErr *coreerr.PermissionError
		require.ErrorAs(t, err, &permErr)
	})

	t.Run("authorized", func(t *testing.T) {
		g := guard.New(client.Client, guard.StaticResolver("alice"))
		authCtx, err := g.Authorize(ctx, "t1", projectID, []guard.Role{guard.RoleOperator})
		require.NoError(t, err)
		assert.Equal(t, guard.RoleOperator, authCtx.Role)
		assert.Equal(t, "alice", authCtx.PrincipalID)
	})
}

func TestCheckScope(t *testing.T) {
	assert.NoError(t, guard.CheckScope("p1", "p1"))
	assert.ErrorIs(t, guard.CheckScope("p1", "p2"), coreerr.ErrNotFound)
}
