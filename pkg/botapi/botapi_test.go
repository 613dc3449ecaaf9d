package botapi_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/tbenself/clawops/test/database"

	"github.com/tbenself/clawops/ent/card"
	"github.com/tbenself/clawops/pkg/artifacts"
	"github.com/tbenself/clawops/pkg/botapi"
	clawopsdb "github.com/tbenself/clawops/pkg/database"
	"github.com/tbenself/clawops/pkg/commands"
	"github.com/tbenself/clawops/pkg/coreerr"
	"github.com/tbenself/clawops/pkg/decisions"
	"github.com/tbenself/clawops/pkg/eventlog"
	"github.com/tbenself/clawops/pkg/guard"
	"github.com/tbenself/clawops/pkg/ids"
)

type memStore struct{}

func (memStore) Put(_ context.Context, _, _ string, _ []byte) (string, error) { return "mem://blob", nil }

func newAPI(t *testing.T, projectID, principal, role string) (*botapi.API, *clawopsdb.Client, *eventlog.Log) {
	t.Helper()
	client := testdb.NewTestClient(t)
	ctx := context.Background()

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
		SetPrincipalID(principal).
		SetRole(role).
		Save(ctx)
	require.NoError(t, err)

	log := eventlog.New(client.Client, eventlog.Producer{Service: "clawops", Version: "test"})
	g := guard.New(client.Client, guard.StaticResolver(principal))
	a := botapi.New(
		g,
		commands.New(client.Client, log),
		artifacts.New(client.Client, log, memStore{}),
		decisions.New(client.Client, log, 5*time.Minute),
	)
	return a, client, log
}

func TestRequestCommand_AdmitsForBotRole(t *testing.T) {
	projectID := ids.New()
	a, _, _ := newAPI(t, projectID, "bot-1", "bot")
	ctx := context.Background()

	res, err := a.RequestCommand(ctx, "t1", projectID, commands.RequestInput{
		CorrelationID: "c1",
		Title:         "run digest",
		Spec:          commands.Spec{CommandType: "digest.run"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.CommandID)
	assert.NotEmpty(t, res.CardID)
}

func TestRequestCommand_RejectsViewerRole(t *testing.T) {
	projectID := ids.New()
	a, _, _ := newAPI(t, projectID, "viewer-1", "viewer")
	ctx := context.Background()

	_, err := a.RequestCommand(ctx, "t1", projectID, commands.RequestInput{
		CorrelationID: "c1",
		Title:         "run digest",
		Spec:          commands.Spec{CommandType: "digest.run"},
	})
	assert.Error(t, err)
}

func TestReportArtifact_DelegatesToRegistry(t *testing.T) {
	projectID := ids.New()
	a, _, _ := newAPI(t, projectID, "bot-1", "bot")
	ctx := context.Background()

	res, err := a.ReportArtifact(ctx, "t1", projectID, artifacts.ReportInput{
		CorrelationID: "c1",
		Content:       "# Digest",
		Encoding:      artifacts.EncodingUTF8,
		ContentType:   "text/markdown",
		LogicalName:   "digest.md",
	})
	require.NoError(t, err)
	assert.False(t, res.Deduplicated)
	assert.NotEmpty(t, res.ArtifactID)
}

func TestRequestDecisionThenAwaitDecision_ReturnsPendingSnapshot(t *testing.T) {
	projectID := ids.New()
	a, client, _ := newAPI(t, projectID, "bot-1", "bot")
	ctx := context.Background()

	cardID := ids.New()
	_, err := client.Card.Create().
		SetID(cardID).
		SetTenantID("t1").
		SetProjectID(projectID).
		SetCommandID(ids.New()).
		SetState(card.StateRUNNING).
		SetTitle("run digest").
		SetCommandType("digest.run").
		Save(ctx)
	require.NoError(t, err)

	row, err := a.RequestDecision(ctx, "t1", projectID, decisions.RequestInput{
		CardID:        cardID,
		CommandID:     ids.New(),
		RunID:         ids.New(),
		CorrelationID: "c1",
		Urgency:       "today",
		Title:         "pick a lane",
		Options: []decisions.Option{
			{Key: "a", Label: "A"},
			{Key: "b", Label: "B"},
		},
	})
	require.NoError(t, err)

	snap, err := a.AwaitDecision(ctx, "t1", projectID, row.ID)
	require.NoError(t, err)
	assert.Equal(t, "pending", snap.Status)
	assert.Nil(t, snap.SelectedOption)
}

func TestAwaitDecision_CrossProjectLeaksAsNotFound(t *testing.T) {
	projectA := ids.New()
	a, client, log := newAPI(t, projectA, "bot-1", "bot")
	ctx := context.Background()

	projectB := ids.New()
	_, err := client.Project.Create().
		SetID(projectB).
		SetTenantID("t1").
		SetName("proj-b").
		Save(ctx)
	require.NoError(t, err)
	_, err = client.Member.Create().
		SetID(ids.New()).
		SetTenantID("t1").
		SetProjectID(projectB).
		SetPrincipalID("bot-1").
		SetRole("bot").
		Save(ctx)
	require.NoError(t, err)

	cardID := ids.New()
	_, err = client.Card.Create().
		SetID(cardID).
		SetTenantID("t1").
		SetProjectID(projectB).
		SetCommandID(ids.New()).
		SetState(card.StateRUNNING).
		SetTitle("run digest").
		SetCommandType("digest.run").
		Save(ctx)
	require.NoError(t, err)

	lc := decisions.New(client.Client, log, 5*time.Minute)
	row, err := lc.RequestDecision(ctx, decisions.RequestInput{
		TenantID:      "t1",
		ProjectID:     projectB,
		CardID:        cardID,
		CommandID:     ids.New(),
		RunID:         ids.New(),
		CorrelationID: "c1",
		Urgency:       "today",
		Title:         "pick a lane",
		Options: []decisions.Option{
			{Key: "a", Label: "A"},
			{Key: "b", Label: "B"},
		},
	})
	require.NoError(t, err)

	_, err = a.AwaitDecision(ctx, "t1", projectA, row.ID)
	assert.ErrorIs(t, err, coreerr.ErrNotFound)
}
