package commands_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/tbenself/clawops/test/database"

	"github.com/tbenself/clawops/ent/card"
	"github.com/tbenself/clawops/ent/command"
	"github.com/tbenself/clawops/pkg/commands"
	clawopsdb "github.com/tbenself/clawops/pkg/database"
	"github.com/tbenself/clawops/pkg/eventlog"
)

func newAdmitter(t *testing.T) (*commands.Admitter, *clawopsdb.Client) {
	t.Helper()
	client := testdb.NewTestClient(t)
	log := eventlog.New(client.Client, eventlog.Producer{Service: "clawops", Version: "test"})
	return commands.New(client.Client, log), client
}

func TestRequestCommand_CreatesCommandAndCard(t *testing.T) {
	admitter, client := newAdmitter(t)
	ctx := context.Background()

	res, err := admitter.RequestCommand(ctx, commands.RequestInput{
		TenantID:      "t1",
		ProjectID:     "p1",
		CorrelationID: "c1",
		Title:         "compile digest",
		Capabilities:  []string{"shell"},
		Spec: commands.Spec{
			CommandType: "digest.compile",
			Args:        map[string]any{"path": "/tmp"},
			Constraints: map[string]any{"priority": float64(10)},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.CommandID)
	assert.NotEmpty(t, res.CardID)

	cmdRow, err := client.Command.Get(ctx, res.CommandID)
	require.NoError(t, err)
	assert.Equal(t, command.StatusPENDING, cmdRow.Status)
	assert.Equal(t, 10, cmdRow.Priority)

	cardRow, err := client.Card.Get(ctx, res.CardID)
	require.NoError(t, err)
	assert.Equal(t, card.StateREADY, cardRow.State)
	assert.Equal(t, res.CommandID, cardRow.CommandID)
}

func TestRequestCommand_IdempotencyKeyReusesPair(t *testing.T) {
	admitter, client := newAdmitter(t)
	ctx := context.Background()

	key := "dedupe-key-1"
	in := commands.RequestInput{
		TenantID:       "t1",
		ProjectID:      "p1",
		CorrelationID:  "c1",
		Title:          "compile digest",
		IdempotencyKey: &key,
		Spec:           commands.Spec{CommandType: "digest.compile"},
	}

	first, err := admitter.RequestCommand(ctx, in)
	require.NoError(t, err)

	second, err := admitter.RequestCommand(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.CommandID, second.CommandID)
	assert.Equal(t, first.CardID, second.CardID)

	count, err := client.Command.Query().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	cardCount, err := client.Card.Query().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cardCount)
}

func TestCreateCard_MintsCardForExistingCommand(t *testing.T) {
	admitter, client := newAdmitter(t)
	ctx := context.Background()

	cmdRes, err := admitter.RequestCommand(ctx, commands.RequestInput{
		TenantID:      "t1",
		ProjectID:     "p1",
		CorrelationID: "c1",
		Title:         "compile digest",
		Spec:          commands.Spec{CommandType: "digest.compile"},
	})
	require.NoError(t, err)

	res, err := admitter.CreateCard(ctx, commands.CreateCardInput{
		TenantID:      "t1",
		ProjectID:     "p1",
		CommandID:     cmdRes.CommandID,
		CorrelationID: "c1",
		Title:         "re-queued digest",
		CommandType:   "digest.compile",
		Priority:      5,
	})
	require.NoError(t, err)
	assert.Equal(t, cmdRes.CommandID, res.CommandID)
	assert.NotEqual(t, cmdRes.CardID, res.CardID)

	cardRow, err := client.Card.Get(ctx, res.CardID)
	require.NoError(t, err)
	assert.Equal(t, card.StateREADY, cardRow.State)
	assert.Equal(t, res.CommandID, cardRow.CommandID)

	count, err := client.Card.Query().Where(card.CommandID(cmdRes.CommandID)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
