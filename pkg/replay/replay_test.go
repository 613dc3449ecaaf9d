package replay_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/tbenself/clawops/test/database"

	"github.com/tbenself/clawops/ent/card"
	"github.com/tbenself/clawops/ent/command"
	"github.com/tbenself/clawops/ent/decision"
	"github.com/tbenself/clawops/pkg/archive"
	"github.com/tbenself/clawops/pkg/commands"
	clawopsdb "github.com/tbenself/clawops/pkg/database"
	"github.com/tbenself/clawops/pkg/decisions"
	"github.com/tbenself/clawops/pkg/eventlog"
	"github.com/tbenself/clawops/pkg/ids"
	"github.com/tbenself/clawops/pkg/replay"
)

func newEngine(t *testing.T) (*replay.Engine, *clawopsdb.Client, *eventlog.Log) {
	t.Helper()
	client := testdb.NewTestClient(t)
	log := eventlog.New(client.Client, eventlog.Producer{Service: "clawops", Version: "test"})
	return replay.New(client.Client, log), client, log
}

func seedCommand(t *testing.T, ctx context.Context, client *clawopsdb.Client, log *eventlog.Log) *commands.Result {
	t.Helper()
	a := commands.New(client.Client, log)
	res, err := a.RequestCommand(ctx, commands.RequestInput{
		TenantID:      "t1",
		ProjectID:     "p1",
		CorrelationID: "c1",
		Title:         "run digest",
		Spec:          commands.Spec{CommandType: "digest.run"},
	})
	require.NoError(t, err)
	return res
}

func TestRebuild_CardsReprojectsFromEventLog(t *testing.T) {
	eng, client, log := newEngine(t)
	ctx := context.Background()

	res := seedCommand(t, ctx, client, log)

	// Simulate the read model having been lost: delete the card row but
	// leave the founding events in the log.
	_, err := client.Card.Delete().Where(card.ID(res.CardID)).Exec(ctx)
	require.NoError(t, err)

	stats, err := eng.Rebuild(ctx, replay.RebuildInput{
		TenantID:  "t1",
		ProjectID: "p1",
		Model:     "cards",
		FromTS:    0,
	})
	require.NoError(t, err)
	assert.Greater(t, stats.EventsApplied, 0)

	row, err := client.Card.Get(ctx, res.CardID)
	require.NoError(t, err)
	assert.Equal(t, card.StateREADY, row.State)
}

func TestRebuild_DecisionsReappliesExtendedExpiry(t *testing.T) {
	eng, client, log := newEngine(t)
	ctx := context.Background()

	cardID := ids.New()
	_, err := client.Card.Create().
		SetID(cardID).
		SetTenantID("t1").
		SetProjectID("p1").
		SetCommandID(ids.New()).
		SetState(card.StateRUNNING).
		SetTitle("run digest").
		SetCommandType("digest.run").
		Save(ctx)
	require.NoError(t, err)

	originalExpiry := time.Now().Add(time.Hour)
	lc := decisions.New(client.Client, log, 5*time.Minute)
	row, err := lc.RequestDecision(ctx, decisions.RequestInput{
		TenantID:      "t1",
		ProjectID:     "p1",
		CardID:        cardID,
		CommandID:     ids.New(),
		RunID:         ids.New(),
		CorrelationID: "c1",
		Urgency:       decision.UrgencyWhenever,
		Title:         "pick a lane",
		ExpiresAt:     &originalExpiry,
		Options: []decisions.Option{
			{Key: "a", Label: "A"},
			{Key: "b", Label: "B"},
		},
	})
	require.NoError(t, err)

	newExpiry := originalExpiry.Add(24 * time.Hour)
	tx, err := client.Tx(ctx)
	require.NoError(t, err)
	_, err = log.Append(ctx, tx, eventlog.AppendInput{
		TenantID:      "t1",
		ProjectID:     "p1",
		Type:          eventlog.DecisionDeferred,
		CorrelationID: row.CommandID,
		CardID:        &cardID,
		CommandID:     &row.CommandID,
		RunID:         &row.RunID,
		DecisionID:    &row.ID,
		Payload:       map[string]any{"action": "extended_expiry", "expires_at": newExpiry.UnixMilli()},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	// Simulate the live patch never having happened (or the read model
	// having been lost) so the row still shows the original expiry.
	require.NoError(t, client.Decision.UpdateOneID(row.ID).SetExpiresAt(originalExpiry).Exec(ctx))

	stats, err := eng.Rebuild(ctx, replay.RebuildInput{
		TenantID:  "t1",
		ProjectID: "p1",
		Model:     "decisions",
		FromTS:    0,
	})
	require.NoError(t, err)
	assert.Greater(t, stats.EventsApplied, 0)

	got, err := client.Decision.Get(ctx, row.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExpiresAt)
	assert.WithinDuration(t, newExpiry, *got.ExpiresAt, time.Second)
}

func TestRebuild_CommandsSkipsUnrelatedEventTypes(t *testing.T) {
	eng, client, log := newEngine(t)
	ctx := context.Background()

	res := seedCommand(t, ctx, client, log)

	_, err := client.Command.Delete().Where(command.ID(res.CommandID)).Exec(ctx)
	require.NoError(t, err)
	_, err = client.Card.Delete().Where(card.ID(res.CardID)).Exec(ctx)
	require.NoError(t, err)

	stats, err := eng.Rebuild(ctx, replay.RebuildInput{
		TenantID:  "t1",
		ProjectID: "p1",
		Model:     "commands",
		FromTS:    0,
	})
	require.NoError(t, err)
	assert.Greater(t, stats.EventsApplied, 0)

	cmdRow, err := client.Command.Get(ctx, res.CommandID)
	require.NoError(t, err)
	assert.Equal(t, command.StatusPENDING, cmdRow.Status)

	// CardCreated was not in the "commands" model's event-type set, so the
	// card row stays deleted even though the rebuild ran.
	exists, err := client.Card.Query().Where(card.ID(res.CardID)).Exist(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRebuild_UnknownModelErrors(t *testing.T) {
	eng, _, _ := newEngine(t)
	_, err := eng.Rebuild(context.Background(), replay.RebuildInput{
		TenantID:  "t1",
		ProjectID: "p1",
		Model:     "bogus",
		FromTS:    0,
	})
	assert.Error(t, err)
}

func TestRebuild_ReadsArchiveBeforeRetentionCutoff(t *testing.T) {
	eng, client, log := newEngine(t)
	ctx := context.Background()

	res := seedCommand(t, ctx, client, log)

	events, err := log.ByCorrelation(ctx, "p1", "c1")
	require.NoError(t, err)
	require.NotEmpty(t, events)

	var buf bytes.Buffer
	require.NoError(t, archive.WriteFile(&buf, events))

	_, err = client.Card.Delete().Where(card.ID(res.CardID)).Exec(ctx)
	require.NoError(t, err)

	src := &fakeArchiveSource{files: []io.Reader{bytes.NewReader(buf.Bytes())}}
	eng.WithArchive(src)

	cutoff := events[len(events)-1].TS + 1
	stats, err := eng.Rebuild(ctx, replay.RebuildInput{
		TenantID:          "t1",
		ProjectID:         "p1",
		Model:             "cards",
		FromTS:            0,
		RetentionCutoffTS: &cutoff,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ArchiveFilesRead)
	assert.Greater(t, stats.EventsApplied, 0)

	row, err := client.Card.Get(ctx, res.CardID)
	require.NoError(t, err)
	assert.Equal(t, card.StateREADY, row.State)
}

func TestRebuild_ErrorsWhenRangeNeedsArchiveButNoneConfigured(t *testing.T) {
	eng, _, _ := newEngine(t)
	cutoff := int64(1000)
	_, err := eng.Rebuild(context.Background(), replay.RebuildInput{
		TenantID:          "t1",
		ProjectID:         "p1",
		Model:             "cards",
		FromTS:            0,
		RetentionCutoffTS: &cutoff,
	})
	assert.Error(t, err)
}

type fakeArchiveSource struct {
	files []io.Reader
}

func (f *fakeArchiveSource) ListArchives(_ context.Context, _, _ string, _, _ int64) ([]io.Reader, error) {
	return f.files, nil
}
