package sweeper_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/tbenself/clawops/test/database"

	"github.com/tbenself/clawops/ent/card"
	"github.com/tbenself/clawops/ent/decision"
	"github.com/tbenself/clawops/pkg/config"
	clawopsdb "github.com/tbenself/clawops/pkg/database"
	"github.com/tbenself/clawops/pkg/decisions"
	"github.com/tbenself/clawops/pkg/eventlog"
	"github.com/tbenself/clawops/pkg/ids"
	"github.com/tbenself/clawops/pkg/sweeper"
)

func newSweeperWithRawConfig(t *testing.T) (*sweeper.Sweeper, *clawopsdb.Client, *eventlog.Log) {
	t.Helper()
	client := testdb.NewTestClient(t)
	log := eventlog.New(client.Client, eventlog.Producer{Service: "clawops", Version: "test"})
	cfg := config.SweeperConfig{
		Interval:           time.Minute,
		ClaimTTL:           5 * time.Minute,
		DeferThreshold:     1,
		EmergencyThreshold: 2,
		LoadShedDeferral:   24 * time.Hour,
	}
	return sweeper.New(client.Client, log, cfg), client, log
}

func seedCard(t *testing.T, ctx context.Context, client *clawopsdb.Client, state card.State) string {
	t.Helper()
	cardID := ids.New()
	q := client.Card.Create().
		SetID(cardID).
		SetTenantID("t1").
		SetProjectID("p1").
		SetCommandID(ids.New()).
		SetState(state).
		SetTitle("run digest").
		SetCommandType("digest.run")
	_, err := q.Save(ctx)
	require.NoError(t, err)
	return cardID
}

func seedDecision(cardID string, urgency decision.Urgency, fallback *string) *decisions.RequestInput {
	return &decisions.RequestInput{
		TenantID:       "t1",
		ProjectID:      "p1",
		CardID:         cardID,
		CommandID:      ids.New(),
		RunID:          ids.New(),
		CorrelationID:  "c1",
		Urgency:        urgency,
		Title:          "pick a lane",
		FallbackOption: fallback,
		Options: []decisions.Option{
			{Key: "a", Label: "A"},
			{Key: "b", Label: "B"},
		},
	}
}

func TestSweep_ReleasesDueRetries(t *testing.T) {
	sw, client, _ := newSweeperWithRawConfig(t)
	ctx := context.Background()
	cardID := seedCard(t, ctx, client, card.StateRETRY_SCHEDULED)

	past := time.Now().Add(-time.Minute)
	_, err := client.Card.UpdateOneID(cardID).SetRetryAtTs(past).Save(ctx)
	require.NoError(t, err)

	sw.Sweep(ctx, time.Now())

	row, err := client.Card.Get(ctx, cardID)
	require.NoError(t, err)
	assert.Equal(t, card.StateREADY, row.State)
}

func TestSweep_ExpiresDecisionWithFallback(t *testing.T) {
	sw, client, _ := newSweeperWithRawConfig(t)
	ctx := context.Background()
	cardID := seedCard(t, ctx, client, card.StateRUNNING)
	log := eventlog.New(client.Client, eventlog.Producer{Service: "clawops", Version: "test"})
	lc := decisions.New(client.Client, log, 5*time.Minute)

	fallback := "b"
	in := seedDecision(cardID, decision.UrgencyToday, &fallback)
	row, err := lc.RequestDecision(ctx, *in)
	require.NoError(t, err)

	past := time.Now().Add(-time.Minute)
	_, err = client.Decision.UpdateOneID(row.ID).SetExpiresAt(past).Save(ctx)
	require.NoError(t, err)

	sw.Sweep(ctx, time.Now())

	got, err := client.Decision.Get(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, decision.StateRENDERED, got.State)
	require.NotNil(t, got.RenderedOption)
	assert.Equal(t, "b", *got.RenderedOption)

	cardRow, err := client.Card.Get(ctx, cardID)
	require.NoError(t, err)
	assert.Equal(t, card.StateRUNNING, cardRow.State)
}

func TestSweep_ExpiresDecisionWithoutFallback(t *testing.T) {
	sw, client, _ := newSweeperWithRawConfig(t)
	ctx := context.Background()
	cardID := seedCard(t, ctx, client, card.StateRUNNING)
	log := eventlog.New(client.Client, eventlog.Producer{Service: "clawops", Version: "test"})
	lc := decisions.New(client.Client, log, 5*time.Minute)

	in := seedDecision(cardID, decision.UrgencyToday, nil)
	row, err := lc.RequestDecision(ctx, *in)
	require.NoError(t, err)

	past := time.Now().Add(-time.Minute)
	_, err = client.Decision.UpdateOneID(row.ID).SetExpiresAt(past).Save(ctx)
	require.NoError(t, err)

	sw.Sweep(ctx, time.Now())

	got, err := client.Decision.Get(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, decision.StateEXPIRED, got.State)

	cardRow, err := client.Card.Get(ctx, cardID)
	require.NoError(t, err)
	assert.Equal(t, card.StateFAILED, cardRow.State)
}

func TestSweep_ReclaimsAbandonedClaim(t *testing.T) {
	sw, client, _ := newSweeperWithRawConfig(t)
	ctx := context.Background()
	cardID := seedCard(t, ctx, client, card.StateRUNNING)
	log := eventlog.New(client.Client, eventlog.Producer{Service: "clawops", Version: "test"})
	lc := decisions.New(client.Client, log, 5*time.Minute)

	in := seedDecision(cardID, decision.UrgencyToday, nil)
	row, err := lc.RequestDecision(ctx, *in)
	require.NoError(t, err)

	_, err = lc.ClaimDecision(ctx, row.ID, "alice", time.Now())
	require.NoError(t, err)

	past := time.Now().Add(-time.Minute)
	_, err = client.Decision.UpdateOneID(row.ID).SetClaimedUntil(past).Save(ctx)
	require.NoError(t, err)

	sw.Sweep(ctx, time.Now())

	got, err := client.Decision.Get(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, decision.StatePENDING, got.State)
	assert.Nil(t, got.ClaimedBy)
	assert.Nil(t, got.ClaimedUntil)
}

func TestSweep_ShedsLoadByExtendingWheneverExpiry(t *testing.T) {
	sw, client, _ := newSweeperWithRawConfig(t)
	ctx := context.Background()
	log := eventlog.New(client.Client, eventlog.Producer{Service: "clawops", Version: "test"})
	lc := decisions.New(client.Client, log, 5*time.Minute)

	// Two now-urgency decisions push this project over DeferThreshold(1).
	for i := 0; i < 2; i++ {
		cardID := seedCard(t, ctx, client, card.StateRUNNING)
		in := seedDecision(cardID, decision.UrgencyNow, nil)
		_, err := lc.RequestDecision(ctx, *in)
		require.NoError(t, err)
	}

	wheneverCard := seedCard(t, ctx, client, card.StateRUNNING)
	wheneverIn := seedDecision(wheneverCard, decision.UrgencyWhenever, nil)
	wheneverRow, err := lc.RequestDecision(ctx, *wheneverIn)
	require.NoError(t, err)

	sw.Sweep(ctx, time.Now())

	got, err := client.Decision.Get(ctx, wheneverRow.ID)
	require.NoError(t, err)
	assert.Equal(t, decision.StatePENDING, got.State)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.After(time.Now().Add(23*time.Hour)))
}

func TestSweep_RunsReconciliationWithoutError(t *testing.T) {
	sw, client, _ := newSweeperWithRawConfig(t)
	ctx := context.Background()
	seedCard(t, ctx, client, card.StateRUNNING)

	assert.NotPanics(t, func() { sw.Sweep(ctx, time.Now()) })
}
