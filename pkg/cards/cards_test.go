package cards_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/tbenself/clawops/test/database"

	"github.com/tbenself/clawops/ent/card"
	"github.com/tbenself/clawops/pkg/cards"
	"github.com/tbenself/clawops/pkg/coreerr"
	"github.com/tbenself/clawops/pkg/eventlog"
	"github.com/tbenself/clawops/pkg/ids"
)

func TestIsValidEdge(t *testing.T) {
	assert.True(t, cards.IsValidEdge(card.StateREADY, card.StateRUNNING))
	assert.False(t, cards.IsValidEdge(card.StateREADY, card.StateDONE))
	assert.True(t, cards.IsValidEdge(card.StateRUNNING, card.StateNEEDS_DECISION))
	assert.False(t, cards.IsValidEdge(card.StateDONE, card.StateREADY))
}

func TestTransition_AppliesAndIncrementsAttempt(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	log := eventlog.New(client.Client, eventlog.Producer{Service: "clawops", Version: "test"})
	machine := cards.New(client.Client, log)

	cardID := ids.New()
	_, err := client.Card.Create().
		SetID(cardID).
		SetTenantID("t1").
		SetProjectID("p1").
		SetCommandID(ids.New()).
		SetState(card.StateREADY).
		SetTitle("compile digest").
		SetCommandType("digest.compile").
		Save(ctx)
	require.NoError(t, err)

	updated, err := machine.Transition(ctx, cards.TransitionInput{
		CardID:        cardID,
		To:            card.StateRUNNING,
		Reason:        "picked up",
		CorrelationID: "c1",
	})
	require.NoError(t, err)
	assert.Equal(t, card.StateRUNNING, updated.State)
	assert.Equal(t, 1, updated.Attempt)
}

func TestTransition_RejectsInvalidEdge(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	log := eventlog.New(client.Client, eventlog.Producer{Service: "clawops", Version: "test"})
	machine := cards.New(client.Client, log)

	cardID := ids.New()
	_, err := client.Card.Create().
		SetID(cardID).
		SetTenantID("t1").
		SetProjectID("p1").
		SetCommandID(ids.New()).
		SetState(card.StateREADY).
		SetTitle("compile digest").
		SetCommandType("digest.compile").
		Save(ctx)
	require.NoError(t, err)

	_, err = machine.Transition(ctx, cards.TransitionInput{
		CardID:        cardID,
		To:            card.StateDONE,
		Reason:        "bad edge",
		CorrelationID: "c1",
	})
	var transErr *coreerr.TransitionError
	require.ErrorAs(t, err, &transErr)
}
