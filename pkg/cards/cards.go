// Package cards implements the card state machine: a closed transition
// table and the single atomic Transition operation that is the only way a
// card changes state. Grounded in the teacher's claim-and-update CAS shape
// (pkg/services/session_service.go's ClaimNextPendingSession /
// pkg/queue/worker.go's claimNextSession), adapted from "claim a pending
// row" to "apply a validated state edge".
package cards

import (
	"context"
	"fmt"
	"time"

	"github.com/tbenself/clawops/ent"
	"github.com/tbenself/clawops/ent/card"
	"github.com/tbenself/clawops/pkg/coreerr"
	"github.com/tbenself/clawops/pkg/eventlog"
	"github.com/tbenself/clawops/pkg/projectors"
)

// transitions is the closed edge table from spec.md §4.4.
var transitions = map[card.State][]card.State{
	card.StateREADY:           {card.StateRUNNING},
	card.StateRUNNING:         {card.StateDONE, card.StateNEEDS_DECISION, card.StateFAILED, card.StateRETRY_SCHEDULED},
	card.StateNEEDS_DECISION:  {card.StateRUNNING, card.StateFAILED},
	card.StateRETRY_SCHEDULED: {card.StateREADY},
	card.StateDONE:            {},
	card.StateFAILED:          {},
}

// IsValidEdge reports whether from -> to is an allowed transition.
func IsValidEdge(from, to card.State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Machine wires the card state machine to the event log.
type Machine struct {
	client *ent.Client
	log    *eventlog.Log
}

func New(client *ent.Client, log *eventlog.Log) *Machine {
	return &Machine{client: client, log: log}
}

// TransitionInput carries the optional fields a specific edge may need.
type TransitionInput struct {
	CardID        string
	To            card.State
	Reason        string
	CorrelationID string
	RunID         *string
	DecisionID    *string
	RetryAtTS     *time.Time
}

// Transition validates and applies a single edge: fetch card, validate,
// patch the read model, and append CardTransitioned — all in one
// transaction. replay, when true, is forwarded to the projector but
// performs no caller-side side effects; live callers pass false and may
// enqueue a job wake after commit.
func (m *Machine) Transition(ctx context.Context, in TransitionInput) (*ent.Card, error) {
	tx, err := m.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	updated, err := TransitionTx(ctx, tx, m.log, in)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transition: %w", err)
	}
	return updated, nil
}

// TransitionTx runs the same fetch/validate/patch/append sequence as
// Transition but inside a transaction the caller already owns — used by
// pkg/decisions, whose request/render operations must transition the
// linked card in the same atomic unit as the decision write.
func TransitionTx(ctx context.Context, tx *ent.Tx, log *eventlog.Log, in TransitionInput) (*ent.Card, error) {
	row, err := tx.Card.Get(ctx, in.CardID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, coreerr.ErrNotFound
		}
		return nil, fmt.Errorf("loading card: %w", err)
	}

	if !IsValidEdge(row.State, in.To) {
		return nil, coreerr.NewTransitionError(string(row.State), string(in.To))
	}

	payload := map[string]any{
		"from":   string(row.State),
		"to":     string(in.To),
		"reason": in.Reason,
	}
	if in.RetryAtTS != nil {
		payload["retry_at_ts"] = in.RetryAtTS.UnixMilli()
	}

	ev, err := log.Append(ctx, tx, eventlog.AppendInput{
		TenantID:      row.TenantID,
		ProjectID:     row.ProjectID,
		Type:          eventlog.CardTransitioned,
		CorrelationID: in.CorrelationID,
		CardID:        &in.CardID,
		CommandID:     &row.CommandID,
		RunID:         in.RunID,
		DecisionID:    in.DecisionID,
		Payload:       payload,
	})
	if err != nil {
		return nil, err
	}

	if err := projectors.Apply(ctx, tx, ev, false); err != nil {
		return nil, fmt.Errorf("projecting CardTransitioned: %w", err)
	}

	updated, err := tx.Card.Get(ctx, in.CardID)
	if err != nil {
		return nil, fmt.Errorf("reloading card: %w", err)
	}
	return updated, nil
}
