// Package commands implements command admission: accepting a command
// request, applying idempotency, and atomically creating the command and
// card read models alongside their founding events. Grounded in the
// teacher's pkg/services/session_service.go CreateSession (single-tx,
// multi-insert, ent.IsConstraintError -> ErrAlreadyExists idiom).
package commands

import (
	"context"
	"fmt"

	"github.com/tbenself/clawops/ent"
	"github.com/tbenself/clawops/ent/card"
	"github.com/tbenself/clawops/pkg/eventlog"
	"github.com/tbenself/clawops/pkg/ids"
	"github.com/tbenself/clawops/pkg/projectors"
)

// Spec is the command specification carried by CommandRequested.
type Spec struct {
	CommandType    string
	CommandVersion *string
	Args           map[string]any
	Context        map[string]any
	Constraints    map[string]any // may include "priority", "concurrency_key", "max_retries"
}

// RequestInput is the admission-time input to RequestCommand.
type RequestInput struct {
	TenantID       string
	ProjectID      string
	Spec           Spec
	CorrelationID  string
	Title          string
	Capabilities   []string
	IdempotencyKey *string
}

// Result is returned by RequestCommand.
type Result struct {
	CommandID string
	CardID    string
}

// Admitter wires command admission to the event log and read models.
type Admitter struct {
	client *ent.Client
	log    *eventlog.Log
}

func New(client *ent.Client, log *eventlog.Log) *Admitter {
	return &Admitter{client: client, log: log}
}

// RequestCommand runs the full admission sequence in one transaction:
// CommandRequested (idempotency-keyed) then CardCreated, with both read
// models projected inline. A duplicate idempotency key returns the
// original command_id/card_id pair without writing new rows — the
// projector no-ops because the rows already exist.
func (a *Admitter) RequestCommand(ctx context.Context, in RequestInput) (*Result, error) {
	tx, err := a.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	commandID := ids.New()
	cardID := ids.New()

	constraints := in.Spec.Constraints
	commandPayload := map[string]any{
		"command_type": in.Spec.CommandType,
		"title":        in.Title,
	}
	if in.Spec.CommandVersion != nil {
		commandPayload["command_version"] = *in.Spec.CommandVersion
	}
	if in.Spec.Args != nil {
		commandPayload["args"] = in.Spec.Args
	}
	if in.Spec.Context != nil {
		commandPayload["context"] = in.Spec.Context
	}
	if constraints != nil {
		commandPayload["constraints"] = constraints
	}

	requestedEv, err := a.log.Append(ctx, tx, eventlog.AppendInput{
		TenantID:       in.TenantID,
		ProjectID:      in.ProjectID,
		Type:           eventlog.CommandRequested,
		CorrelationID:  in.CorrelationID,
		CommandID:      &commandID,
		IdempotencyKey: in.IdempotencyKey,
		Payload:        commandPayload,
	})
	if err != nil {
		return nil, err
	}

	// A duplicate idempotency key resolves to the pre-existing event; its
	// CommandID is the command_id of record, not the one we just minted.
	resolvedCommandID := commandID
	if requestedEv.CommandID != nil {
		resolvedCommandID = *requestedEv.CommandID
	}
	reused := resolvedCommandID != commandID

	if err := projectors.Apply(ctx, tx, requestedEv, false); err != nil {
		return nil, fmt.Errorf("projecting CommandRequested: %w", err)
	}

	if reused {
		existingCard, cerr := tx.Card.Query().Where(card.CommandID(resolvedCommandID)).Only(ctx)
		if cerr == nil {
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("committing: %w", err)
			}
			return &Result{CommandID: resolvedCommandID, CardID: existingCard.ID}, nil
		}
	}

	cardPayload := map[string]any{
		"title":           in.Title,
		"command_type":    in.Spec.CommandType,
		"priority":        priorityOf(constraints),
		"args":            in.Spec.Args,
		"capabilities":    toAnySlice(in.Capabilities),
		"concurrency_key": stringFromConstraints(constraints, "concurrency_key"),
		"max_retries":     constraints["max_retries"],
	}

	cardEv, err := a.log.Append(ctx, tx, eventlog.AppendInput{
		TenantID:      in.TenantID,
		ProjectID:     in.ProjectID,
		Type:          eventlog.CardCreated,
		CorrelationID: in.CorrelationID,
		CommandID:     &resolvedCommandID,
		CardID:        &cardID,
		CausationID:   &requestedEv.ID,
		Payload:       cardPayload,
	})
	if err != nil {
		return nil, err
	}
	if err := projectors.Apply(ctx, tx, cardEv, false); err != nil {
		return nil, fmt.Errorf("projecting CardCreated: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing admission: %w", err)
	}

	return &Result{CommandID: resolvedCommandID, CardID: cardID}, nil
}

// CreateCardInput is the input to CreateCard — a card minted for a command
// that already exists, bypassing CommandRequested (already appended by
// whatever admitted the command).
type CreateCardInput struct {
	TenantID       string
	ProjectID      string
	CommandID      string
	CorrelationID  string
	Title          string
	CommandType    string
	Priority       int
	Args           map[string]any
	Capabilities   []string
	ConcurrencyKey string
	MaxRetries     any
}

// CreateCard appends CardCreated and inserts the card read model in READY,
// for a command that was admitted by some other path (the reconciliation
// detector repairing a command with no card, or an operator manually
// re-queuing work against an existing command_id).
func (a *Admitter) CreateCard(ctx context.Context, in CreateCardInput) (*Result, error) {
	tx, err := a.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	cardID := ids.New()
	cardPayload := map[string]any{
		"title":           in.Title,
		"command_type":    in.CommandType,
		"priority":        in.Priority,
		"args":            in.Args,
		"capabilities":    toAnySlice(in.Capabilities),
		"concurrency_key": in.ConcurrencyKey,
		"max_retries":     in.MaxRetries,
	}

	ev, err := a.log.Append(ctx, tx, eventlog.AppendInput{
		TenantID:      in.TenantID,
		ProjectID:     in.ProjectID,
		Type:          eventlog.CardCreated,
		CorrelationID: in.CorrelationID,
		CommandID:     &in.CommandID,
		CardID:        &cardID,
		Payload:       cardPayload,
	})
	if err != nil {
		return nil, err
	}
	if err := projectors.Apply(ctx, tx, ev, false); err != nil {
		return nil, fmt.Errorf("projecting CardCreated: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing create_card: %w", err)
	}
	return &Result{CommandID: in.CommandID, CardID: cardID}, nil
}

func priorityOf(constraints map[string]any) int {
	if constraints == nil {
		return 50
	}
	if v, ok := constraints["priority"].(float64); ok {
		return int(v)
	}
	if v, ok := constraints["priority"].(int); ok {
		return v
	}
	return 50
}

func stringFromConstraints(constraints map[string]any, key string) string {
	if constraints == nil {
		return ""
	}
	v, _ := constraints[key].(string)
	return v
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
