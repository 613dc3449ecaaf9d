// Package eventlog implements the sole write path for state: an
// append-only log with idempotency-key dedup, secret-pattern rejection, and
// three scoped read primitives. Grounded in the teacher's
// pkg/events/publisher.go (persist-then-notify shape, adapted here to a
// single ent transaction without the NOTIFY/pg_notify leg, which lives in
// pkg/api's websocket layer instead) and pkg/services/session_service.go
// (ent.IsConstraintError / ent.IsNotFound handling idiom).
package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/tbenself/clawops/ent"
	"github.com/tbenself/clawops/ent/event"
	"github.com/tbenself/clawops/pkg/coreerr"
	"github.com/tbenself/clawops/pkg/ids"
	"github.com/tbenself/clawops/pkg/secretscan"
)

// Log is the append-only event store.
type Log struct {
	client   *ent.Client
	scanner  *secretscan.Scanner
	producer Producer
}

// New constructs a Log. producer identifies this binary for every event it
// appends (spec.md §3 Event.producer).
func New(client *ent.Client, producer Producer) *Log {
	return &Log{client: client, scanner: secretscan.New(), producer: producer}
}

// AppendInput carries the fields a caller supplies; id and ts are assigned
// internally.
type AppendInput struct {
	TenantID       string
	ProjectID      string
	Type           Type
	CorrelationID  string
	CausationID    *string
	CommandID      *string
	RunID          *string
	CardID         *string
	DecisionID     *string
	IdempotencyKey *string
	Tags           map[string]any
	Payload        map[string]any
}

// Append inserts a new event row within tx. If IdempotencyKey is set and an
// event with that key already exists, the existing row is returned unchanged
// — no second row is written and the caller must not re-run any downstream
// projector logic for it. Secret-pattern matches in Payload or Tags reject
// the append with ErrSecretInPayload.
func (l *Log) Append(ctx context.Context, tx *ent.Tx, in AppendInput) (*Event, error) {
	if m := l.scanner.ScanPayloadAndTags(in.Payload, in.Tags); m != nil {
		return nil, fmt.Errorf("%w: %s at %s", coreerr.ErrSecretInPayload, m.Description, m.Path)
	}

	if in.IdempotencyKey != nil {
		existing, err := tx.Event.Query().
			Where(event.IdempotencyKeyEQ(*in.IdempotencyKey)).
			Only(ctx)
		switch {
		case err == nil:
			return fromEnt(existing), nil
		case !ent.IsNotFound(err):
			return nil, fmt.Errorf("checking idempotency key: %w", err)
		}
	}

	id := ids.New()
	ts := time.Now().UnixMilli()

	builder := tx.Event.Create().
		SetID(id).
		SetTenantID(in.TenantID).
		SetProjectID(in.ProjectID).
		SetType(string(in.Type)).
		SetTs(ts).
		SetCorrelationID(in.CorrelationID).
		SetProducerService(l.producer.Service).
		SetProducerVersion(l.producer.Version).
		SetPayload(in.Payload)

	if in.CausationID != nil {
		builder.SetCausationID(*in.CausationID)
	}
	if in.CommandID != nil {
		builder.SetCommandID(*in.CommandID)
	}
	if in.RunID != nil {
		builder.SetRunID(*in.RunID)
	}
	if in.CardID != nil {
		builder.SetCardID(*in.CardID)
	}
	if in.DecisionID != nil {
		builder.SetDecisionID(*in.DecisionID)
	}
	if in.IdempotencyKey != nil {
		builder.SetIdempotencyKey(*in.IdempotencyKey)
	}
	if in.Tags != nil {
		builder.SetTags(in.Tags)
	}

	row, err := builder.Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) && in.IdempotencyKey != nil {
			// Lost a race with a concurrent writer on the same key; the
			// winner's row is the event of record.
			existing, gerr := tx.Event.Query().
				Where(event.IdempotencyKeyEQ(*in.IdempotencyKey)).
				Only(ctx)
			if gerr == nil {
				return fromEnt(existing), nil
			}
		}
		return nil, fmt.Errorf("appending event: %w", err)
	}

	return fromEnt(row), nil
}

// ByCorrelation returns the chronologically ordered event chain for
// (project_id, correlation_id).
func (l *Log) ByCorrelation(ctx context.Context, projectID, correlationID string) ([]*Event, error) {
	rows, err := l.client.Event.Query().
		Where(
			event.ProjectID(projectID),
			event.CorrelationID(correlationID),
		).
		Order(ent.Asc(event.FieldTs), ent.Asc(event.FieldID)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying by correlation: %w", err)
	}
	return fromEntSlice(rows), nil
}

// ByType returns events of a given type across the whole tenant, optionally
// bounded by [sinceTS, untilTS) and limit.
func (l *Log) ByType(ctx context.Context, tenantID string, typ Type, sinceTS, untilTS *int64, limit int) ([]*Event, error) {
	q := l.client.Event.Query().
		Where(
			event.TenantID(tenantID),
			event.TypeEQ(string(typ)),
		)
	if sinceTS != nil {
		q = q.Where(event.TsGTE(*sinceTS))
	}
	if untilTS != nil {
		q = q.Where(event.TsLT(*untilTS))
	}
	q = q.Order(ent.Asc(event.FieldTs), ent.Asc(event.FieldID))
	if limit > 0 {
		q = q.Limit(limit)
	}
	rows, err := q.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying by type: %w", err)
	}
	return fromEntSlice(rows), nil
}

// ByTSRange is the replay cursor primitive: returns events in
// [sinceTS, untilTS] for a project, ordered (ts asc, event_id asc). When
// afterEventID is set, rows at exactly sinceTS with event_id <= afterEventID
// are excluded, implementing the composite (ts, event_id) cursor.
func (l *Log) ByTSRange(ctx context.Context, projectID string, sinceTS int64, untilTS *int64, afterEventID *string, limit int) ([]*Event, error) {
	q := l.client.Event.Query().Where(event.ProjectID(projectID))

	if afterEventID != nil {
		q = q.Where(event.Or(
			event.TsGT(sinceTS),
			event.And(event.Ts(sinceTS), event.IDGT(*afterEventID)),
		))
	} else {
		q = q.Where(event.TsGTE(sinceTS))
	}
	if untilTS != nil {
		q = q.Where(event.TsLTE(*untilTS))
	}

	q = q.Order(ent.Asc(event.FieldTs), ent.Asc(event.FieldID))
	if limit > 0 {
		q = q.Limit(limit)
	} else {
		q = q.Limit(100)
	}

	rows, err := q.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying by ts range: %w", err)
	}
	return fromEntSlice(rows), nil
}

func fromEnt(row *ent.Event) *Event {
	return &Event{
		ID:             row.ID,
		TenantID:       row.TenantID,
		ProjectID:      row.ProjectID,
		Type:           Type(row.Type),
		Version:        row.Version,
		TS:             row.Ts,
		CorrelationID:  row.CorrelationID,
		CausationID:    row.CausationID,
		CommandID:      row.CommandID,
		RunID:          row.RunID,
		CardID:         row.CardID,
		DecisionID:     row.DecisionID,
		IdempotencyKey: row.IdempotencyKey,
		Producer:       Producer{Service: row.ProducerService, Version: row.ProducerVersion},
		Tags:           row.Tags,
		Payload:        row.Payload,
	}
}

func fromEntSlice(rows []*ent.Event) []*Event {
	out := make([]*Event, len(rows))
	for i, r := range rows {
		out[i] = fromEnt(r)
	}
	return out
}
