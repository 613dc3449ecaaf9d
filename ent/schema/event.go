package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Event holds the schema for the append-only event log. Rows are never
// updated or deleted by live code — only Append creates them, and Replay
// only reads them.
type Event struct {
	ent.Schema
}

// Fields of the Event.
func (Event) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("event_id").
			Unique().
			Immutable().
			Comment("ULID, sortable by creation time"),
		field.String("tenant_id").
			Immutable(),
		field.String("project_id").
			Immutable(),
		field.String("type").
			Immutable().
			Comment("closed event-type enum, see pkg/eventlog/types.go"),
		field.Int("version").
			Default(1).
			Immutable(),
		field.Int64("ts").
			Immutable().
			Comment("ms since epoch, assigned at append time"),
		field.String("correlation_id").
			Immutable(),
		field.String("causation_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("command_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("run_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("card_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("decision_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("idempotency_key").
			Optional().
			Nillable().
			Immutable(),
		field.String("producer_service").
			Immutable(),
		field.String("producer_version").
			Immutable(),
		field.JSON("tags", map[string]any{}).
			Optional().
			Immutable(),
		field.JSON("payload", map[string]any{}).
			Immutable(),
	}
}

// Indexes of the Event — the full set spec.md §4.1 requires.
func (Event) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("idempotency_key").
			Unique().
			Annotations(entsql.IndexWhere("idempotency_key IS NOT NULL")),
		index.Fields("project_id", "correlation_id", "ts"),
		index.Fields("type", "ts"),
		index.Fields("project_id", "ts", "id"),
		index.Fields("tenant_id", "type", "ts"),
	}
}
