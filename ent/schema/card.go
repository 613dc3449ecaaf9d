package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Card is the work-item read model owning the card state machine.
// DONE and FAILED are terminal; retry_at_ts is set iff state == RETRY_SCHEDULED.
type Card struct {
	ent.Schema
}

// Fields of the Card.
func (Card) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("card_id").
			Unique().
			Immutable(),
		field.String("tenant_id").
			Immutable(),
		field.String("project_id").
			Immutable(),
		field.String("command_id").
			Immutable(),
		field.Enum("state").
			Values("READY", "RUNNING", "NEEDS_DECISION", "RETRY_SCHEDULED", "DONE", "FAILED").
			Default("READY"),
		field.Int("priority").
			Default(50),
		field.String("title"),
		field.String("command_type"),
		field.JSON("args", map[string]any{}).
			Optional(),
		field.String("concurrency_key").
			Optional().
			Nillable(),
		field.Int("max_retries").
			Optional().
			Nillable(),
		field.Int("attempt").
			Default(0),
		field.Time("retry_at_ts").
			Optional().
			Nillable(),
		field.JSON("capabilities", []string{}).
			Optional(),
		// Reserved for later external-worker leasing — always absent in the
		// base design (spec.md §3 Card invariants).
		field.String("leased_to").
			Optional().
			Nillable(),
		field.Time("lease_until_ts").
			Optional().
			Nillable(),
		field.Time("last_heartbeat_ts").
			Optional().
			Nillable(),
		field.Time("created_ts").
			Default(time.Now).
			Immutable(),
		field.Time("updated_ts").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Indexes of the Card.
func (Card) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("project_id", "state", "priority"),
		index.Fields("state", "retry_at_ts").
			Annotations(entsql.IndexWhere("state = 'RETRY_SCHEDULED'")),
		index.Fields("command_id"),
	}
}
