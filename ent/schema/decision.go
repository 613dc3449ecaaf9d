package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Decision is a structured request for a human to select among enumerated
// options. renderedOption is set iff state == RENDERED; claimedBy/claimedUntil
// are cleared on entry to RENDERED or EXPIRED.
type Decision struct {
	ent.Schema
}

// Fields of the Decision.
func (Decision) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("decision_id").
			Unique().
			Immutable(),
		field.String("tenant_id").
			Immutable(),
		field.String("project_id").
			Immutable(),
		field.String("card_id").
			Immutable(),
		field.String("command_id").
			Immutable(),
		field.String("run_id").
			Immutable(),
		field.Enum("state").
			Values("PENDING", "CLAIMED", "RENDERED", "EXPIRED").
			Default("PENDING"),
		field.Enum("urgency").
			Values("now", "today", "whenever"),
		field.String("title"),
		field.Text("context_summary").
			Optional(),
		field.JSON("options", []map[string]any{}).
			Comment("[{key,label,consequence}], non-empty, keys unique"),
		field.JSON("artifact_refs", []string{}).
			Optional(),
		field.String("source_thread").
			Optional().
			Nillable(),
		field.Time("requested_at").
			Default(time.Now).
			Immutable(),
		field.Time("expires_at").
			Optional().
			Nillable(),
		field.String("fallback_option").
			Optional().
			Nillable(),
		field.String("claimed_by").
			Optional().
			Nillable(),
		field.Time("claimed_until").
			Optional().
			Nillable(),
		field.String("rendered_option").
			Optional().
			Nillable(),
		field.String("rendered_by").
			Optional().
			Nillable(),
		field.Time("rendered_at").
			Optional().
			Nillable(),
	}
}

// Indexes of the Decision.
func (Decision) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("project_id", "state", "urgency", "requested_at"),
		index.Fields("state", "expires_at"),
		index.Fields("state", "claimed_until"),
		index.Fields("card_id"),
	}
}
