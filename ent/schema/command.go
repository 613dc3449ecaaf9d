package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Command is the read model projected from CommandRequested/Started/
// Succeeded/Failed/Canceled events.
type Command struct {
	ent.Schema
}

// Fields of the Command.
func (Command) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("command_id").
			Unique().
			Immutable(),
		field.String("tenant_id").
			Immutable(),
		field.String("project_id").
			Immutable(),
		field.Enum("status").
			Values("PENDING", "RUNNING", "SUCCEEDED", "FAILED", "CANCELED").
			Default("PENDING"),
		field.String("latest_run_id").
			Optional().
			Nillable(),
		field.String("last_event_id"),
		field.Int("priority").
			Default(50).
			Comment("lower is higher priority"),
		field.String("command_type"),
		field.String("command_version").
			Optional().
			Nillable(),
		field.JSON("args", map[string]any{}).
			Optional(),
		field.JSON("context", map[string]any{}).
			Optional(),
		field.JSON("constraints", map[string]any{}).
			Optional(),
		field.String("title").
			Optional(),
		field.Time("updated_ts").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Indexes of the Command.
func (Command) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("project_id", "status"),
		index.Fields("project_id", "priority"),
	}
}
