package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Run is one execution attempt of a command.
type Run struct {
	ent.Schema
}

// Fields of the Run.
func (Run) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("run_id").
			Unique().
			Immutable(),
		field.String("tenant_id").
			Immutable(),
		field.String("project_id").
			Immutable(),
		field.String("command_id").
			Immutable(),
		field.Enum("status").
			Values("RUNNING", "SUCCEEDED", "FAILED").
			Default("RUNNING"),
		field.Int("attempt"),
		field.Time("started_ts").
			Optional().
			Nillable(),
		field.Time("ended_ts").
			Optional().
			Nillable(),
		field.String("executor").
			Optional().
			Nillable(),
		field.String("error").
			Optional().
			Nillable(),
	}
}

// Indexes of the Run.
func (Run) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("project_id", "command_id"),
	}
}
