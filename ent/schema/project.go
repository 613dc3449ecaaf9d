package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Project is the (tenant_id, project_id) scoping unit every other table
// hangs off of.
type Project struct {
	ent.Schema
}

// Fields of the Project.
func (Project) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("project_id").
			Unique().
			Immutable(),
		field.String("tenant_id").
			Immutable(),
		field.String("name"),
		field.JSON("settings", map[string]any{}).
			Optional(),
		field.Time("created_ts").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the Project.
func (Project) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("tenant_id", "name").
			Unique(),
	}
}
