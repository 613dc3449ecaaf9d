package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Member binds a principal to a project with a role. owner is a superset of
// every other role; the last owner on a project cannot be removed
// (pkg/projects enforces this, not the schema).
type Member struct {
	ent.Schema
}

// Fields of the Member.
func (Member) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("member_id").
			Unique().
			Immutable(),
		field.String("tenant_id").
			Immutable(),
		field.String("project_id").
			Immutable(),
		field.String("principal_id").
			Immutable().
			Comment("identity resolved by pkg/guard.IdentityResolver"),
		field.Enum("role").
			Values("owner", "operator", "viewer", "bot"),
		field.Time("added_ts").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the Member.
func (Member) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("project_id", "principal_id").
			Unique(),
		index.Fields("project_id", "role"),
	}
}
