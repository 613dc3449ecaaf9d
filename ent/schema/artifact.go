package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Artifact is a content-addressed pointer into a blob store, deduplicated
// per project by content hash.
type Artifact struct {
	ent.Schema
}

// Fields of the Artifact.
func (Artifact) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("artifact_id").
			Unique().
			Immutable(),
		field.String("tenant_id").
			Immutable(),
		field.String("project_id").
			Immutable(),
		field.String("command_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("run_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("content_hash").
			Immutable().
			Comment("sha256 of raw content, hex encoded"),
		field.String("content_type").
			Immutable(),
		field.Int64("size_bytes").
			Immutable(),
		field.String("storage_ref").
			Immutable().
			Comment("opaque pointer into the blob store"),
		field.String("title").
			Optional().
			Nillable(),
		field.JSON("metadata", map[string]any{}).
			Optional(),
		field.Time("created_ts").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the Artifact.
func (Artifact) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("project_id", "content_hash").
			Unique(),
		index.Fields("command_id"),
		index.Fields("run_id"),
	}
}
