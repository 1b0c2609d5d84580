package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Entity holds the schema definition for the Entity (DataEntity) type: a
// named data object — file, variable, or included copybook — that a
// Program defines or references.
type Entity struct {
	ent.Schema
}

// Fields of the Entity.
func (Entity) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("entity_id").
			Unique().
			Immutable().
			Comment("{program_id}_{entity_name}"),
		field.String("program_id").
			Immutable(),
		field.String("name").
			Comment("First-observed casing is preserved through reconciliation"),
		field.Enum("type").
			Values("FILE", "VARIABLE", "COPYBOOK"),
		field.String("definition_line_id").
			Optional().
			Nillable().
			Comment("References a SourceLine.line_id; null when only referenced from an included module"),
		field.Text("description").
			Optional(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Edges of the Entity.
func (Entity) Edges() []ent.Edge {
	return nil
}

// Indexes of the Entity.
func (Entity) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("program_id", "name").
			Unique(),
		index.Fields("definition_line_id"),
	}
}
