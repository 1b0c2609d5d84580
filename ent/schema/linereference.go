package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// LineReference holds the schema definition for a directed data-reference
// edge from a SourceLine to an Entity, tagged with usage semantics.
type LineReference struct {
	ent.Schema
}

// Fields of the LineReference.
func (LineReference) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("reference_id").
			Unique().
			Immutable().
			Comment("ref_{source_line_id}_{target_entity_name}"),
		field.String("program_id").
			Immutable(),
		field.String("source_line_id").
			Immutable(),
		field.String("target_entity_id").
			Immutable(),
		field.Enum("usage_type").
			Values("READS", "WRITES", "UPDATES", "VALIDATES", "OPENS", "CLOSES", "DECLARATION"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the LineReference.
func (LineReference) Edges() []ent.Edge {
	return nil
}

// Indexes of the LineReference.
func (LineReference) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("program_id"),
		index.Fields("source_line_id"),
		index.Fields("target_entity_id"),
	}
}
