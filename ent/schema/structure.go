package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Structure holds the schema definition for the Structure entity: a named
// hierarchical block in the source (division, section, or paragraph).
type Structure struct {
	ent.Schema
}

// Fields of the Structure.
func (Structure) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("structure_id").
			Unique().
			Immutable().
			Comment("sec_{program_id}_{NAME_UPPERCASED_WITH_UNDERSCORES}"),
		field.String("program_id").
			Immutable(),
		field.String("name"),
		field.Enum("type").
			Values("DIVISION", "SECTION", "PARAGRAPH"),
		field.Int("start_line_number"),
		field.Int("end_line_number").
			Comment("Inclusive; derived deterministically, never trusted from the LLM"),
		field.String("parent_structure_id").
			Optional().
			Nillable().
			Comment("Closest preceding structure with strictly higher hierarchical rank"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Edges of the Structure.
func (Structure) Edges() []ent.Edge {
	return nil
}

// Indexes of the Structure.
func (Structure) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("program_id", "start_line_number"),
		index.Fields("parent_structure_id"),
	}
}
