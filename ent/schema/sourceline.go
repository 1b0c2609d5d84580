package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// SourceLine holds the schema definition for the SourceLine entity: one
// 1-based, dense, contiguous line of a Program's source text.
type SourceLine struct {
	ent.Schema
}

// Fields of the SourceLine.
func (SourceLine) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("line_id").
			Unique().
			Immutable().
			Comment("{program_id}_{line_number}"),
		field.String("program_id").
			Immutable(),
		field.Int("line_number").
			Immutable(),
		field.Text("content").
			Immutable().
			Comment("Raw line content, trailing newline stripped"),
		field.Enum("line_type").
			Values("CODE", "COMMENT", "BLANK", "DIRECTIVE"),
		field.String("structure_id").
			Optional().
			Nillable().
			Comment("Assigned in stage 2; null only for lines excluded from structure coverage"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Edges of the SourceLine.
func (SourceLine) Edges() []ent.Edge {
	return nil
}

// Indexes of the SourceLine.
func (SourceLine) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("program_id", "line_number").
			Unique(),
		index.Fields("structure_id"),
	}
}
