package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ControlFlow holds the schema definition for a directed control-transfer
// edge from a SourceLine to a target Structure.
type ControlFlow struct {
	ent.Schema
}

// Fields of the ControlFlow.
func (ControlFlow) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("flow_id").
			Unique().
			Immutable().
			Comment("flow_{source_line_id}"),
		field.String("program_id").
			Immutable(),
		field.String("source_line_id").
			Immutable(),
		field.String("target_structure_id").
			Immutable(),
		field.Enum("type").
			Values("PERFORM", "GO_TO", "CALL"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the ControlFlow.
func (ControlFlow) Edges() []ent.Edge {
	return nil
}

// Indexes of the ControlFlow.
func (ControlFlow) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("program_id"),
		index.Fields("source_line_id"),
		index.Fields("target_structure_id"),
	}
}
