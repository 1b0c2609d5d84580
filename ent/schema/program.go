package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Program holds the schema definition for the Program entity: the single
// per-run root record identifying the analyzed source file.
type Program struct {
	ent.Schema
}

// Fields of the Program.
func (Program) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("program_id").
			Unique().
			Immutable().
			Comment("Uppercase identifier extracted from the source header, or the uppercased filename stem"),
		field.String("program_name"),
		field.String("file_name"),
		field.Int("total_lines"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
		field.Time("last_analyzed").
			Default(time.Now).
			UpdateDefault(time.Now).
			Comment("Populated with the writer transaction's commit timestamp"),
	}
}

// Edges of the Program.
func (Program) Edges() []ent.Edge {
	return nil
}

// Indexes of the Program.
func (Program) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("file_name"),
	}
}
