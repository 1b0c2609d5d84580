// Package writer implements Stage 5 (§4.5): commit a fully assembled
// Artifact to the graph store in one transaction, in the fixed order
// Program → Structures → SourceLines → Entities → LineReferences →
// ControlFlow, additive and never deleting (tarsy's session_service.go
// Tx/defer-Rollback/Commit shape, generalized to an upsert per row instead
// of a single insert since re-running a stage over the same program must be
// idempotent).
package writer

import (
	"context"
	"fmt"
	"time"

	"github.com/cobolgraph/extractor/ent"
	"github.com/cobolgraph/extractor/ent/controlflow"
	"github.com/cobolgraph/extractor/ent/entity"
	"github.com/cobolgraph/extractor/ent/linereference"
	"github.com/cobolgraph/extractor/ent/sourceline"
	"github.com/cobolgraph/extractor/ent/structure"
	"github.com/cobolgraph/extractor/pkg/model"
	"github.com/cobolgraph/extractor/pkg/pipelineerr"
)

// Write commits artifact inside a single transaction. Every row is an
// insert-or-update keyed by its deterministic id (§4.5 "insert_or_update");
// nothing is ever deleted here. commitTime sets the program's last_analyzed
// and the updated_at of every row an upsert updates; a row inserted for the
// first time takes created_at (and updated_at, where the table has one) from
// the schema's time.Now default, so those values are not commitTime.
func Write(ctx context.Context, client *ent.Client, artifact model.Artifact, commitTime time.Time) error {
	tx, err := client.Tx(ctx)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindWriterConflict, artifact.ProgramID, fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := writeProgram(ctx, tx, artifact.Program, commitTime); err != nil {
		return err
	}
	if err := writeStructures(ctx, tx, artifact.Structures, commitTime); err != nil {
		return err
	}
	if err := writeSourceLines(ctx, tx, artifact.SourceLines, commitTime); err != nil {
		return err
	}
	if err := writeEntities(ctx, tx, artifact.Entities, commitTime); err != nil {
		return err
	}
	if err := writeLineReferences(ctx, tx, artifact.Flow.LineReferences); err != nil {
		return err
	}
	if err := writeControlFlow(ctx, tx, artifact.Flow.ControlFlow); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return pipelineerr.New(pipelineerr.KindWriterConflict, artifact.ProgramID, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func writeProgram(ctx context.Context, tx *ent.Tx, p model.Program, commitTime time.Time) error {
	err := tx.Program.Create().
		SetID(p.ProgramID).
		SetProgramName(p.ProgramName).
		SetFileName(p.FileName).
		SetTotalLines(p.TotalLines).
		SetLastAnalyzed(commitTime).
		OnConflictColumns("program_id").
		Update(func(u *ent.ProgramUpsert) {
			u.SetProgramName(p.ProgramName)
			u.SetFileName(p.FileName)
			u.SetTotalLines(p.TotalLines)
			u.SetUpdatedAt(commitTime)
			u.SetLastAnalyzed(commitTime)
		}).
		Exec(ctx)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindWriterConflict, p.ProgramID, fmt.Errorf("write program: %w", err))
	}
	return nil
}

func writeStructures(ctx context.Context, tx *ent.Tx, structures []model.Structure, commitTime time.Time) error {
	for _, s := range structures {
		create := tx.Structure.Create().
			SetID(s.StructureID).
			SetProgramID(s.ProgramID).
			SetName(s.Name).
			SetType(string(s.Type)).
			SetStartLineNumber(s.StartLineNumber).
			SetEndLineNumber(s.EndLineNumber)
		if s.ParentStructureID != "" {
			create.SetParentStructureID(s.ParentStructureID)
		}
		err := create.
			OnConflictColumns("structure_id").
			Update(func(u *ent.StructureUpsert) {
				u.SetName(s.Name)
				u.SetType(string(s.Type))
				u.SetStartLineNumber(s.StartLineNumber)
				u.SetEndLineNumber(s.EndLineNumber)
				if s.ParentStructureID != "" {
					u.SetParentStructureID(s.ParentStructureID)
				} else {
					u.ClearParentStructureID()
				}
				u.SetUpdatedAt(commitTime)
			}).
			Exec(ctx)
		if err != nil {
			return pipelineerr.New(pipelineerr.KindWriterConflict, s.StructureID, fmt.Errorf("write structure: %w", err))
		}
	}
	return nil
}

func writeSourceLines(ctx context.Context, tx *ent.Tx, lines []model.SourceLine, commitTime time.Time) error {
	for _, l := range lines {
		create := tx.SourceLine.Create().
			SetID(l.LineID).
			SetProgramID(l.ProgramID).
			SetLineNumber(l.LineNumber).
			SetContent(l.Content).
			SetLineType(string(l.LineType))
		if l.StructureID != "" {
			create.SetStructureID(l.StructureID)
		}
		err := create.
			OnConflictColumns("line_id").
			Update(func(u *ent.SourceLineUpsert) {
				u.SetLineType(string(l.LineType))
				if l.StructureID != "" {
					u.SetStructureID(l.StructureID)
				} else {
					u.ClearStructureID()
				}
				u.SetUpdatedAt(commitTime)
			}).
			Exec(ctx)
		if err != nil {
			return pipelineerr.New(pipelineerr.KindWriterConflict, l.LineID, fmt.Errorf("write source line: %w", err))
		}
	}
	return nil
}

func writeEntities(ctx context.Context, tx *ent.Tx, entities []model.Entity, commitTime time.Time) error {
	for _, e := range entities {
		create := tx.Entity.Create().
			SetID(e.EntityID).
			SetProgramID(e.ProgramID).
			SetName(e.Name).
			SetType(string(e.Type)).
			SetDescription(e.Description)
		if e.DefinitionLineID != "" {
			create.SetDefinitionLineID(e.DefinitionLineID)
		}
		err := create.
			OnConflictColumns("entity_id").
			Update(func(u *ent.EntityUpsert) {
				u.SetType(string(e.Type))
				u.SetDescription(e.Description)
				if e.DefinitionLineID != "" {
					u.SetDefinitionLineID(e.DefinitionLineID)
				} else {
					u.ClearDefinitionLineID()
				}
				u.SetUpdatedAt(commitTime)
			}).
			Exec(ctx)
		if err != nil {
			return pipelineerr.New(pipelineerr.KindWriterConflict, e.EntityID, fmt.Errorf("write entity: %w", err))
		}
	}
	return nil
}

func writeLineReferences(ctx context.Context, tx *ent.Tx, refs []model.LineReference) error {
	for _, r := range refs {
		err := tx.LineReference.Create().
			SetID(r.ReferenceID).
			SetProgramID(programIDFromLineID(r.SourceLineID)).
			SetSourceLineID(r.SourceLineID).
			SetTargetEntityID(r.TargetEntityID).
			SetUsageType(string(r.UsageType)).
			OnConflictColumns("reference_id").
			Update(func(u *ent.LineReferenceUpsert) {
				u.SetUsageType(string(r.UsageType))
			}).
			Exec(ctx)
		if err != nil {
			return pipelineerr.New(pipelineerr.KindWriterConflict, r.ReferenceID, fmt.Errorf("write line reference: %w", err))
		}
	}
	return nil
}

func writeControlFlow(ctx context.Context, tx *ent.Tx, flows []model.ControlFlow) error {
	for _, f := range flows {
		err := tx.ControlFlow.Create().
			SetID(f.FlowID).
			SetProgramID(programIDFromLineID(f.SourceLineID)).
			SetSourceLineID(f.SourceLineID).
			SetTargetStructureID(f.TargetStructureID).
			SetType(string(f.Type)).
			OnConflictColumns("flow_id").
			Update(func(u *ent.ControlFlowUpsert) {
				u.SetType(string(f.Type))
			}).
			Exec(ctx)
		if err != nil {
			return pipelineerr.New(pipelineerr.KindWriterConflict, f.FlowID, fmt.Errorf("write control flow: %w", err))
		}
	}
	return nil
}

// programIDFromLineID recovers program_id from a source_line_id of the form
// "{program_id}_{line_number}" (§3's NewLineID), avoiding a second parameter
// threaded through every caller just to populate the denormalized
// program_id column line_references/control_flows carry for indexed lookup.
func programIDFromLineID(sourceLineID string) string {
	for i := len(sourceLineID) - 1; i >= 0; i-- {
		if sourceLineID[i] == '_' {
			return sourceLineID[:i]
		}
	}
	return sourceLineID
}

// PurgeProgram deletes every row belonging to programID, in reverse
// dependency order. This is the Open Question (iii) resolution: an opt-in
// operation a caller invokes before Write when strict overwrite semantics
// are wanted; it is never called by Write itself, so the default pipeline
// behavior stays additive (§4.5, SPEC_FULL "Additive, non-deleting writer").
func PurgeProgram(ctx context.Context, client *ent.Client, programID string) error {
	tx, err := client.Tx(ctx)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindWriterConflict, programID, fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback()

	deletes := []func() error{
		func() error {
			_, err := tx.ControlFlow.Delete().Where(controlflow.ProgramID(programID)).Exec(ctx)
			return err
		},
		func() error {
			_, err := tx.LineReference.Delete().Where(linereference.ProgramID(programID)).Exec(ctx)
			return err
		},
		func() error {
			_, err := tx.Entity.Delete().Where(entity.ProgramID(programID)).Exec(ctx)
			return err
		},
		func() error {
			_, err := tx.SourceLine.Delete().Where(sourceline.ProgramID(programID)).Exec(ctx)
			return err
		},
		func() error {
			_, err := tx.Structure.Delete().Where(structure.ProgramID(programID)).Exec(ctx)
			return err
		},
		func() error {
			_, err := tx.Program.DeleteOneID(programID).Exec(ctx)
			return err
		},
	}
	for _, del := range deletes {
		if err := del(); err != nil {
			return pipelineerr.New(pipelineerr.KindWriterConflict, programID, fmt.Errorf("purge: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return pipelineerr.New(pipelineerr.KindWriterConflict, programID, fmt.Errorf("commit purge: %w", err))
	}
	return nil
}
