// Package llmschema constrains and validates the narrow JSON shapes each
// pipeline stage expects back from the LLM (§6, §9 "Schema-constrained
// outputs"). go-playground/validator struct tags encode the same closed
// enum sets the request schema already asked the model to honor; a
// violation here becomes a *pipelineerr.Error of KindSchemaViolation so the
// caller can apply its documented safe default instead of persisting bad
// data.
package llmschema

import (
	"encoding/json"
	"fmt"

	validatorpkg "github.com/go-playground/validator/v10"

	"github.com/cobolgraph/extractor/pkg/pipelineerr"
)

var validate = validatorpkg.New()

// ProgramIDResponse is stage 1's program-identifier extraction schema.
type ProgramIDResponse struct {
	ProgramID string `json:"program_id" validate:"required"`
}

// LineClassification is stage 1's per-line classification schema. The LLM
// call is constrained to return a bare JSON string; callers wrap it here.
type LineClassification struct {
	LineType string `json:"line_type" validate:"required,oneof=CODE COMMENT BLANK DIRECTIVE"`
}

// StructuresResponse is stage 2's structure-discovery schema.
type StructuresResponse struct {
	Structures []StructureCandidate `json:"structures" validate:"dive"`
}

// StructureCandidate is one element of StructuresResponse.Structures.
type StructureCandidate struct {
	Name      string `json:"name" validate:"required"`
	Type      string `json:"type" validate:"required,oneof=DIVISION SECTION PARAGRAPH"`
	StartLine int    `json:"start_line" validate:"required,min=1"`
}

// EntitiesResponse is stage 3 phase A's per-structure extraction schema.
type EntitiesResponse struct {
	FoundEntities []EntityCandidate `json:"found_entities" validate:"dive"`
}

// EntityCandidate is one element of EntitiesResponse.FoundEntities.
type EntityCandidate struct {
	EntityName       string `json:"entity_name" validate:"required"`
	EntityType       string `json:"entity_type" validate:"required,oneof=FILE VARIABLE COPYBOOK"`
	DefinitionLineID string `json:"definition_line_id,omitempty"`
	Description      string `json:"description"`
}

// ReconcileResponse is stage 3 phase B's resolve-mode schema. Split is true
// when the two candidates should remain distinct entities, in which case
// RenameSuffix disambiguates the duplicate (§4.3 "renaming the duplicates by
// suffixing with the defining line number or containing structure name").
type ReconcileResponse struct {
	Split        bool   `json:"split"`
	RenameSuffix string `json:"rename_suffix,omitempty"`
	Merged       EntityCandidate `json:"merged" validate:"omitempty"`
}

// FlowResponse is stage 4's per-structure control-flow and reference schema.
type FlowResponse struct {
	ControlFlow    []ControlFlowCandidate   `json:"control_flow" validate:"dive"`
	LineReferences []LineReferenceCandidate `json:"line_references" validate:"dive"`
}

// ControlFlowCandidate is one element of FlowResponse.ControlFlow.
type ControlFlowCandidate struct {
	LineNumber           int    `json:"line_number" validate:"required,min=1"`
	TargetStructureName  string `json:"target_structure_name" validate:"required"`
	Type                 string `json:"type" validate:"required,oneof=PERFORM GO_TO CALL"`
}

// LineReferenceCandidate is one element of FlowResponse.LineReferences.
type LineReferenceCandidate struct {
	LineNumber     int    `json:"line_number" validate:"required,min=1"`
	TargetEntityName string `json:"target_entity_name" validate:"required"`
	UsageType      string `json:"usage_type" validate:"required,oneof=READS WRITES UPDATES VALIDATES OPENS CLOSES DECLARATION"`
}

// Decode unmarshals raw into dst and validates it against dst's struct tags,
// translating any failure into a *pipelineerr.Error of KindSchemaViolation
// (terminal for that call; the caller applies its own safe default).
func Decode(target string, raw json.RawMessage, dst interface{}) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return pipelineerr.New(pipelineerr.KindSchemaViolation, target, fmt.Errorf("decode: %w", err))
	}
	if err := validate.Struct(dst); err != nil {
		return pipelineerr.New(pipelineerr.KindSchemaViolation, target, fmt.Errorf("validate: %w", err))
	}
	return nil
}

// DecodeBareString decodes a JSON string (not an object) into s, used by
// stage 1's classification call whose schema is `{type: STRING}`.
func DecodeBareString(target string, raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", pipelineerr.New(pipelineerr.KindSchemaViolation, target, fmt.Errorf("decode string: %w", err))
	}
	return s, nil
}
