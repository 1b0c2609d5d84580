package api

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// HealthCheck represents the status of a single health check component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ProgramResponse is returned by GET /api/v1/programs/:id.
type ProgramResponse struct {
	ProgramID    string `json:"program_id"`
	ProgramName  string `json:"program_name"`
	FileName     string `json:"file_name"`
	TotalLines   int    `json:"total_lines"`
	LastAnalyzed string `json:"last_analyzed"`
}

// StructureResponse is one element of GET /api/v1/programs/:id/structures.
type StructureResponse struct {
	StructureID       string `json:"structure_id"`
	Name              string `json:"name"`
	Type              string `json:"type"`
	StartLineNumber   int    `json:"start_line_number"`
	EndLineNumber     int    `json:"end_line_number"`
	ParentStructureID string `json:"parent_structure_id,omitempty"`
}

// EntityResponse is one element of GET /api/v1/programs/:id/entities.
type EntityResponse struct {
	EntityID         string `json:"entity_id"`
	Name             string `json:"name"`
	Type             string `json:"type"`
	DefinitionLineID string `json:"definition_line_id,omitempty"`
	Description      string `json:"description,omitempty"`
}

// FlowResponse is returned by GET /api/v1/programs/:id/flow.
type FlowResponse struct {
	ControlFlow    []ControlFlowResponse   `json:"control_flow"`
	LineReferences []LineReferenceResponse `json:"line_references"`
}

// ControlFlowResponse is one element of FlowResponse.ControlFlow.
type ControlFlowResponse struct {
	FlowID            string `json:"flow_id"`
	SourceLineID      string `json:"source_line_id"`
	TargetStructureID string `json:"target_structure_id"`
	Type              string `json:"type"`
}

// LineReferenceResponse is one element of FlowResponse.LineReferences.
type LineReferenceResponse struct {
	ReferenceID    string `json:"reference_id"`
	SourceLineID   string `json:"source_line_id"`
	TargetEntityID string `json:"target_entity_id"`
	UsageType      string `json:"usage_type"`
}

// SearchHit is one element of GET /api/v1/search's results.
type SearchHit struct {
	Kind      string `json:"kind"` // "source_line" or "entity"
	ProgramID string `json:"program_id"`
	ID        string `json:"id"`
	Snippet   string `json:"snippet"`
}

// SearchResponse is returned by GET /api/v1/search.
type SearchResponse struct {
	Query   string      `json:"query"`
	Results []SearchHit `json:"results"`
}
