package api

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/cobolgraph/extractor/ent"
	"github.com/cobolgraph/extractor/ent/controlflow"
	"github.com/cobolgraph/extractor/ent/entity"
	"github.com/cobolgraph/extractor/ent/linereference"
	"github.com/cobolgraph/extractor/ent/structure"
	"github.com/cobolgraph/extractor/pkg/writer"
)

// getProgramHandler handles GET /api/v1/programs/:id.
func (s *Server) getProgramHandler(c *gin.Context) {
	id := c.Param("id")
	p, err := s.db.Client.Program.Get(c.Request.Context(), id)
	if ent.IsNotFound(err) {
		abortNotFound(c, "program not found")
		return
	}
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, ProgramResponse{
		ProgramID:    p.ID,
		ProgramName:  p.ProgramName,
		FileName:     p.FileName,
		TotalLines:   p.TotalLines,
		LastAnalyzed: p.LastAnalyzed.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// listStructuresHandler handles GET /api/v1/programs/:id/structures.
func (s *Server) listStructuresHandler(c *gin.Context) {
	id := c.Param("id")
	rows, err := s.db.Client.Structure.Query().
		Where(structure.ProgramID(id)).
		All(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].StartLineNumber < rows[j].StartLineNumber })

	out := make([]StructureResponse, 0, len(rows))
	for _, r := range rows {
		resp := StructureResponse{
			StructureID:     r.ID,
			Name:            r.Name,
			Type:            string(r.Type),
			StartLineNumber: r.StartLineNumber,
			EndLineNumber:   r.EndLineNumber,
		}
		if r.ParentStructureID != nil {
			resp.ParentStructureID = *r.ParentStructureID
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, out)
}

// listEntitiesHandler handles GET /api/v1/programs/:id/entities. An optional
// ?type= filter restricts to one of FILE, VARIABLE, COPYBOOK.
func (s *Server) listEntitiesHandler(c *gin.Context) {
	id := c.Param("id")
	rows, err := s.db.Client.Entity.Query().Where(entity.ProgramID(id)).All(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })

	typeFilter := c.Query("type")
	out := make([]EntityResponse, 0, len(rows))
	for _, r := range rows {
		if typeFilter != "" && string(r.Type) != typeFilter {
			continue
		}
		resp := EntityResponse{
			EntityID:    r.ID,
			Name:        r.Name,
			Type:        string(r.Type),
			Description: r.Description,
		}
		if r.DefinitionLineID != nil {
			resp.DefinitionLineID = *r.DefinitionLineID
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, out)
}

// getFlowHandler handles GET /api/v1/programs/:id/flow.
func (s *Server) getFlowHandler(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	flows, err := s.db.Client.ControlFlow.Query().Where(controlflow.ProgramID(id)).All(ctx)
	if err != nil {
		abortWithError(c, err)
		return
	}
	refs, err := s.db.Client.LineReference.Query().Where(linereference.ProgramID(id)).All(ctx)
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := FlowResponse{
		ControlFlow:    make([]ControlFlowResponse, 0, len(flows)),
		LineReferences: make([]LineReferenceResponse, 0, len(refs)),
	}
	for _, f := range flows {
		resp.ControlFlow = append(resp.ControlFlow, ControlFlowResponse{
			FlowID:            f.ID,
			SourceLineID:      f.SourceLineID,
			TargetStructureID: f.TargetStructureID,
			Type:              string(f.Type),
		})
	}
	for _, r := range refs {
		resp.LineReferences = append(resp.LineReferences, LineReferenceResponse{
			ReferenceID:    r.ID,
			SourceLineID:   r.SourceLineID,
			TargetEntityID: r.TargetEntityID,
			UsageType:      string(r.UsageType),
		})
	}
	c.JSON(http.StatusOK, resp)
}

// purgeProgramHandler handles DELETE /api/v1/programs/:id. This exposes the
// Open Question (iii) opt-in purge (pkg/writer.PurgeProgram) over HTTP;
// nothing else in the API ever deletes graph data (§4.5).
func (s *Server) purgeProgramHandler(c *gin.Context) {
	id := c.Param("id")
	if err := writer.PurgeProgram(c.Request.Context(), s.db.Client, id); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// searchHandler handles GET /api/v1/search?q=..., backed by the GIN indexes
// pkg/database.CreateGINIndexes creates on source_lines.content and
// entities.description.
func (s *Server) searchHandler(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		abortBadRequest(c, "q query parameter is required")
		return
	}
	ctx := c.Request.Context()

	lineRows, err := s.db.DB().QueryContext(ctx,
		`SELECT line_id, program_id, content FROM source_lines
		 WHERE to_tsvector('english', content) @@ plainto_tsquery('english', $1)
		 LIMIT 50`, query)
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer lineRows.Close()

	var hits []SearchHit
	for lineRows.Next() {
		var id, programID, content string
		if err := lineRows.Scan(&id, &programID, &content); err != nil {
			abortWithError(c, err)
			return
		}
		hits = append(hits, SearchHit{Kind: "source_line", ProgramID: programID, ID: id, Snippet: content})
	}

	entityRows, err := s.db.DB().QueryContext(ctx,
		`SELECT entity_id, program_id, description FROM entities
		 WHERE to_tsvector('english', COALESCE(description, '')) @@ plainto_tsquery('english', $1)
		 LIMIT 50`, query)
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer entityRows.Close()

	for entityRows.Next() {
		var id, programID, description string
		if err := entityRows.Scan(&id, &programID, &description); err != nil {
			abortWithError(c, err)
			return
		}
		hits = append(hits, SearchHit{Kind: "entity", ProgramID: programID, ID: id, Snippet: description})
	}

	if hits == nil {
		hits = []SearchHit{}
	}
	c.JSON(http.StatusOK, SearchResponse{Query: query, Results: hits})
}
