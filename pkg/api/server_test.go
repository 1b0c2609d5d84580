package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cobolgraph/extractor/ent"
	"github.com/cobolgraph/extractor/pkg/config"
	"github.com/cobolgraph/extractor/pkg/database"
	"github.com/cobolgraph/extractor/pkg/llm"
	"github.com/cobolgraph/extractor/pkg/model"
	"github.com/cobolgraph/extractor/pkg/source"
	"github.com/cobolgraph/extractor/pkg/writer"
)

func newTestServer(t *testing.T) (*Server, *database.Client) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	drv, err := sql.Open(dialect.Postgres, connStr)
	require.NoError(t, err)

	entClient := ent.NewClient(ent.Driver(drv))
	require.NoError(t, entClient.Schema.Create(ctx))
	require.NoError(t, database.CreateGINIndexes(ctx, drv))

	db := database.NewClientFromEnt(entClient, drv.DB())
	t.Cleanup(func() { db.Close() })

	srv := NewServer(config.Defaults(), db, llm.NewFakeClient(), source.NewLocalFetcher())
	return srv, db
}

func seedProgram(t *testing.T, db *database.Client) model.Artifact {
	artifact := model.Artifact{
		ProgramID: "PROG1",
		Program:   model.Program{ProgramID: "PROG1", ProgramName: "PROG1", FileName: "prog1.cbl", TotalLines: 2},
		SourceLines: []model.SourceLine{
			{LineID: "PROG1_1", ProgramID: "PROG1", LineNumber: 1, Content: "OPEN INPUT CUST-FILE", LineType: model.LineTypeCode, StructureID: "sec_PROG1_MAIN"},
		},
		Structures: []model.Structure{
			{StructureID: "sec_PROG1_MAIN", ProgramID: "PROG1", Name: "MAIN", Type: model.StructureTypeParagraph, StartLineNumber: 1, EndLineNumber: 2},
		},
		Entities: []model.Entity{
			{EntityID: "PROG1_CUST-FILE", ProgramID: "PROG1", Name: "CUST-FILE", Type: model.EntityTypeFile, Description: "customer master file"},
		},
		Flow: model.FlowArtifact{
			LineReferences: []model.LineReference{
				{ReferenceID: "ref_PROG1_1_CUST-FILE", SourceLineID: "PROG1_1", TargetEntityID: "PROG1_CUST-FILE", UsageType: model.UsageOpen},
			},
		},
	}
	require.NoError(t, writer.Write(context.Background(), db.Client, artifact, time.Now()))
	return artifact
}

func TestHealthHandler_ReportsHealthy(t *testing.T) {
	srv, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestGetProgramHandler(t *testing.T) {
	srv, db := newTestServer(t)
	seedProgram(t, db)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/programs/PROG1", nil)
	srv.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp ProgramResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PROG1", resp.ProgramID)
	assert.Equal(t, 2, resp.TotalLines)
}

func TestGetProgramHandler_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/programs/MISSING", nil)
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListStructuresAndEntitiesHandlers(t *testing.T) {
	srv, db := newTestServer(t)
	seedProgram(t, db)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/programs/PROG1/structures", nil)
	srv.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var structures []StructureResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &structures))
	require.Len(t, structures, 1)
	assert.Equal(t, "MAIN", structures[0].Name)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/programs/PROG1/entities", nil)
	srv.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var entities []EntityResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entities))
	require.Len(t, entities, 1)
	assert.Equal(t, "CUST-FILE", entities[0].Name)
}

func TestGetFlowHandler(t *testing.T) {
	srv, db := newTestServer(t)
	seedProgram(t, db)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/programs/PROG1/flow", nil)
	srv.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp FlowResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.LineReferences, 1)
	assert.Equal(t, "OPENS", resp.LineReferences[0].UsageType)
}

func TestSearchHandler_FindsSeededContent(t *testing.T) {
	srv, db := newTestServer(t)
	seedProgram(t, db)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/search?q=customer", nil)
	srv.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Results)
}

func TestPurgeProgramHandler_RemovesProgram(t *testing.T) {
	srv, db := newTestServer(t)
	seedProgram(t, db)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/programs/PROG1", nil)
	srv.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/programs/PROG1", nil)
	srv.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitRunHandler_StreamsNDJSONAndWritesGraph(t *testing.T) {
	srv, db := newTestServer(t)

	client := srv.llmClient.(*llm.FakeClient)
	client.QueueResponse("ingest.program_id", json.RawMessage(`{"program_id":"SAMPLE"}`))
	for i := 1; i <= 5; i++ {
		client.QueueResponse("ingest.classify_line["+strconv.Itoa(i)+"]", json.RawMessage(`"CODE"`))
	}
	client.QueueResponse("structure.identify", json.RawMessage(
		`{"structures":[{"name":"MAIN-PARA","type":"PARAGRAPH","start_line":4}]}`))
	client.QueueResponse("entities.extract[sec_SAMPLE_MAIN-PARA]", json.RawMessage(
		`{"found_entities":[{"entity_name":"CUST-FILE","entity_type":"FILE","definition_line_id":"SAMPLE_5","description":"customer file"}]}`))
	client.QueueResponse("flow.extract[sec_SAMPLE_MAIN-PARA]", json.RawMessage(
		`{"control_flow":[],"line_references":[{"line_number":5,"target_entity_name":"CUST-FILE","usage_type":"OPENS"}]}`))

	body := `{"inline_content":"IDENTIFICATION DIVISION.\nPROGRAM-ID. SAMPLE.\nPROCEDURE DIVISION.\nMAIN-PARA.\n    OPEN INPUT CUST-FILE.\n","file_name":"sample.cbl"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "JSON_START")
	assert.Contains(t, w.Body.String(), "JSON_END")

	p, err := db.Client.Program.Get(context.Background(), "SAMPLE")
	require.NoError(t, err)
	assert.Equal(t, "SAMPLE", p.ID)
}
