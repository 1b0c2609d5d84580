package writer

import (
	"context"
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
	"github.com/cobolgraph/extractor/pkg/model"
)

func newTestClient(t *testing.T) *ent.Client {
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

	client := ent.NewClient(ent.Driver(drv))
	require.NoError(t, client.Schema.Create(ctx))
	t.Cleanup(func() { client.Close() })
	return client
}

func sampleArtifact() model.Artifact {
	program := model.Program{ProgramID: "PROG1", ProgramName: "PROG1", FileName: "prog1.cbl", TotalLines: 2}
	return model.Artifact{
		ProgramID: program.ProgramID,
		Program:   program,
		SourceLines: []model.SourceLine{
			{LineID: "PROG1_1", ProgramID: "PROG1", LineNumber: 1, Content: "OPEN INPUT CUST-FILE", LineType: model.LineTypeCode, StructureID: "sec_PROG1_MAIN"},
		},
		Structures: []model.Structure{
			{StructureID: "sec_PROG1_MAIN", ProgramID: "PROG1", Name: "MAIN", Type: model.StructureTypeParagraph, StartLineNumber: 1, EndLineNumber: 2},
		},
		Entities: []model.Entity{
			{EntityID: "PROG1_CUST-FILE", ProgramID: "PROG1", Name: "CUST-FILE", Type: model.EntityTypeFile},
		},
		Flow: model.FlowArtifact{
			LineReferences: []model.LineReference{
				{ReferenceID: "ref_PROG1_1_CUST-FILE", SourceLineID: "PROG1_1", TargetEntityID: "PROG1_CUST-FILE", UsageType: model.UsageOpen},
			},
			ControlFlow: []model.ControlFlow{
				{FlowID: "flow_PROG1_1", SourceLineID: "PROG1_1", TargetStructureID: "sec_PROG1_MAIN", Type: model.FlowPerform},
			},
		},
	}
}

func TestWrite_CommitsAllSixTables(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	err := Write(ctx, client, sampleArtifact(), time.Now())
	require.NoError(t, err)

	prog, err := client.Program.Get(ctx, "PROG1")
	require.NoError(t, err)
	assert.Equal(t, 2, prog.TotalLines)

	lines, err := client.SourceLine.Query().All(ctx)
	require.NoError(t, err)
	require.Len(t, lines, 1)

	structures, err := client.Structure.Query().All(ctx)
	require.NoError(t, err)
	require.Len(t, structures, 1)

	entities, err := client.Entity.Query().All(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 1)

	refs, err := client.LineReference.Query().All(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 1)

	flows, err := client.ControlFlow.Query().All(ctx)
	require.NoError(t, err)
	require.Len(t, flows, 1)
}

func TestWrite_IsIdempotent_ReRunUpdatesNotDuplicates(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	artifact := sampleArtifact()
	require.NoError(t, Write(ctx, client, artifact, time.Now()))

	artifact.Entities[0].Description = "updated description"
	require.NoError(t, Write(ctx, client, artifact, time.Now()))

	entities, err := client.Entity.Query().All(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "updated description", entities[0].Description)
}

func TestPurgeProgram_RemovesAllRowsForProgram(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, Write(ctx, client, sampleArtifact(), time.Now()))
	require.NoError(t, PurgeProgram(ctx, client, "PROG1"))

	count, err := client.Program.Query().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	lineCount, err := client.SourceLine.Query().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, lineCount)
}
