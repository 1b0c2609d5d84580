package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobolgraph/extractor/pkg/config"
	"github.com/cobolgraph/extractor/pkg/llm"
	"github.com/cobolgraph/extractor/pkg/model"
	"github.com/cobolgraph/extractor/pkg/source"
)

const sampleSource = "IDENTIFICATION DIVISION.\n" +
	"PROGRAM-ID. SAMPLE.\n" +
	"PROCEDURE DIVISION.\n" +
	"MAIN-PARA.\n" +
	"    OPEN INPUT CUST-FILE.\n"

// stubClient dispatches a canned response by matching a prefix of the
// target tag, so one fixture can drive every stage without needing to
// replicate each stage's exact line/structure fan-out count.
type stubClient struct {
	byPrefix map[string]json.RawMessage
	failStage string
}

func (s *stubClient) Generate(_ context.Context, target string, _ llm.Request) (json.RawMessage, error) {
	if s.failStage != "" && strings.HasPrefix(target, s.failStage) {
		return nil, errors.New("stub: forced failure")
	}
	for prefix, body := range s.byPrefix {
		if strings.HasPrefix(target, prefix) {
			return body, nil
		}
	}
	return nil, errors.New("stub: no response for target " + target)
}

func newHappyPathClient() *stubClient {
	return &stubClient{byPrefix: map[string]json.RawMessage{
		"ingest.program_id":   json.RawMessage(`{"program_id":"SAMPLE"}`),
		"ingest.classify_line": json.RawMessage(`"CODE"`),
		"structure.identify":  json.RawMessage(`{"structures":[{"name":"MAIN-PARA","type":"PARAGRAPH","start_line":4}]}`),
		"entities.extract":    json.RawMessage(`{"found_entities":[{"entity_name":"CUST-FILE","entity_type":"FILE","definition_line_id":"SAMPLE_5","description":"customer file"}]}`),
		"entities.resolve":    json.RawMessage(`{"split":false}`),
		"flow.extract":        json.RawMessage(`{"control_flow":[],"line_references":[{"line_number":5,"target_entity_name":"CUST-FILE","usage_type":"OPENS"}]}`),
	}}
}

func testConfig() config.Config {
	return config.Config{
		MaxReferenceChars: 50000,
		Stages: config.Stages{
			IngestConcurrency: 4,
			EntityConcurrency: 4,
			FlowConcurrency:   4,
		},
		Retry: config.Retry{
			MaxAttempts:    1,
			InitialBackoff: time.Millisecond,
			Multiplier:     1,
		},
	}
}

type fakeWriter struct {
	calls     int
	lastArt   model.Artifact
	returnErr error
}

func (w *fakeWriter) Write(_ context.Context, artifact model.Artifact, _ time.Time) error {
	w.calls++
	w.lastArt = artifact
	return w.returnErr
}

func TestRun_HappyPath_AllStagesAndWrite(t *testing.T) {
	writer := &fakeWriter{}
	deps := Deps{
		LLMClient:     newHappyPathClient(),
		SourceFetcher: source.NewLocalFetcher(),
		GraphWriter:   writer,
		Config:        testConfig(),
	}
	events := make(chan Event, 64)
	ref := source.Ref{InlineContent: sampleSource, FileName: "sample.cbl"}

	artifact, counts, err := Run(context.Background(), deps, ref, events)
	close(events)

	require.NoError(t, err)
	assert.Equal(t, 1, writer.calls)
	assert.Equal(t, "SAMPLE", artifact.ProgramID)
	assert.Equal(t, 5, counts.LinesClassified)
	assert.Equal(t, 1, counts.StructuresFound)
	assert.Equal(t, 1, counts.EntitiesAfterMerge)
	assert.Equal(t, 1, counts.LineReferencesResolved)

	var stages []Stage
	for e := range events {
		stages = append(stages, e.Stage)
	}
	assert.Contains(t, stages, StageIngest)
	assert.Contains(t, stages, StageWrite)
}

func TestRun_SeedScenario1_SingleLineNoStructures_CompletesAndWritesProgramOnly(t *testing.T) {
	client := &stubClient{byPrefix: map[string]json.RawMessage{
		"ingest.program_id":   json.RawMessage(`{"program_id":"FOO"}`),
		"ingest.classify_line": json.RawMessage(`"CODE"`),
		"structure.identify":  json.RawMessage(`{"structures":[]}`),
	}}
	writer := &fakeWriter{}
	deps := Deps{
		LLMClient:     client,
		SourceFetcher: source.NewLocalFetcher(),
		GraphWriter:   writer,
		Config:        testConfig(),
	}
	ref := source.Ref{InlineContent: "PROGRAM-ID. FOO.\n", FileName: "foo.cbl"}

	artifact, counts, err := Run(context.Background(), deps, ref, nil)
	require.NoError(t, err)
	assert.Equal(t, "FOO", artifact.ProgramID)
	assert.Equal(t, 0, counts.StructuresFound)
	assert.Equal(t, 0, counts.EntitiesAfterMerge)
	assert.Empty(t, artifact.Structures)
	assert.Empty(t, artifact.Entities)
	assert.Empty(t, artifact.Flow.ControlFlow)
	assert.Empty(t, artifact.Flow.LineReferences)
	assert.Equal(t, 1, writer.calls)
	assert.Equal(t, "FOO", writer.lastArt.ProgramID)
}

func TestRun_NoWriterSkipsStage5(t *testing.T) {
	deps := Deps{
		LLMClient:     newHappyPathClient(),
		SourceFetcher: source.NewLocalFetcher(),
		GraphWriter:   nil,
		Config:        testConfig(),
	}
	ref := source.Ref{InlineContent: sampleSource, FileName: "sample.cbl"}

	artifact, _, err := Run(context.Background(), deps, ref, nil)
	require.NoError(t, err)
	assert.Equal(t, "SAMPLE", artifact.ProgramID)
}

func TestRun_CancelledBeforeWrite_NeverCommits(t *testing.T) {
	writer := &fakeWriter{}
	deps := Deps{
		LLMClient:     newHappyPathClient(),
		SourceFetcher: source.NewLocalFetcher(),
		GraphWriter:   writer,
		Config:        testConfig(),
	}
	ref := source.Ref{InlineContent: sampleSource, FileName: "sample.cbl"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Run(ctx, deps, ref, nil)
	require.Error(t, err)
	assert.Equal(t, 0, writer.calls)
}

func TestRun_StructureStageFailure_PropagatesAndSkipsWrite(t *testing.T) {
	client := newHappyPathClient()
	client.failStage = "structure.identify"
	writer := &fakeWriter{}
	deps := Deps{
		LLMClient:     client,
		SourceFetcher: source.NewLocalFetcher(),
		GraphWriter:   writer,
		Config:        testConfig(),
	}
	ref := source.Ref{InlineContent: sampleSource, FileName: "sample.cbl"}

	_, _, err := Run(context.Background(), deps, ref, nil)
	require.Error(t, err)
	assert.Equal(t, 0, writer.calls)
}

func TestRun_WriterFailure_WrapsAsStageFatal(t *testing.T) {
	writer := &fakeWriter{returnErr: errors.New("tx conflict")}
	deps := Deps{
		LLMClient:     newHappyPathClient(),
		SourceFetcher: source.NewLocalFetcher(),
		GraphWriter:   writer,
		Config:        testConfig(),
	}
	ref := source.Ref{InlineContent: sampleSource, FileName: "sample.cbl"}

	_, _, err := Run(context.Background(), deps, ref, nil)
	require.Error(t, err)
	assert.Equal(t, 1, writer.calls)
}

func TestWriteFramedArtifact_SentinelsWrapBody(t *testing.T) {
	out, err := WriteFramedArtifact(model.Artifact{ProgramID: "SAMPLE"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "JSON_START\n"))
	assert.True(t, strings.HasSuffix(out, "\nJSON_END"))
	assert.Contains(t, out, `"program_id": "SAMPLE"`)
}
