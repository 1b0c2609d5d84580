package structure

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobolgraph/extractor/pkg/llm"
	"github.com/cobolgraph/extractor/pkg/model"
	"github.com/cobolgraph/extractor/pkg/retry"
)

func testOptions(client llm.Client) Options {
	return Options{Client: client, Retry: retry.Policy{MaxAttempts: 1, InitialBackoff: time.Millisecond, Multiplier: 1}}
}

func makeLines(n int) []model.SourceLine {
	lines := make([]model.SourceLine, n)
	for i := 0; i < n; i++ {
		lines[i] = model.SourceLine{LineNumber: i + 1, LineType: model.LineTypeCode, Content: "x"}
	}
	return lines
}

func TestIdentify_SeedScenario2_DivisionAndParagraph(t *testing.T) {
	fake := llm.NewFakeClient()
	fake.QueueResponse("structure.identify", json.RawMessage(`{"structures":[
		{"name":"PROCEDURE DIVISION","type":"DIVISION","start_line":10},
		{"name":"MAIN-PARA","type":"PARAGRAPH","start_line":20}
	]}`))

	program := model.Program{ProgramID: "P", TotalLines: 100}
	structures, _, err := Identify(context.Background(), testOptions(fake), program, makeLines(100))
	require.NoError(t, err)
	require.Len(t, structures, 2)

	division := structures[0]
	paragraph := structures[1]
	assert.Equal(t, 100, division.EndLineNumber)
	assert.Equal(t, 100, paragraph.EndLineNumber)
	assert.Equal(t, division.StructureID, paragraph.ParentStructureID)
}

func TestIdentify_EndLineCollidesWithNextStart(t *testing.T) {
	fake := llm.NewFakeClient()
	fake.QueueResponse("structure.identify", json.RawMessage(`{"structures":[
		{"name":"A","type":"SECTION","start_line":1},
		{"name":"B","type":"SECTION","start_line":10}
	]}`))

	program := model.Program{ProgramID: "P", TotalLines: 20}
	structures, _, err := Identify(context.Background(), testOptions(fake), program, makeLines(20))
	require.NoError(t, err)
	assert.Equal(t, 9, structures[0].EndLineNumber)
	assert.Equal(t, 20, structures[1].EndLineNumber)
}

func TestIdentify_OutOfBoundsStartDiscarded(t *testing.T) {
	fake := llm.NewFakeClient()
	fake.QueueResponse("structure.identify", json.RawMessage(`{"structures":[
		{"name":"A","type":"SECTION","start_line":1},
		{"name":"BAD","type":"SECTION","start_line":999}
	]}`))

	program := model.Program{ProgramID: "P", TotalLines: 20}
	structures, _, err := Identify(context.Background(), testOptions(fake), program, makeLines(20))
	require.NoError(t, err)
	require.Len(t, structures, 1)
	assert.Equal(t, "A", structures[0].Name)
}

func TestIdentify_SeedScenario1_EmptyStructuresCompletesCleanly(t *testing.T) {
	fake := llm.NewFakeClient()
	fake.QueueResponse("structure.identify", json.RawMessage(`{"structures":[]}`))

	program := model.Program{ProgramID: "P", TotalLines: 1}
	lines := []model.SourceLine{{LineNumber: 1, LineType: model.LineTypeCode, Content: "PROGRAM-ID. FOO."}}
	structures, enriched, err := Identify(context.Background(), testOptions(fake), program, lines)
	require.NoError(t, err)
	assert.Empty(t, structures)
	require.Len(t, enriched, 1)
	assert.Empty(t, enriched[0].StructureID)
}

func TestIdentify_InnermostStructureWinsLineAssignment(t *testing.T) {
	fake := llm.NewFakeClient()
	fake.QueueResponse("structure.identify", json.RawMessage(`{"structures":[
		{"name":"DIV","type":"DIVISION","start_line":1},
		{"name":"PARA","type":"PARAGRAPH","start_line":5}
	]}`))

	program := model.Program{ProgramID: "P", TotalLines: 10}
	structures, enriched, err := Identify(context.Background(), testOptions(fake), program, makeLines(10))
	require.NoError(t, err)

	div := structures[0]
	para := structures[1]
	assert.Equal(t, div.StructureID, enriched[0].StructureID) // line 1 → DIVISION
	assert.Equal(t, para.StructureID, enriched[6].StructureID) // line 7 → PARAGRAPH (innermost)
}
