package ingest

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
	return Options{
		Client:      client,
		Retry:       retry.Policy{MaxAttempts: 1, InitialBackoff: time.Millisecond, Multiplier: 1},
		Concurrency: 4,
	}
}

func TestIngest_SeedScenario1_SingleProgramIDLine(t *testing.T) {
	fake := llm.NewFakeClient()
	fake.QueueResponse("ingest.program_id", json.RawMessage(`{"program_id":"FOO"}`))
	fake.QueueResponse("ingest.classify_line[1]", json.RawMessage(`"CODE"`))

	program, lines, err := Ingest(context.Background(), testOptions(fake), "       PROGRAM-ID. FOO.", "foo.cbl")
	require.NoError(t, err)

	assert.Equal(t, "FOO", program.ProgramID)
	assert.Equal(t, 1, program.TotalLines)
	require.Len(t, lines, 1)
	assert.Equal(t, "FOO_1", lines[0].LineID)
	assert.Equal(t, model.LineTypeCode, lines[0].LineType)
}

func TestIngest_ProgramIDFailure_FallsBackToFilenameStem(t *testing.T) {
	fake := llm.NewFakeClient()
	fake.QueueError("ingest.program_id", assertErr("boom"))
	fake.QueueResponse("ingest.classify_line[1]", json.RawMessage(`"COMMENT"`))

	program, _, err := Ingest(context.Background(), testOptions(fake), "* A COMMENT", "MyProg.cbl")
	require.NoError(t, err)
	assert.Equal(t, "MYPROG", program.ProgramID)
}

func TestIngest_LineClassificationFailure_DefaultsToCode(t *testing.T) {
	fake := llm.NewFakeClient()
	fake.QueueResponse("ingest.program_id", json.RawMessage(`{"program_id":"X"}`))
	fake.QueueError("ingest.classify_line[1]", assertErr("transient"))

	_, lines, err := Ingest(context.Background(), testOptions(fake), "SOME LINE", "x.cbl")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, model.LineTypeCode, lines[0].LineType)
}

func TestIngest_EmptySource_ZeroLines(t *testing.T) {
	fake := llm.NewFakeClient()
	program, lines, err := Ingest(context.Background(), testOptions(fake), "", "empty.cbl")
	require.NoError(t, err)
	assert.Equal(t, 0, program.TotalLines)
	assert.Empty(t, lines)
	assert.Equal(t, "EMPTY", program.ProgramID)
}

func TestIngest_LineNumbersAreDenseAndContiguous(t *testing.T) {
	fake := llm.NewFakeClient()
	fake.QueueResponse("ingest.program_id", json.RawMessage(`{"program_id":"P"}`))
	for i := 1; i <= 3; i++ {
		fake.QueueResponse(targetFor(i), json.RawMessage(`"CODE"`))
	}

	_, lines, err := Ingest(context.Background(), testOptions(fake), "one\ntwo\nthree", "p.cbl")
	require.NoError(t, err)
	require.Len(t, lines, 3)
	for i, l := range lines {
		assert.Equal(t, i+1, l.LineNumber)
	}
}

func targetFor(lineNumber int) string {
	return "ingest.classify_line[" + itoa(lineNumber) + "]"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

type assertErrT string

func (e assertErrT) Error() string { return string(e) }

func assertErr(msg string) error { return assertErrT(msg) }
