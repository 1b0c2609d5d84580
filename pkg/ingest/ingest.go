// Package ingest implements Stage 1 (§4.1): turn a raw source blob into a
// deterministic numbered line catalog and extract the program's header
// identifier.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cobolgraph/extractor/pkg/llm"
	"github.com/cobolgraph/extractor/pkg/llmschema"
	"github.com/cobolgraph/extractor/pkg/model"
	"github.com/cobolgraph/extractor/pkg/retry"
	"github.com/cobolgraph/extractor/pkg/source"
	"github.com/cobolgraph/extractor/pkg/workerpool"
)

// slidingWindow is the number of raw context lines on each side of the
// target line sent with a classification call (original_source agent1).
const slidingWindow = 25

// programIDSchema and lineTypeSchema are the constrained response schemas
// sent alongside each call (§6). They are descriptive JSON Schema documents;
// llmschema.Decode checks the program_id response after the fact, and
// validateLineType checks the line type against the same closed set.
var (
	programIDSchema = json.RawMessage(`{"type":"object","properties":{"program_id":{"type":"string"}},"required":["program_id"]}`)
	lineTypeSchema  = json.RawMessage(`{"type":"string","enum":["CODE","COMMENT","BLANK","DIRECTIVE"]}`)
)

// Options configures Stage 1.
type Options struct {
	Client      llm.Client
	Retry       retry.Policy
	Concurrency int
}

// Ingest runs Stage 1 over raw source text, returning the Program record and
// one SourceLine per 1-based line. Per §4.1's failure semantics, a failed
// program-id call falls back to the uppercased filename stem, and a failed
// line classification defaults that line's type to CODE — neither failure
// aborts the stage.
func Ingest(ctx context.Context, opt Options, text, fileName string) (model.Program, []model.SourceLine, error) {
	lines := splitLines(text)
	total := len(lines)

	programID := extractProgramID(ctx, opt, text, fileName)

	classifications := classifyAll(ctx, opt, lines)

	sourceLines := make([]model.SourceLine, total)
	for i, raw := range lines {
		lineNumber := i + 1
		sourceLines[i] = model.SourceLine{
			LineID:     model.NewLineID(programID, lineNumber),
			ProgramID:  programID,
			LineNumber: lineNumber,
			Content:    raw,
			LineType:   classifications[i],
		}
	}

	program := model.Program{
		ProgramID:   programID,
		ProgramName: programID,
		FileName:    fileName,
		TotalLines:  total,
	}
	return program, sourceLines, nil
}

// splitLines splits on newline boundaries, preserving content and stripping
// the trailing newline (§4.1). Both \n and \r\n are treated as boundaries.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	// A single trailing newline does not produce a phantom final blank line;
	// anything beyond that is a real blank line, matching §3's "total_lines
	// equals the count of newline-delimited lines" for the common case of a
	// file that does or doesn't end with a trailing newline.
	normalized = strings.TrimSuffix(normalized, "\n")
	if normalized == "" {
		return []string{""}
	}
	return strings.Split(normalized, "\n")
}

func extractProgramID(ctx context.Context, opt Options, text, fileName string) string {
	const target = "ingest.program_id"
	if strings.TrimSpace(text) == "" {
		return source.FilenameStem(fileName)
	}

	var programID string
	err := retry.Do(ctx, target, opt.Retry, func(ctx context.Context) error {
		raw, err := opt.Client.Generate(ctx, target, llm.Request{
			Prompt:         programIDPrompt(text),
			ResponseSchema: programIDSchema,
			Temperature:    0.0,
			MaxOutputTokens: 256,
		})
		if err != nil {
			return err
		}
		var resp llmschema.ProgramIDResponse
		if err := llmschema.Decode(target, raw, &resp); err != nil {
			return err
		}
		programID = strings.ToUpper(strings.TrimSpace(resp.ProgramID))
		return nil
	})
	if err != nil || programID == "" {
		slog.Warn("program_id extraction failed, falling back to filename stem", "file_name", fileName, "error", err)
		return source.FilenameStem(fileName)
	}
	return programID
}

func programIDPrompt(text string) string {
	return fmt.Sprintf(
		"Identify the PROGRAM-ID of the following COBOL source. Respond with a JSON object "+
			"{\"program_id\": string} containing only the identifier, uppercased.\n\n%s", text)
}

func classifyAll(ctx context.Context, opt Options, lines []string) []model.LineType {
	results, errs := workerpool.RunCollect(ctx, len(lines), opt.Concurrency, func(ctx context.Context, i int) (model.LineType, error) {
		return classifyLine(ctx, opt, lines, i)
	})
	for i, err := range errs {
		if err != nil {
			slog.Warn("line classification failed, defaulting to CODE", "line_number", i+1, "error", err)
			results[i] = model.LineTypeCode
		}
	}
	return results
}

func classifyLine(ctx context.Context, opt Options, lines []string, i int) (model.LineType, error) {
	target := fmt.Sprintf("ingest.classify_line[%d]", i+1)

	var lineType model.LineType
	err := retry.Do(ctx, target, opt.Retry, func(ctx context.Context) error {
		raw, err := opt.Client.Generate(ctx, target, llm.Request{
			Prompt:          classifyPrompt(lines, i),
			ResponseSchema:  lineTypeSchema,
			Temperature:     0.0,
			MaxOutputTokens: 32,
		})
		if err != nil {
			return err
		}
		s, err := llmschema.DecodeBareString(target, raw)
		if err != nil {
			return err
		}
		classification := llmschema.LineClassification{LineType: s}
		if err := validateLineType(target, classification); err != nil {
			return err
		}
		lineType = model.LineType(classification.LineType)
		return nil
	})
	if err != nil {
		return model.LineTypeCode, err
	}
	return lineType, nil
}

func validateLineType(target string, c llmschema.LineClassification) error {
	switch model.LineType(c.LineType) {
	case model.LineTypeCode, model.LineTypeComment, model.LineTypeBlank, model.LineTypeDirective:
		return nil
	default:
		return fmt.Errorf("%s: unrecognized line type %q", target, c.LineType)
	}
}

func classifyPrompt(lines []string, i int) string {
	start := i - slidingWindow
	if start < 0 {
		start = 0
	}
	end := i + slidingWindow
	if end >= len(lines) {
		end = len(lines) - 1
	}

	var b strings.Builder
	b.WriteString("Classify line ")
	fmt.Fprintf(&b, "%d", i+1)
	b.WriteString(" of the following COBOL source window as exactly one of CODE, COMMENT, BLANK, or DIRECTIVE. ")
	b.WriteString("Respond with a bare JSON string containing only the classification.\n\n")
	for ln := start; ln <= end; ln++ {
		marker := "  "
		if ln == i {
			marker = ">>"
		}
		fmt.Fprintf(&b, "%s %d: %s\n", marker, ln+1, lines[ln])
	}
	return b.String()
}
