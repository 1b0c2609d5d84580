// Package structure implements Stage 2 (§4.2): recover the hierarchical
// structure (divisions, sections, paragraphs) and assign each line to its
// innermost enclosing structure. The LLM proposes structure starts only;
// every other invariant — end lines, parent links, per-line assignment — is
// recomputed deterministically here, never trusted from the model (§9).
package structure

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/cobolgraph/extractor/pkg/llm"
	"github.com/cobolgraph/extractor/pkg/llmschema"
	"github.com/cobolgraph/extractor/pkg/model"
	"github.com/cobolgraph/extractor/pkg/pipelineerr"
	"github.com/cobolgraph/extractor/pkg/retry"
)

var structuresSchema = json.RawMessage(`{
	"type":"object",
	"properties":{
		"structures":{"type":"array","items":{"type":"object","properties":{
			"name":{"type":"string"},
			"type":{"type":"string","enum":["DIVISION","SECTION","PARAGRAPH"]},
			"start_line":{"type":"integer"}
		},"required":["name","type","start_line"]}}
	},
	"required":["structures"]
}`)

// Options configures Stage 2.
type Options struct {
	Client llm.Client
	Retry  retry.Policy
}

// Identify runs Stage 2. It returns the derived Structure set plus the
// input lines enriched with their assigned structure_id. A failure to
// obtain or parse a response from the LLM is stage-fatal per §4.2/§7; a
// parsed response naming zero structures is not — a program with no
// division/section/paragraph headers (e.g. a bare PROGRAM-ID line) legitimately
// has an empty structure set, and the pipeline completes with the Program
// row alone.
func Identify(ctx context.Context, opt Options, program model.Program, lines []model.SourceLine) ([]model.Structure, []model.SourceLine, error) {
	const target = "structure.identify"

	var resp llmschema.StructuresResponse
	err := retry.Do(ctx, target, opt.Retry, func(ctx context.Context) error {
		raw, err := opt.Client.Generate(ctx, target, llm.Request{
			Prompt:          identifyPrompt(lines),
			ResponseSchema:  structuresSchema,
			Temperature:     1.0,
			ThinkingLevel:   "HIGH",
			MaxOutputTokens: 8192,
		})
		if err != nil {
			return err
		}
		return llmschema.Decode(target, raw, &resp)
	})
	if err != nil {
		return nil, nil, pipelineerr.NewStageFatal("structure", err)
	}

	structures := buildStructures(program, resp.Structures)
	enriched := assignLinesToStructures(lines, structures)
	return structures, enriched, nil
}

// buildStructures discards out-of-bounds candidates, sorts by start line,
// derives end_line_number and parent_structure_id deterministically, and
// computes each structure_id (§4.2 steps 2-5).
func buildStructures(program model.Program, candidates []llmschema.StructureCandidate) []model.Structure {
	valid := make([]llmschema.StructureCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.StartLine < 1 || c.StartLine > program.TotalLines {
			slog.Warn("discarding structure with out-of-bounds start line",
				"name", c.Name, "start_line", c.StartLine, "total_lines", program.TotalLines)
			continue
		}
		valid = append(valid, c)
	}

	sort.SliceStable(valid, func(i, j int) bool { return valid[i].StartLine < valid[j].StartLine })

	structures := make([]model.Structure, len(valid))
	for i, c := range valid {
		typ := model.StructureType(c.Type)
		structures[i] = model.Structure{
			StructureID:     model.NewStructureID(program.ProgramID, c.Name),
			ProgramID:       program.ProgramID,
			Name:            c.Name,
			Type:            typ,
			StartLineNumber: c.StartLine,
		}
	}

	for i := range structures {
		structures[i].EndLineNumber = computeEndLine(structures, i, program.TotalLines)
		structures[i].ParentStructureID = computeParent(structures, i)
	}
	return structures
}

// computeEndLine finds the start of the next structure whose rank is ≤ the
// current structure's rank (i.e. equal or outer), or total_lines if none
// exists (§4.2 step 3).
func computeEndLine(structures []model.Structure, i, totalLines int) int {
	rank := structures[i].Type.Rank()
	for j := i + 1; j < len(structures); j++ {
		if structures[j].Type.Rank() <= rank {
			return structures[j].StartLineNumber - 1
		}
	}
	return totalLines
}

// computeParent finds the closest preceding structure with strictly lower
// rank value (a strictly outer structure), per §4.2 step 4.
func computeParent(structures []model.Structure, i int) string {
	rank := structures[i].Type.Rank()
	for j := i - 1; j >= 0; j-- {
		if structures[j].Type.Rank() < rank {
			return structures[j].StructureID
		}
	}
	return ""
}

// assignLinesToStructures builds the line→structure map by iterating
// structures in ascending rank so innermost (highest-rank) entries overwrite
// outer ones (§4.2 step 6).
func assignLinesToStructures(lines []model.SourceLine, structures []model.Structure) []model.SourceLine {
	byRank := make([]model.Structure, len(structures))
	copy(byRank, structures)
	sort.SliceStable(byRank, func(i, j int) bool { return byRank[i].Type.Rank() < byRank[j].Type.Rank() })

	assignment := make(map[int]string, len(lines))
	for _, s := range byRank {
		for ln := s.StartLineNumber; ln <= s.EndLineNumber; ln++ {
			assignment[ln] = s.StructureID
		}
	}

	enriched := make([]model.SourceLine, len(lines))
	for i, l := range lines {
		enriched[i] = l
		if id, ok := assignment[l.LineNumber]; ok {
			enriched[i].StructureID = id
		}
	}
	return enriched
}

func identifyPrompt(lines []model.SourceLine) string {
	var b strings.Builder
	b.WriteString("Identify the hierarchical structure (DIVISION, SECTION, PARAGRAPH headers) of the " +
		"following numbered COBOL source. Return only the name, type, and start_line of each header; " +
		"do not invent end lines.\n\n")
	for _, l := range lines {
		fmt.Fprintf(&b, "%d [%s]: %s\n", l.LineNumber, l.LineType, l.Content)
	}
	return b.String()
}
