// Package flow implements Stage 4 (§4.4): for every leaf structure (one
// that directly contains lines), identify control-flow edges and
// data-reference edges from its lines. Name→id resolution and the
// referential-integrity drop of unresolved edges (§9 "Referential integrity
// at the orchestrator") happen here, where the name lookup maps are built,
// rather than in a separate pass.
package flow

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
	"github.com/cobolgraph/extractor/pkg/retry"
	"github.com/cobolgraph/extractor/pkg/workerpool"
)

var flowSchema = json.RawMessage(`{
	"type":"object",
	"properties":{
		"control_flow":{"type":"array","items":{"type":"object","properties":{
			"line_number":{"type":"integer"},
			"target_structure_name":{"type":"string"},
			"type":{"type":"string","enum":["PERFORM","GO_TO","CALL"]}
		},"required":["line_number","target_structure_name","type"]}},
		"line_references":{"type":"array","items":{"type":"object","properties":{
			"line_number":{"type":"integer"},
			"target_entity_name":{"type":"string"},
			"usage_type":{"type":"string","enum":["READS","WRITES","UPDATES","VALIDATES","OPENS","CLOSES","DECLARATION"]}
		},"required":["line_number","target_entity_name","usage_type"]}}
	},
	"required":["control_flow","line_references"]
}`)

// fileIORules is the explicit disambiguation table carried verbatim from
// original_source's agent4 prompt (§4.4 step 5, SPEC_FULL "File-I/O
// usage-type disambiguation table").
const fileIORules = `CRITICAL FILE I/O RULES:
- OPEN <file> classifies as OPENS, never READS.
- CLOSE <file> classifies as CLOSES.
- READ <file> INTO <var> classifies as file=READS and var=UPDATES.
- WRITE <record> classifies as WRITES.
- REWRITE <record> classifies as UPDATES.`

// Options configures Stage 4.
type Options struct {
	Client            llm.Client
	Retry             retry.Policy
	Concurrency       int
	MaxReferenceChars int
}

// Result is Stage 4's output plus the counts §7's final summary reports.
type Result struct {
	ControlFlow            []model.ControlFlow
	LineReferences         []model.LineReference
	ControlFlowDropped     int
	LineReferencesDropped  int
}

// Extract runs Stage 4 over the leaf structures of the program.
func Extract(ctx context.Context, opt Options, program model.Program, lines []model.SourceLine, structures []model.Structure, entities []model.Entity) Result {
	targets := leafStructures(lines, structures)
	fullCode := fullCodeContext(lines, opt.MaxReferenceChars)

	structureByName := make(map[string]string, len(structures))
	for _, s := range structures {
		structureByName[s.Name] = s.StructureID
	}
	entityByName := make(map[string]string, len(entities))
	for _, e := range entities {
		entityByName[e.Name] = e.EntityID
	}

	knownEntityNames := make([]string, 0, len(entities))
	for _, e := range entities {
		knownEntityNames = append(knownEntityNames, e.Name)
	}
	knownStructureNames := make([]string, 0, len(structures))
	for _, s := range structures {
		knownStructureNames = append(knownStructureNames, s.Name)
	}

	linesByStructure := make(map[string][]model.SourceLine, len(targets))
	for _, l := range lines {
		if l.StructureID != "" {
			linesByStructure[l.StructureID] = append(linesByStructure[l.StructureID], l)
		}
	}

	type perStructureResult struct {
		resp llmschema.FlowResponse
	}
	results, errs := workerpool.RunCollect(ctx, len(targets), opt.Concurrency, func(ctx context.Context, i int) (perStructureResult, error) {
		s := targets[i]
		resp, err := extractForStructure(ctx, opt, s, linesByStructure[s.StructureID], fullCode, knownEntityNames, knownStructureNames)
		return perStructureResult{resp: resp}, err
	})

	var out Result
	for i, err := range errs {
		if err != nil {
			slog.Warn("flow/reference extraction failed for structure, contributing nothing",
				"structure_id", targets[i].StructureID, "error", err)
			continue
		}
		resolveControlFlow(program, results[i].resp.ControlFlow, structureByName, &out)
		resolveLineReferences(program, results[i].resp.LineReferences, entityByName, &out)
	}

	contentByLineID := make(map[string]string, len(lines))
	for _, l := range lines {
		contentByLineID[l.LineID] = l.Content
	}
	enforceFileIORules(out.LineReferences, contentByLineID)

	sort.Slice(out.ControlFlow, func(i, j int) bool { return out.ControlFlow[i].SourceLineID < out.ControlFlow[j].SourceLineID })
	sort.Slice(out.LineReferences, func(i, j int) bool { return out.LineReferences[i].SourceLineID < out.LineReferences[j].SourceLineID })
	return out
}

// leafStructures identifies target structures as those whose structure_id
// appears as any line's structure_id (§4.4 step 1, §9 Open Question ii).
func leafStructures(lines []model.SourceLine, structures []model.Structure) []model.Structure {
	active := make(map[string]bool)
	for _, l := range lines {
		if l.StructureID != "" {
			active[l.StructureID] = true
		}
	}
	out := make([]model.Structure, 0, len(structures))
	for _, s := range structures {
		if active[s.StructureID] {
			out = append(out, s)
		}
	}
	return out
}

func extractForStructure(ctx context.Context, opt Options, s model.Structure, structureLines []model.SourceLine, fullCode string, knownEntities, knownStructures []string) (llmschema.FlowResponse, error) {
	target := fmt.Sprintf("flow.extract[%s]", s.StructureID)

	var resp llmschema.FlowResponse
	err := retry.Do(ctx, target, opt.Retry, func(ctx context.Context) error {
		raw, err := opt.Client.Generate(ctx, target, llm.Request{
			Prompt:          flowPrompt(s, structureLines, fullCode, knownEntities, knownStructures),
			ResponseSchema:  flowSchema,
			Temperature:     0.7,
			MaxOutputTokens: 8192,
		})
		if err != nil {
			return err
		}
		return llmschema.Decode(target, raw, &resp)
	})
	return resp, err
}

func resolveControlFlow(program model.Program, candidates []llmschema.ControlFlowCandidate, structureByName map[string]string, out *Result) {
	for _, c := range candidates {
		targetID, ok := structureByName[c.TargetStructureName]
		if !ok {
			slog.Info("dropping control-flow edge: unknown target structure",
				"target_structure_name", c.TargetStructureName, "line_number", c.LineNumber)
			out.ControlFlowDropped++
			continue
		}
		sourceLineID := model.NewLineID(program.ProgramID, c.LineNumber)
		out.ControlFlow = append(out.ControlFlow, model.ControlFlow{
			FlowID:            model.NewFlowID(sourceLineID),
			SourceLineID:      sourceLineID,
			TargetStructureID: targetID,
			Type:              model.FlowType(c.Type),
		})
	}
}

func resolveLineReferences(program model.Program, candidates []llmschema.LineReferenceCandidate, entityByName map[string]string, out *Result) {
	for _, c := range candidates {
		targetID, ok := entityByName[c.TargetEntityName]
		if !ok {
			slog.Info("dropping line-reference edge: unknown target entity",
				"target_entity_name", c.TargetEntityName, "line_number", c.LineNumber)
			out.LineReferencesDropped++
			continue
		}
		sourceLineID := model.NewLineID(program.ProgramID, c.LineNumber)
		out.LineReferences = append(out.LineReferences, model.LineReference{
			ReferenceID:    model.NewReferenceID(sourceLineID, c.TargetEntityName),
			SourceLineID:   sourceLineID,
			TargetEntityID: targetID,
			UsageType:      model.UsageType(c.UsageType),
		})
	}
}

func flowPrompt(s model.Structure, structureLines []model.SourceLine, fullCode string, knownEntities, knownStructures []string) string {
	var b strings.Builder
	b.WriteString("Identify control-flow transfers (PERFORM/GO TO/CALL) and data references from the " +
		"target lines below, classified by usage type.\n\n")
	b.WriteString(fileIORules)
	b.WriteString("\n\nKNOWN ENTITIES: ")
	b.WriteString(strings.Join(knownEntities, ", "))
	b.WriteString("\nKNOWN PARAGRAPHS: ")
	b.WriteString(strings.Join(knownStructures, ", "))
	b.WriteString("\n\nFULL SOURCE (reference):\n")
	b.WriteString(fullCode)
	fmt.Fprintf(&b, "\n\nTARGET STRUCTURE %s, lines to analyze:\n", s.Name)
	for _, l := range structureLines {
		fmt.Fprintf(&b, "Line %d: %s\n", l.LineNumber, l.Content)
	}
	return b.String()
}

func fullCodeContext(lines []model.SourceLine, maxChars int) string {
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "Line %d: %s\n", l.LineNumber, l.Content)
		if maxChars > 0 && b.Len() >= maxChars {
			break
		}
	}
	s := b.String()
	if maxChars > 0 && len(s) > maxChars {
		s = s[:maxChars]
	}
	return s
}
