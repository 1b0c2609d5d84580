// Package entities implements Stage 3 (§4.3): enumerate every data entity
// the program defines or references, then reconcile records that share a
// name across structures into one record per entity. Phase A is local and
// embarrassingly parallel; Phase B is serialized per name so the LLM sees
// one conflict at a time (§4.3 "Rationale").
package entities

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
	"github.com/cobolgraph/extractor/pkg/workerpool"
)

var (
	entitiesSchema = json.RawMessage(`{
		"type":"object",
		"properties":{"found_entities":{"type":"array","items":{"type":"object","properties":{
			"entity_name":{"type":"string"},
			"entity_type":{"type":"string","enum":["FILE","VARIABLE","COPYBOOK"]},
			"definition_line_id":{"type":"string"},
			"description":{"type":"string"}
		},"required":["entity_name","entity_type"]}}},
		"required":["found_entities"]
	}`)
	reconcileSchema = json.RawMessage(`{
		"type":"object",
		"properties":{
			"split":{"type":"boolean"},
			"rename_suffix":{"type":"string"},
			"merged":{"type":"object","properties":{
				"entity_name":{"type":"string"},
				"entity_type":{"type":"string","enum":["FILE","VARIABLE","COPYBOOK"]},
				"definition_line_id":{"type":"string"},
				"description":{"type":"string"}
			}}
		},
		"required":["split"]
	}`)
)

// Options configures Stage 3.
type Options struct {
	Client            llm.Client
	Retry             retry.Policy
	Concurrency       int
	MaxReferenceChars int
}

// candidate is one Phase A extraction, carrying enough context for Phase B
// and for building deterministic entity ids.
type candidate struct {
	EntityName       string
	EntityType       model.EntityType
	DefinitionLineID string
	Description      string
	RenameSuffix     string
}

// Extract runs both phases of Stage 3 and returns the reconciled, unique-
// by-id entity set plus before/after counts for the run summary (§7).
func Extract(ctx context.Context, opt Options, program model.Program, lines []model.SourceLine, structures []model.Structure) ([]model.Entity, int, int) {
	fullProgram := fullProgramContext(lines, opt.MaxReferenceChars)

	candidates := extractPhaseA(ctx, opt, program, lines, structures, fullProgram)
	before := len(candidates)

	entities := reconcile(ctx, opt, program, candidates)
	return entities, before, len(entities)
}

// extractPhaseA fans out one worker call per structure (§4.3 Phase A) and
// flattens results in structure order, which is what gives Phase B its
// first-seen-order fold.
func extractPhaseA(ctx context.Context, opt Options, program model.Program, lines []model.SourceLine, structures []model.Structure, fullProgram string) []candidate {
	linesByStructure := groupLinesByStructure(lines, structures)

	perStructure, errs := workerpool.RunCollect(ctx, len(structures), opt.Concurrency, func(ctx context.Context, i int) ([]candidate, error) {
		return extractForStructure(ctx, opt, structures[i], linesByStructure[structures[i].StructureID], fullProgram)
	})

	all := make([]candidate, 0, len(structures)*4)
	for i, err := range errs {
		if err != nil {
			slog.Warn("entity extraction failed for structure, contributing no entities",
				"structure_id", structures[i].StructureID, "error", err)
			continue
		}
		all = append(all, perStructure[i]...)
	}
	return all
}

func extractForStructure(ctx context.Context, opt Options, s model.Structure, structureLines []model.SourceLine, fullProgram string) ([]candidate, error) {
	target := fmt.Sprintf("entities.extract[%s]", s.StructureID)

	var resp llmschema.EntitiesResponse
	err := retry.Do(ctx, target, opt.Retry, func(ctx context.Context) error {
		raw, err := opt.Client.Generate(ctx, target, llm.Request{
			Prompt:          extractPrompt(s, structureLines, fullProgram),
			ResponseSchema:  entitiesSchema,
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
		return nil, err
	}

	out := make([]candidate, 0, len(resp.FoundEntities))
	for _, e := range resp.FoundEntities {
		out = append(out, candidate{
			EntityName:       e.EntityName,
			EntityType:       model.EntityType(e.EntityType),
			DefinitionLineID: e.DefinitionLineID,
			Description:      e.Description,
		})
	}
	return out, nil
}

// reconcile runs Phase B: group by normalized name, then resolve each
// multi-candidate group independently (groups run concurrently; conflicts
// within a group are folded one at a time, per §4.3).
func reconcile(ctx context.Context, opt Options, program model.Program, candidates []candidate) []model.Entity {
	groups, order := groupByNormalizedName(candidates)

	resolved, _ := workerpool.RunCollect(ctx, len(order), opt.Concurrency, func(ctx context.Context, i int) ([]model.Entity, error) {
		key := order[i]
		return resolveGroup(ctx, opt, program, groups[key])
	})

	// A group may legitimately split into more than one entity (§4.3's
	// resolve mode (b)); resolveGroup already renamed and emitted the
	// split-off records, so this pass only needs to flatten and dedupe.
	entities := make([]model.Entity, 0, len(resolved))
	seen := make(map[string]bool, len(resolved))
	for _, group := range resolved {
		for _, e := range group {
			if e.EntityID == "" || seen[e.EntityID] {
				continue
			}
			seen[e.EntityID] = true
			entities = append(entities, e)
		}
	}
	return entities
}

func groupLinesByStructure(lines []model.SourceLine, structures []model.Structure) map[string][]model.SourceLine {
	out := make(map[string][]model.SourceLine, len(structures))
	for _, l := range lines {
		if l.StructureID == "" {
			continue
		}
		out[l.StructureID] = append(out[l.StructureID], l)
	}
	return out
}

// groupByNormalizedName groups candidates by upper(trim(name)), returning
// the groups plus the order keys first appeared in (§4.3, §9 Open Question
// i: case-insensitive grouping, first-observed casing preserved).
func groupByNormalizedName(candidates []candidate) (map[string][]candidate, []string) {
	groups := make(map[string][]candidate)
	var order []string
	for _, c := range candidates {
		key := strings.ToUpper(strings.TrimSpace(c.EntityName))
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}
	return groups, order
}

// resolveGroup folds a name-group's candidates into one master Entity, plus
// one extra Entity for every candidate the LLM judges genuinely distinct
// (§4.3 resolve mode (b): "split: renaming the duplicates by suffixing with
// the defining line number or containing structure name"). A single-candidate
// group passes through unchanged, matching §8's "identity" idempotence law.
func resolveGroup(ctx context.Context, opt Options, program model.Program, group []candidate) ([]model.Entity, error) {
	if len(group) == 0 {
		return nil, nil
	}

	master := group[0]
	firstSeenName := master.EntityName
	var splitOff []candidate

	for _, next := range group[1:] {
		merged, split, err := resolveOne(ctx, opt, master, next)
		if err != nil {
			slog.Warn("entity reconciliation failed, keeping first candidate",
				"entity_name", firstSeenName, "error", err)
			continue
		}
		if split != nil {
			splitOff = append(splitOff, *split)
			continue
		}
		master = merged
	}

	entities := make([]model.Entity, 0, 1+len(splitOff))
	entities = append(entities, model.Entity{
		EntityID:         model.NewEntityID(program.ProgramID, firstSeenName),
		ProgramID:        program.ProgramID,
		Name:             firstSeenName,
		Type:             master.EntityType,
		DefinitionLineID: master.DefinitionLineID,
		Description:      master.Description,
	})
	for i, c := range splitOff {
		name := renamedSplitName(c, i)
		entities = append(entities, model.Entity{
			EntityID:         model.NewEntityID(program.ProgramID, name),
			ProgramID:        program.ProgramID,
			Name:             name,
			Type:             c.EntityType,
			DefinitionLineID: c.DefinitionLineID,
			Description:      c.Description,
		})
	}
	return entities, nil
}

// renamedSplitName disambiguates a split-off candidate's name so it doesn't
// collide with the master entity it shares a raw name with. It prefers the
// LLM's own suggested suffix (a defining line or containing structure name,
// per §4.3) and falls back to the candidate's definition line, then an
// ordinal, if the LLM left it blank.
func renamedSplitName(c candidate, ordinal int) string {
	suffix := c.RenameSuffix
	if suffix == "" {
		suffix = c.DefinitionLineID
	}
	if suffix == "" {
		return fmt.Sprintf("%s#%d", c.EntityName, ordinal+2)
	}
	return fmt.Sprintf("%s#%s", c.EntityName, suffix)
}

// resolveOne asks the model to reconcile two candidates sharing a name. It
// returns either a merged candidate (to become the new master) or, when the
// model reports a genuine split, the first candidate unchanged plus the
// second candidate carrying the model's RenameSuffix; the caller applies
// that suffix to the name when it emits the second as its own entity.
func resolveOne(ctx context.Context, opt Options, a, b candidate) (merged candidate, split *candidate, err error) {
	target := fmt.Sprintf("entities.resolve[%s]", a.EntityName)

	var resp llmschema.ReconcileResponse
	err = retry.Do(ctx, target, opt.Retry, func(ctx context.Context) error {
		raw, err := opt.Client.Generate(ctx, target, llm.Request{
			Prompt:          resolvePrompt(a, b),
			ResponseSchema:  reconcileSchema,
			Temperature:     0.0,
			MaxOutputTokens: 1024,
		})
		if err != nil {
			return err
		}
		return llmschema.Decode(target, raw, &resp)
	})
	if err != nil {
		return candidate{}, nil, err
	}

	if resp.Split {
		b.RenameSuffix = resp.RenameSuffix
		return a, &b, nil
	}

	return candidate{
		EntityName:       a.EntityName, // first-seen casing preserved
		EntityType:       model.EntityType(resp.Merged.EntityType),
		DefinitionLineID: resp.Merged.DefinitionLineID,
		Description:      resp.Merged.Description,
	}, nil, nil
}

func extractPrompt(s model.Structure, structureLines []model.SourceLine, fullProgram string) string {
	var b strings.Builder
	b.WriteString("Enumerate every data entity (FILE, VARIABLE, COPYBOOK) defined or referenced in the " +
		"following structure. Use the full program as read-only reference context; do not expand COPYBOOK " +
		"contents, only record them as entities.\n\n")
	b.WriteString("FULL PROGRAM (reference):\n")
	b.WriteString(fullProgram)
	fmt.Fprintf(&b, "\n\nSTRUCTURE %s (%s), lines %d-%d:\n", s.Name, s.Type, s.StartLineNumber, s.EndLineNumber)
	for _, l := range structureLines {
		fmt.Fprintf(&b, "Line %d [%s]: %s\n", l.LineNumber, l.LineID, l.Content)
	}
	return b.String()
}

func resolvePrompt(a, b candidate) string {
	return fmt.Sprintf(
		"Two extracted records refer to the same entity name. Merge them into one record, preserving "+
			"every distinct attribute and choosing the most definitive definition_line_id (a SELECT/FD/"+
			"declaration site dominates a use site; on ties the lower line number wins). If they are in "+
			"fact distinct entities, set split=true instead.\n\n"+
			"Record A (existing master): name=%s type=%s definition_line_id=%s description=%s\n"+
			"Record B (new candidate): name=%s type=%s definition_line_id=%s description=%s\n",
		a.EntityName, a.EntityType, a.DefinitionLineID, a.Description,
		b.EntityName, b.EntityType, b.DefinitionLineID, b.Description,
	)
}

// fullProgramContext renders every non-BLANK line as reference context, truncated at
// maxChars so oversized programs don't overrun the LLM's context window
// (original_source agent4's 50000-char truncation, generalized per SPEC_FULL).
func fullProgramContext(lines []model.SourceLine, maxChars int) string {
	var b strings.Builder
	for _, l := range lines {
		if l.LineType == model.LineTypeBlank {
			continue
		}
		fmt.Fprintf(&b, "Line %d [%s]: %s\n", l.LineNumber, l.LineID, l.Content)
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
