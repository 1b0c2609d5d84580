// Package orchestrator drives the five-stage DAG in order (§5), streams
// progress over a channel the way tarsy's pkg/events streams timeline
// events but without the websocket/pub-sub machinery a single-invocation
// CLI/HTTP run doesn't need, and emits the final artifact framed with the
// JSON_START/JSON_END sentinels original_source's orchestrator used (§4.6,
// §6). Cancellation follows pkg/queue/worker.go's ctx.Done()-checked loop
// shape: stop dispatching new work, let in-flight calls finish or time out,
// and never commit a partial writer transaction.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cobolgraph/extractor/pkg/config"
	"github.com/cobolgraph/extractor/pkg/entities"
	"github.com/cobolgraph/extractor/pkg/flow"
	"github.com/cobolgraph/extractor/pkg/ingest"
	"github.com/cobolgraph/extractor/pkg/llm"
	"github.com/cobolgraph/extractor/pkg/model"
	"github.com/cobolgraph/extractor/pkg/pipelineerr"
	"github.com/cobolgraph/extractor/pkg/retry"
	"github.com/cobolgraph/extractor/pkg/source"
	"github.com/cobolgraph/extractor/pkg/structure"
)

// Writer is the seam pkg/writer.Write satisfies, kept as an interface here
// so orchestrator tests don't need a live Postgres (tarsy's SessionExecutor
// interface plays the same role for pkg/queue.Worker).
type Writer interface {
	Write(ctx context.Context, artifact model.Artifact, commitTime time.Time) error
}

// Stage identifies one of the five pipeline stages for progress events.
type Stage string

const (
	StageIngest    Stage = "ingest"
	StageStructure Stage = "structure"
	StageEntities  Stage = "entities"
	StageFlow      Stage = "flow"
	StageWrite     Stage = "write"
)

// EventStatus is the lifecycle point an Event reports.
type EventStatus string

const (
	StatusStarted   EventStatus = "started"
	StatusCompleted EventStatus = "completed"
	StatusFailed    EventStatus = "failed"
	StatusCancelled EventStatus = "cancelled"
)

// Event is one progress notification emitted during Run. Consumers (pkg/api's
// streaming handler, a CLI's stderr writer) render these as NDJSON or plain
// text; orchestrator itself doesn't know the transport.
type Event struct {
	RunID   string        `json:"run_id"`
	Stage   Stage         `json:"stage"`
	Status  EventStatus   `json:"status"`
	Message string        `json:"message,omitempty"`
	Counts  *model.Counts `json:"counts,omitempty"`
}

// Deps bundles the collaborators Run needs. LLMClient and SourceFetcher are
// interfaces so tests substitute fakes; GraphWriter is optional (nil skips
// stage 5, useful for a dry-run / preview invocation).
type Deps struct {
	LLMClient     llm.Client
	SourceFetcher source.Fetcher
	GraphWriter   Writer
	Config        config.Config
}

// Run executes all five stages in order against ref, emitting Events to
// events (if non-nil; Run never blocks if the channel has no reader beyond
// normal send semantics, so callers should buffer or drain concurrently).
// It returns the final artifact, its counts, and the first fatal error.
func Run(ctx context.Context, deps Deps, ref source.Ref, events chan<- Event) (model.Artifact, model.Counts, error) {
	runID := uuid.NewString()
	var counts model.Counts

	emit := func(stage Stage, status EventStatus, msg string) {
		if events == nil {
			return
		}
		select {
		case events <- Event{RunID: runID, Stage: stage, Status: status, Message: msg}:
		case <-ctx.Done():
		}
	}
	emitFinal := func(stage Stage, status EventStatus, msg string, c model.Counts) {
		if events == nil {
			return
		}
		select {
		case events <- Event{RunID: runID, Stage: stage, Status: status, Message: msg, Counts: &c}:
		case <-ctx.Done():
		}
	}

	retryPolicy := retry.Policy{
		MaxAttempts:    deps.Config.Retry.MaxAttempts,
		InitialBackoff: deps.Config.Retry.InitialBackoff,
		Multiplier:     deps.Config.Retry.Multiplier,
	}

	// Stage 0: fetch.
	text, fileName, err := deps.SourceFetcher.Fetch(ctx, ref)
	if err != nil {
		return model.Artifact{}, counts, err
	}

	// Stage 1: ingest.
	emit(StageIngest, StatusStarted, "")
	program, lines, err := ingest.Ingest(ctx, ingest.Options{
		Client:      deps.LLMClient,
		Retry:       retryPolicy,
		Concurrency: deps.Config.Stages.IngestConcurrency,
	}, text, fileName)
	if err != nil {
		emit(StageIngest, StatusFailed, err.Error())
		return model.Artifact{}, counts, err
	}
	counts.LinesClassified = len(lines)
	emit(StageIngest, StatusCompleted, fmt.Sprintf("%d lines", len(lines)))

	if err := ctx.Err(); err != nil {
		emit(StageStructure, StatusCancelled, "")
		return model.Artifact{}, counts, err
	}

	// Stage 2: structure.
	emit(StageStructure, StatusStarted, "")
	structures, lines, err := structure.Identify(ctx, structure.Options{
		Client: deps.LLMClient,
		Retry:  retryPolicy,
	}, program, lines)
	if err != nil {
		emit(StageStructure, StatusFailed, err.Error())
		return model.Artifact{}, counts, err
	}
	counts.StructuresFound = len(structures)
	emit(StageStructure, StatusCompleted, fmt.Sprintf("%d structures", len(structures)))

	if err := ctx.Err(); err != nil {
		emit(StageEntities, StatusCancelled, "")
		return model.Artifact{}, counts, err
	}

	// Stage 3: entities.
	emit(StageEntities, StatusStarted, "")
	entityList, before, after := entities.Extract(ctx, entities.Options{
		Client:            deps.LLMClient,
		Retry:             retryPolicy,
		Concurrency:       deps.Config.Stages.EntityConcurrency,
		MaxReferenceChars: deps.Config.MaxReferenceChars,
	}, program, lines, structures)
	counts.EntitiesBeforeMerge = before
	counts.EntitiesAfterMerge = after
	emit(StageEntities, StatusCompleted, fmt.Sprintf("%d -> %d entities", before, after))

	if err := ctx.Err(); err != nil {
		emit(StageFlow, StatusCancelled, "")
		return model.Artifact{}, counts, err
	}

	// Stage 4: flow.
	emit(StageFlow, StatusStarted, "")
	flowResult := flow.Extract(ctx, flow.Options{
		Client:            deps.LLMClient,
		Retry:             retryPolicy,
		Concurrency:       deps.Config.Stages.FlowConcurrency,
		MaxReferenceChars: deps.Config.MaxReferenceChars,
	}, program, lines, structures, entityList)
	counts.ControlFlowResolved = len(flowResult.ControlFlow)
	counts.ControlFlowDropped = flowResult.ControlFlowDropped
	counts.LineReferencesResolved = len(flowResult.LineReferences)
	counts.LineReferencesDropped = flowResult.LineReferencesDropped
	emit(StageFlow, StatusCompleted, fmt.Sprintf("%d control-flow, %d references",
		len(flowResult.ControlFlow), len(flowResult.LineReferences)))

	artifact := model.Artifact{
		ProgramID:   program.ProgramID,
		Program:     program,
		SourceLines: lines,
		Structures:  structures,
		Entities:    entityList,
		Flow: model.FlowArtifact{
			ControlFlow:    flowResult.ControlFlow,
			LineReferences: flowResult.LineReferences,
		},
	}

	if err := ctx.Err(); err != nil {
		// §5: never commit a partial writer transaction on cancellation.
		emit(StageWrite, StatusCancelled, "")
		return artifact, counts, err
	}

	if deps.GraphWriter == nil {
		return artifact, counts, nil
	}

	// Stage 5: write.
	emit(StageWrite, StatusStarted, "")
	if err := deps.GraphWriter.Write(ctx, artifact, time.Now()); err != nil {
		emit(StageWrite, StatusFailed, err.Error())
		return artifact, counts, pipelineerr.NewStageFatal("write", err)
	}
	emitFinal(StageWrite, StatusCompleted, "", counts)

	return artifact, counts, nil
}

const (
	jsonStartSentinel = "JSON_START"
	jsonEndSentinel   = "JSON_END"
)

// WriteFramedArtifact serializes artifact as JSON and writes it with the
// JSON_START/JSON_END sentinel framing original_source's orchestrator used
// to delimit the final payload on its progress stream (§4.6, §6).
func WriteFramedArtifact(artifact model.Artifact) (string, error) {
	body, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}
	return fmt.Sprintf("%s\n%s\n%s", jsonStartSentinel, body, jsonEndSentinel), nil
}
