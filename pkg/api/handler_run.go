package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cobolgraph/extractor/ent"
	"github.com/cobolgraph/extractor/pkg/model"
	"github.com/cobolgraph/extractor/pkg/orchestrator"
	"github.com/cobolgraph/extractor/pkg/source"
	"github.com/cobolgraph/extractor/pkg/writer"
)

// runRequest is the body of POST /api/v1/runs.
type runRequest struct {
	Path          string `json:"path"`
	InlineContent string `json:"inline_content"`
	FileName      string `json:"file_name"`
}

// graphWriter adapts pkg/writer's free function to orchestrator.Writer.
type graphWriter struct {
	client *ent.Client
}

func (g graphWriter) Write(ctx context.Context, artifact model.Artifact, commitTime time.Time) error {
	return writer.Write(ctx, g.client, artifact, commitTime)
}

type runResult struct {
	artifact model.Artifact
	counts   model.Counts
	err      error
}

// submitRunHandler handles POST /api/v1/runs: fetch the source, drive the
// five-stage pipeline, and stream one NDJSON orchestrator.Event per stage
// transition, followed by the final artifact framed with the JSON_START/
// JSON_END sentinels (§4.6, §6).
func (s *Server) submitRunHandler(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.Path == "" && req.InlineContent == "" {
		abortBadRequest(c, "one of path or inline_content is required")
		return
	}

	ref := source.Ref{Path: req.Path, InlineContent: req.InlineContent, FileName: req.FileName}
	deps := orchestrator.Deps{
		LLMClient:     s.llmClient,
		SourceFetcher: s.sourceFetcher,
		GraphWriter:   graphWriter{client: s.db.Client},
		Config:        s.cfg,
	}

	events := make(chan orchestrator.Event, 16)
	resultCh := make(chan runResult, 1)
	go func() {
		artifact, counts, err := orchestrator.Run(c.Request.Context(), deps, ref, events)
		close(events)
		resultCh <- runResult{artifact: artifact, counts: counts, err: err}
	}()

	c.Writer.Header().Set("Content-Type", "application/x-ndjson")
	c.Writer.WriteHeader(http.StatusOK)
	flusher, canFlush := c.Writer.(http.Flusher)

	enc := json.NewEncoder(c.Writer)
	for ev := range events {
		_ = enc.Encode(ev)
		if canFlush {
			flusher.Flush()
		}
	}

	res := <-resultCh
	if res.err != nil {
		_ = enc.Encode(errorResponse{Error: res.err.Error()})
		if canFlush {
			flusher.Flush()
		}
		return
	}

	framed, err := orchestrator.WriteFramedArtifact(res.artifact)
	if err != nil {
		_ = enc.Encode(errorResponse{Error: err.Error()})
		return
	}
	_, _ = c.Writer.Write([]byte(framed + "\n"))
	if canFlush {
		flusher.Flush()
	}
}
