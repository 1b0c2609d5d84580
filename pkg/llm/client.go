// Package llm defines the pipeline's view of the LLM as an opaque,
// JSON-schema-constrained RPC (§6): every call sends a prompt plus a closed
// response schema and gets back `application/json` matching it, or an error.
// The real client speaks the same REST transport original_source's Python
// agents used (Vertex AI's generateContent endpoint); pkg/retry wraps every
// call site, never this package, so retry policy stays centralized.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cobolgraph/extractor/pkg/pipelineerr"
)

// Request is one constrained-schema generation call.
type Request struct {
	// Prompt is the full text prompt, already including any reference
	// context the caller built (full program text, sliding window, etc).
	Prompt string
	// ResponseSchema is the JSON Schema the model is constrained to, as
	// required by §6 ("constrained by per-call schemas that enumerate
	// permitted enum values").
	ResponseSchema json.RawMessage
	// Temperature: 0.0 for classification, higher for free-form extraction (§6).
	Temperature float64
	// ThinkingLevel requests extended reasoning for structure/entity/flow
	// calls ("", "LOW", "HIGH"); empty means the model's default.
	ThinkingLevel string
	// MaxOutputTokens bounds the response size (§6: "all calls set a
	// maximum output size").
	MaxOutputTokens int
}

// Client is the pipeline's LLM seam. Every stage depends on this interface,
// never on a concrete transport, so tests substitute FakeClient.
type Client interface {
	// Generate issues one constrained-schema call and returns the raw JSON
	// response body (already validated to be syntactically valid JSON, but
	// not yet checked against ResponseSchema's enums — pkg/llmschema does
	// that at the call site, which is where the safe-default policy lives).
	Generate(ctx context.Context, target string, req Request) (json.RawMessage, error)
}

// HTTPClient is the real Client, talking to a Vertex-AI-shaped
// generateContent REST endpoint over plain net/http — the same transport
// original_source's Python agents used, without a generated SDK dependency.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string // e.g. https://{location}-aiplatform.googleapis.com/v1/projects/{project}/locations/{location}/publishers/google/models
	model      string
	apiKey     string
}

// NewHTTPClient constructs an HTTPClient for the given model against baseURL.
// apiKey is sent as a bearer token; in a real deployment this is backed by
// application-default credentials, out of scope here per §1.
func NewHTTPClient(baseURL, model, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		model:      model,
		apiKey:     apiKey,
	}
}

type generateContentRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64         `json:"temperature"`
	MaxOutputTokens int             `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string         `json:"responseMimeType"`
	ResponseSchema  json.RawMessage `json:"responseSchema,omitempty"`
	ThinkingConfig  *thinkingConfig `json:"thinkingConfig,omitempty"`
}

type thinkingConfig struct {
	ThinkingLevel string `json:"thinkingLevel"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Generate implements Client.
func (c *HTTPClient) Generate(ctx context.Context, target string, req Request) (json.RawMessage, error) {
	body := generateContentRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: req.Prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:      req.Temperature,
			MaxOutputTokens:  req.MaxOutputTokens,
			ResponseMIMEType: "application/json",
			ResponseSchema:   req.ResponseSchema,
		},
	}
	if req.ThinkingLevel != "" {
		body.GenerationConfig.ThinkingConfig = &thinkingConfig{ThinkingLevel: req.ThinkingLevel}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, pipelineerr.New(pipelineerr.KindInputMalformed, target, fmt.Errorf("marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, pipelineerr.New(pipelineerr.KindUpstreamUnavailable, target, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pipelineerr.New(pipelineerr.KindUpstreamUnavailable, target, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pipelineerr.New(pipelineerr.KindUpstreamUnavailable, target, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, pipelineerr.New(pipelineerr.KindUpstreamRateLimited, target, fmt.Errorf("429: %s", respBody))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, pipelineerr.New(pipelineerr.KindUpstreamUnavailable, target, fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}

	var parsed generateContentResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, pipelineerr.New(pipelineerr.KindSchemaViolation, target, fmt.Errorf("unmarshal envelope: %w", err))
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, pipelineerr.New(pipelineerr.KindSchemaViolation, target, fmt.Errorf("empty candidate response"))
	}

	text := parsed.Candidates[0].Content.Parts[0].Text
	if !json.Valid([]byte(text)) {
		return nil, pipelineerr.New(pipelineerr.KindSchemaViolation, target, fmt.Errorf("model response is not valid JSON"))
	}
	return json.RawMessage(text), nil
}
