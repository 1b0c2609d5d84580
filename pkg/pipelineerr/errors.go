// Package pipelineerr defines the error kinds shared across pipeline stages
// (§7) and the helpers the orchestrator uses to decide whether a failure is
// a safe-default local failure or a stage-fatal one.
package pipelineerr

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure into one of the closed error kinds of §7.
type Kind string

const (
	// KindInputMalformed covers an empty source or a malformed storage URI.
	KindInputMalformed Kind = "InputMalformed"
	// KindUpstreamUnavailable covers a transient LLM or storage failure; retried.
	KindUpstreamUnavailable Kind = "UpstreamUnavailable"
	// KindUpstreamRateLimited covers a 429-style response; retried without
	// counting against the attempt budget.
	KindUpstreamRateLimited Kind = "UpstreamRateLimited"
	// KindSchemaViolation covers an LLM response outside its constrained enum;
	// terminal for that call, resolved with a safe default.
	KindSchemaViolation Kind = "SchemaViolation"
	// KindReferentialMiss covers an edge naming a structure or entity that
	// does not exist; dropped and logged, never persisted.
	KindReferentialMiss Kind = "ReferentialMiss"
	// KindWriterConflict covers a transaction retried by the store's native
	// discipline and surfaced after its retry budget is exhausted.
	KindWriterConflict Kind = "WriterConflict"
)

// Error is a pipeline error carrying its Kind alongside the usual wrapped cause.
type Error struct {
	Kind   Kind
	Target string // the call site / structure / entity this error concerns
	Err    error
}

func (e *Error) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s(%s): %v", e.Kind, e.Target, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a pipeline Error.
func New(kind Kind, target string, err error) *Error {
	return &Error{Kind: kind, Target: target, Err: err}
}

// KindOf extracts the Kind from err, or "" if err does not carry one.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsRetryable reports whether a kind should be retried by the call-site
// backoff loop (§4.6): unavailable and rate-limited upstreams are retried;
// the rest are terminal for that call.
func IsRetryable(kind Kind) bool {
	return kind == KindUpstreamUnavailable || kind == KindUpstreamRateLimited
}

// StageFatal is returned for the two conditions that abort the whole
// pipeline: stage 2 failing to obtain or parse a structure response, and a
// stage 5 transaction failure after its own retry budget. A stage 2 response
// naming zero structures is not fatal.
type StageFatal struct {
	Stage string
	Err   error
}

func (e *StageFatal) Error() string {
	return fmt.Sprintf("stage %s failed fatally: %v", e.Stage, e.Err)
}

func (e *StageFatal) Unwrap() error { return e.Err }

// NewStageFatal constructs a StageFatal error.
func NewStageFatal(stage string, err error) *StageFatal {
	return &StageFatal{Stage: stage, Err: err}
}

// ValidationError wraps field-specific config/input validation errors,
// mirroring the shape of a per-field validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError reports whether err is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
