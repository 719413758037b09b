// Package services is the operation surface over the store, engine, and
// orchestrator. It owns request validation and the error taxonomy the API
// layer maps to HTTP responses.
package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/maestro-sh/maestro/pkg/store"
)

// Sentinel kinds. Typed wrappers below unwrap to these so callers can test
// with errors.Is while still reading structured fields with errors.As.
var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrInvariant = errors.New("invariant violation")
	ErrTimeout   = errors.New("timed out")
)

// NotFoundError names the entity and id that failed to resolve.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError reports the offending field and the violated bound.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvariant }

// ConflictError carries a human-readable suggestion and enumerates the
// blocking entities so the caller can decide whether to force.
type ConflictError struct {
	Message            string
	Suggestion         string
	BlockingAgents     []string
	BlockingExecutions []string
}

func (e *ConflictError) Error() string {
	msg := e.Message
	if len(e.BlockingAgents) > 0 {
		msg += "; busy agents: " + strings.Join(e.BlockingAgents, ", ")
	}
	if len(e.BlockingExecutions) > 0 {
		msg += "; active executions: " + strings.Join(e.BlockingExecutions, ", ")
	}
	return msg
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// InternalError pairs an uncaught condition with an opaque correlation id.
// The id surfaces to callers; the wrapped cause stays in the logs.
type InternalError struct {
	ErrorID string
	err     error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error (id %s)", e.ErrorID)
}

func (e *InternalError) Unwrap() error { return e.err }

// NewInternal wraps an unexpected error with a fresh 8-char correlation id.
func NewInternal(err error) *InternalError {
	return &InternalError{
		ErrorID: strings.ReplaceAll(uuid.New().String(), "-", "")[:8],
		err:     err,
	}
}

// mapStoreErr converts store sentinels into the service taxonomy. Unknown
// errors become Internal with a fresh error id.
func mapStoreErr(err error, entity, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return &NotFoundError{Entity: entity, ID: id}
	case errors.Is(err, store.ErrDuplicate):
		return &ConflictError{
			Message:    fmt.Sprintf("%s %s already exists", entity, id),
			Suggestion: "choose a different name",
		}
	default:
		return NewInternal(err)
	}
}
