// Package domain holds the error taxonomy shared by the document core.
package domain

import (
	"errors"
	"fmt"
)

// ValidationError reports a field value that cannot be persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid is shorthand for constructing a ValidationError.
func Invalid(field, reason string, args ...any) error {
	if len(args) > 0 {
		reason = fmt.Sprintf(reason, args...)
	}
	return &ValidationError{Field: field, Reason: reason}
}

// ConflictError means another writer advanced the document first.
type ConflictError struct {
	Table      string
	ID         string
	RevisionID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: revision %s is no longer current", e.Table, e.ID, e.RevisionID)
}

// StaleDocumentError is returned when branching from a superseded or deleted revision.
type StaleDocumentError struct {
	ID         string
	RevisionID string
	Deleted    bool
}

func (e *StaleDocumentError) Error() string {
	if e.Deleted {
		return fmt.Sprintf("document %s is deleted", e.ID)
	}
	return fmt.Sprintf("revision %s of document %s is stale", e.RevisionID, e.ID)
}

// NotFoundError represents a missing live document.
type NotFoundError struct {
	Table string
	ID    string
}

func (e NotFoundError) Error() string {
	if e.Table == "" && e.ID == "" {
		return "document not found"
	}
	return fmt.Sprintf("%s %s not found", e.Table, e.ID)
}

// Is enables errors.Is matching against ErrDocumentNotFound regardless of table or id.
func (e NotFoundError) Is(target error) bool {
	switch target.(type) {
	case NotFoundError, *NotFoundError:
		return true
	}
	return false
}

// ErrDocumentNotFound is the sentinel for missing documents.
var ErrDocumentNotFound = NotFoundError{}

// AlreadyDeletedError is returned by a second delete of the same document.
type AlreadyDeletedError struct {
	Table string
	ID    string
}

func (e *AlreadyDeletedError) Error() string {
	return fmt.Sprintf("%s %s has already been deleted", e.Table, e.ID)
}

// PersistenceError wraps a store failure during an atomic write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// RedirectedError is a control signal: the requested name is an alias and
// Target is the canonical location. It is not a failure.
type RedirectedError struct {
	Target string
}

func (e *RedirectedError) Error() string {
	return "redirect to " + e.Target
}

// ForbiddenError means the viewer lacks the capability for an action.
type ForbiddenError struct {
	Action string
}

func (e *ForbiddenError) Error() string {
	return "not permitted to " + e.Action
}

// IsTyped reports whether err is one of the taxonomy's own errors, which
// callers propagate as-is rather than wrapping in a PersistenceError.
func IsTyped(err error) bool {
	var (
		ve *ValidationError
		ce *ConflictError
		se *StaleDocumentError
		ad *AlreadyDeletedError
		pe *PersistenceError
		fe *ForbiddenError
	)
	return errors.As(err, &ve) || errors.As(err, &ce) || errors.As(err, &se) ||
		errors.As(err, &ad) || errors.As(err, &pe) || errors.As(err, &fe) ||
		errors.Is(err, ErrDocumentNotFound)
}
