package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors matched with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("revision conflict")
	ErrValidation = errors.New("validation failed")
)

// NotFoundError reports an absent identity.
type NotFoundError struct {
	Kind Kind
	ID   string
}

func (e *NotFoundError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("document %s not found", e.ID)
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError is returned when a write is based on a stale revision. The
// caller must re-read and reapply.
type ConflictError struct {
	ID       string
	Expected string
	Current  string
}

func (e *ConflictError) Error() string {
	if e.Current == "" {
		return fmt.Sprintf("revision conflict on %s: document does not exist", e.ID)
	}
	if e.Expected == "" {
		return fmt.Sprintf("revision conflict on %s: document already exists at %s", e.ID, e.Current)
	}
	return fmt.Sprintf("revision conflict on %s: expected %s, current %s", e.ID, e.Expected, e.Current)
}

// Is matches ErrConflict.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ValidationError reports an illegal state transition, a dangling reference,
// or a malformed payload.
type ValidationError struct {
	Kind   Kind
	ID     string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	subject := string(e.Kind)
	if e.ID != "" {
		subject += " " + e.ID
	}
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s: %s", subject, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", subject, e.Reason)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TransitionError builds the ValidationError for an illegal status change.
func TransitionError(id string, from, to EncounterStatus) *ValidationError {
	return &ValidationError{
		Kind:   KindEncounter,
		ID:     id,
		Field:  "status",
		Reason: fmt.Sprintf("cannot move from %s to %s", from, to),
	}
}
