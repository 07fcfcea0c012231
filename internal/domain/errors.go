package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors. Concrete error types below match them with errors.Is so
// callers can branch without type assertions.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrConflict          = errors.New("conflict")
)

// ValidationError carries per-field messages.
type ValidationError struct {
	Fields map[string][]string
}

func NewValidationError(field, msg string) *ValidationError {
	v := &ValidationError{}
	v.Add(field, msg)
	return v
}

func (v *ValidationError) Add(field, msg string) {
	if v.Fields == nil {
		v.Fields = make(map[string][]string)
	}
	v.Fields[field] = append(v.Fields[field], msg)
}

// OrNil returns nil when no field failed, so callers can `return verr.OrNil()`.
func (v *ValidationError) OrNil() error {
	if v == nil || len(v.Fields) == 0 {
		return nil
	}
	return v
}

func (v *ValidationError) Error() string {
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %s", k, strings.Join(v.Fields[k], ", ")))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (v *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

type NotFoundError struct {
	Entity string
	ID     int32
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// CascadeFailure reports that a role in an affected set failed validation and
// the whole cascade was discarded.
type CascadeFailure struct {
	RoleID int32
	Err    error
}

func (e *CascadeFailure) Error() string {
	return fmt.Sprintf("cascade aborted at role %d: %v", e.RoleID, e.Err)
}

func (e *CascadeFailure) Unwrap() error {
	return e.Err
}

// TransitionError is returned when a lifecycle move is not allowed.
type TransitionError struct {
	RoleID int32
	From   RoleState
	To     RoleState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("role %d cannot move from %s to %s", e.RoleID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
