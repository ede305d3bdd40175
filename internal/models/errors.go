package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAmendmentResolved = errors.New("amendment already resolved")
	ErrDecisionExists    = errors.New("upgrade decision already recorded")
	ErrDecisionRequired  = errors.New("service upgrade decision required before start")
	ErrOpenJobExists     = errors.New("asset already has an open service job")
	ErrConcurrentUpdate  = errors.New("record changed by a concurrent update")
)

// ValidationError reports malformed caller input. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error [%s]: %s", e.Field, e.Message)
}

// InvalidStateError reports an operation on an entity that is not in the
// state the operation requires, usually a lost race or a stale screen.
type InvalidStateError struct {
	Entity  string
	ID      string
	Current string
	Wanted  string
	Err     error
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s is %s, want %s", e.Entity, e.ID, e.Current, e.Wanted)
}

func (e *InvalidStateError) Unwrap() error { return e.Err }

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsInvalidState reports whether err is or wraps an InvalidStateError.
func IsInvalidState(err error) bool {
	var s *InvalidStateError
	return errors.As(err, &s)
}
