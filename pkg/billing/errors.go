package billing

import (
	"errors"
	"fmt"
)

// ValidationError indicates malformed input. It is reported to the caller
// with field-level detail and never retried.
type ValidationError struct {
	Field   string
	Kind    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NewValidationError creates a ValidationError for a field
func NewValidationError(field, kind, message string) *ValidationError {
	return &ValidationError{Field: field, Kind: kind, Message: message}
}

// NotFoundError indicates an entity is absent, or absent for this owner.
// The two cases are deliberately indistinguishable to avoid existence
// leakage.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Entity)
}

// NewNotFoundError creates a NotFoundError for an entity
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// StateConflictError indicates a transition is not legal from the entity's
// current state, e.g. cancelling a non-active service.
type StateConflictError struct {
	Message string
}

func (e *StateConflictError) Error() string {
	return e.Message
}

// NewStateConflictError creates a StateConflictError with a human-readable
// reason
func NewStateConflictError(format string, args ...any) *StateConflictError {
	return &StateConflictError{Message: fmt.Sprintf(format, args...)}
}

// InternalError wraps a store/cache/notifier failure. It is logged, reported
// generically, and never retried synchronously by the caller.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error in %s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// NewInternalError wraps an underlying failure with the operation that hit it
func NewInternalError(op string, err error) *InternalError {
	return &InternalError{Op: op, Err: err}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

// IsStateConflict reports whether err is a StateConflictError
func IsStateConflict(err error) bool {
	var sce *StateConflictError
	return errors.As(err, &sce)
}
