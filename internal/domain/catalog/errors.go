package catalog

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrNotFound matches every NotFoundError via errors.Is.
var ErrNotFound = errors.New("not found")

// NotFoundError reports a missing catalog or order entity.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFound returns a NotFoundError for the given entity kind and id.
func NewNotFound(entity string, id int64) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// ValidationError reports input that breaks a field rule or an aggregate
// invariant. Field is empty for aggregate-level failures.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return e.Field + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
