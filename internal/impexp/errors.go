package impexp

import (
	"errors"
	"fmt"
)

// Categories of import failures, usable with errors.Is on a *ValidationError.
var (
	ErrMalformed        = errors.New("malformed import file")
	ErrMissingField     = errors.New("missing top-level field")
	ErrCollision        = errors.New("imported id already exists")
	ErrDuplicateTagName = errors.New("duplicate tag name")
	ErrInvalidRow       = errors.New("invalid row")
	ErrInvalidRecord    = errors.New("invalid record")
)

// ValidationError describes the first problem found in an imported file.
// Nothing is merged when an import returns it.
type ValidationError struct {
	// Row is the 1-based data row of tabular imports, 0 for file-level problems.
	Row int
	// Field is the collection or column involved, when known.
	Field string
	// ID is the offending record id, when known.
	ID string
	// Reason is the user-facing description.
	Reason string

	kind error
}

// Error implements error.
func (e *ValidationError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
	}
	return e.Reason
}

// Unwrap returns the failure category.
func (e *ValidationError) Unwrap() error {
	return e.kind
}

func rowError(row int, field, format string, args ...any) *ValidationError {
	return &ValidationError{Row: row, Field: field, Reason: fmt.Sprintf(format, args...), kind: ErrInvalidRow}
}
