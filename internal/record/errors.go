package record

import (
	"errors"
	"fmt"
)

// ErrFixed is returned when a fixed record is mutated.
var ErrFixed = errors.New("entitysync: record is fixed")

// SchemaError reports a key or value that does not match its declared shape.
//
// Schema violations are soft: the offending value is dropped (or a fresh key
// description is substituted) and the caller continues.
type SchemaError struct {
	// Key is the id of the key involved.
	Key string

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema violation on %s: %s", e.Key, e.Message)
}

// IsSchemaViolation returns true if err is or wraps a *SchemaError.
func IsSchemaViolation(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}
