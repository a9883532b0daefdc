package collector

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownType is returned when no policy is registered for a type.
	ErrUnknownType = errors.New("entitysync: unknown entity type")

	// ErrNoIdentity is returned when a row carries no complete identity.
	ErrNoIdentity = errors.New("entitysync: missing identity")

	// ErrOverrideIdentity is returned when an identity column is overridden.
	ErrOverrideIdentity = errors.New("entitysync: identity columns cannot be overridden")

	// ErrWrongPlace is returned for place handles that belong to no table.
	ErrWrongPlace = errors.New("entitysync: unknown place")
)

// ConflictError reports an unequal write to a column that already holds a value.
// The first value is kept.
type ConflictError struct {
	// Type is the id of the entity type.
	Type string

	// Key is the id of the conflicting key.
	Key string

	// Place identifies the place that kept its value.
	Place PlaceRef

	// Old is the value kept.
	Old any

	// New is the value rejected.
	New any
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("value conflict on %s.%s at %s: have %v, rejected %v", e.Type, e.Key, e.Place, e.Old, e.New)
}

// IsConflict returns true if err is or wraps a *ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
