package ledger

import (
	"errors"
	"fmt"
)

// UnknownEntityError indicates a caller referenced an entity type that is
// not in the static registry. The registry is the whitelist that keeps
// caller input out of SQL identifiers, so this is always a programming or
// input error, never retried.
type UnknownEntityError struct {
	EntityType string
}

// Error implements the error interface.
func (e *UnknownEntityError) Error() string {
	return fmt.Sprintf("UNKNOWN_ENTITY: entity type %q is not registered", e.EntityType)
}

// IsUnknownEntity returns true if the error is an UnknownEntityError.
// Uses errors.As to handle wrapped errors.
func IsUnknownEntity(err error) bool {
	var ue *UnknownEntityError
	return errors.As(err, &ue)
}

// ColumnError indicates a row payload referenced a column the entity's
// registered schema doesn't allow, or violated a column constraint.
type ColumnError struct {
	EntityType string
	Column     string
	Reason     string
}

// Error implements the error interface.
func (e *ColumnError) Error() string {
	return fmt.Sprintf("invalid column %s.%s: %s", e.EntityType, e.Column, e.Reason)
}
