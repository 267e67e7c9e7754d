package guard

import (
	"errors"
	"fmt"
)

// LockContendedError indicates a live lock on the resource is held by a
// different invocation. The caller chooses whether to retry with backoff
// or abort; there is no data corruption risk.
type LockContendedError struct {
	Resource string
	Holder   string // trace id of the current holder
}

// Error implements the error interface.
func (e *LockContendedError) Error() string {
	if e.Holder != "" {
		return fmt.Sprintf("LOCK_CONTENDED: resource %q held by %s", e.Resource, e.Holder)
	}
	return fmt.Sprintf("LOCK_CONTENDED: resource %q is held", e.Resource)
}

// IsLockContended returns true if the error is a LockContendedError.
// Uses errors.As to handle wrapped errors.
func IsLockContended(err error) bool {
	var le *LockContendedError
	return errors.As(err, &le)
}
