package rollback

import (
	"errors"
	"fmt"
)

// EventNotFoundError indicates a rollback target referenced an event id
// that does not exist in the ledger.
type EventNotFoundError struct {
	ID string
}

// Error implements the error interface.
func (e *EventNotFoundError) Error() string {
	return fmt.Sprintf("EVENT_NOT_FOUND: event %q does not exist", e.ID)
}

// IsEventNotFound returns true if the error is an EventNotFoundError.
func IsEventNotFound(err error) bool {
	var ee *EventNotFoundError
	return errors.As(err, &ee)
}

// InsufficientHistoryError indicates a rollback asked for more recent
// events than the ledger holds.
type InsufficientHistoryError struct {
	Requested int
	Available int64
}

// Error implements the error interface.
func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("INSUFFICIENT_HISTORY: cannot roll back %d events, ledger has %d",
		e.Requested, e.Available)
}

// IsInsufficientHistory returns true if the error is an InsufficientHistoryError.
func IsInsufficientHistory(err error) bool {
	var ie *InsufficientHistoryError
	return errors.As(err, &ie)
}

// InconsistentHistoryError indicates the state reconstructed from the
// ledger does not match an event's recorded hash. Applying the plan
// would write state the audit trail cannot vouch for.
type InconsistentHistoryError struct {
	EventID  string
	Expected string
	Got      string
}

// Error implements the error interface.
func (e *InconsistentHistoryError) Error() string {
	return fmt.Sprintf("reconstructed state for event %s hashes to %s, ledger recorded %s",
		e.EventID, e.Got, e.Expected)
}
