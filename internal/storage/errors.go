package storage

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// ErrorCode categorizes storage failures.
type ErrorCode string

const (
	// CodeUnavailable indicates the database file is missing or unreadable.
	// Fail fast; no partial work is attempted.
	CodeUnavailable ErrorCode = "STORAGE_UNAVAILABLE"

	// CodeBusy indicates a write timed out past the busy-wait window.
	// The caller may retry.
	CodeBusy ErrorCode = "STORAGE_BUSY"
)

// Error is a structured storage failure with a stable code.
type Error struct {
	Code ErrorCode
	Op   string // operation that failed, e.g. "open", "execute"
	Err  error  // underlying driver error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Op)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsUnavailable returns true if the error is a STORAGE_UNAVAILABLE failure.
// Uses errors.As to handle wrapped errors.
func IsUnavailable(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == CodeUnavailable
}

// IsBusy returns true if the error is a STORAGE_BUSY failure.
func IsBusy(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == CodeBusy
}

// wrapDriverError maps SQLITE_BUSY/SQLITE_LOCKED onto CodeBusy and leaves
// other driver errors wrapped without a code.
func wrapDriverError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return &Error{Code: CodeBusy, Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
