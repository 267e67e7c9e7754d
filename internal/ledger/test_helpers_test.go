package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/coach/internal/storage"
)

// newTestLedger creates a ledger over a fresh temp database.
func newTestLedger(t *testing.T, opts ...Option) *Ledger {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, opts...)
}

// tickingClock returns a clock whose injected time advances one
// millisecond per call, for deterministic event ordering in tests.
func tickingClock(start time.Time) *Clock {
	t := start
	return NewClockWithNow(func() time.Time {
		t = t.Add(time.Millisecond)
		return t
	})
}
