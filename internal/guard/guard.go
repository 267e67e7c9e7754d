package guard

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/coach/internal/storage"
)

// Default TTLs. Lock TTL is generous relative to expected operation
// duration (a doctor run takes well under a second); idempotency records
// outlive automation retry windows. Both are a configuration surface, not
// hidden constants - see internal/config.
const (
	DefaultLockTTL        = 30 * time.Second
	DefaultIdempotencyTTL = time.Hour
)

// WriteLock is one persisted named lock row.
type WriteLock struct {
	ResourceName  string    `json:"resource_name"`
	HolderTraceID string    `json:"holder_trace_id"`
	AcquiredAt    time.Time `json:"acquired_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Outcome is the result of a guarded operation. Result holds the body's
// JSON-serialized return value; Cached is true when it was replayed from
// an idempotency record instead of re-executing the body.
type Outcome struct {
	Result json.RawMessage `json:"result"`
	Cached bool            `json:"cached"`
}

// Coordinator mediates named write locks and idempotency replay.
type Coordinator struct {
	store   *storage.Store
	now     func() time.Time
	lockTTL time.Duration
	idemTTL time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLockTTL overrides the lock TTL.
func WithLockTTL(d time.Duration) Option {
	return func(c *Coordinator) { c.lockTTL = d }
}

// WithIdempotencyTTL overrides the idempotency record TTL.
func WithIdempotencyTTL(d time.Duration) Option {
	return func(c *Coordinator) { c.idemTTL = d }
}

// WithNow overrides the time source, for tests.
func WithNow(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator over the given store.
func New(store *storage.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:   store,
		now:     time.Now,
		lockTTL: DefaultLockTTL,
		idemTTL: DefaultIdempotencyTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithWriteLock runs body under the named write lock.
//
// Algorithm:
//  1. If idemKey is non-empty and an unexpired idempotency record exists
//     for (resource, idemKey), return its cached result without invoking
//     body.
//  2. Claim the lock: free or expired locks are taken/superseded; a live
//     lock held by another invocation fails with LOCK_CONTENDED.
//  3. Run body. On success serialize the result and store it under
//     idemKey (if given) while still holding the lock, then release and
//     return it with Cached=false. Storing before release closes the
//     window in which a racing retry with the same key could grab the
//     freed lock and re-execute.
//  4. On body failure release the lock without caching and propagate.
func (c *Coordinator) WithWriteLock(
	ctx context.Context,
	resource, traceID, idemKey string,
	body func(ctx context.Context) (any, error),
) (Outcome, error) {
	if idemKey != "" {
		snapshot, hit, err := c.lookupIdempotency(ctx, resource, idemKey)
		if err != nil {
			return Outcome{}, err
		}
		if hit {
			return Outcome{Result: snapshot, Cached: true}, nil
		}
	}

	if err := c.acquire(ctx, resource, traceID); err != nil {
		return Outcome{}, err
	}

	result, bodyErr := body(ctx)
	if bodyErr != nil {
		// No caching for a failure; the lock still comes off.
		c.release(ctx, resource, traceID)
		return Outcome{}, bodyErr
	}

	snapshot, err := json.Marshal(result)
	if err != nil {
		c.release(ctx, resource, traceID)
		return Outcome{}, fmt.Errorf("serialize result for %s: %w", resource, err)
	}

	if idemKey != "" {
		if err := c.storeIdempotency(ctx, resource, idemKey, snapshot); err != nil {
			c.release(ctx, resource, traceID)
			return Outcome{}, err
		}
	}

	if err := c.release(ctx, resource, traceID); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: snapshot, Cached: false}, nil
}

// acquire claims the named lock in a single atomic UPSERT: the row is
// inserted when absent, superseded when expired, and untouched when a
// live holder exists (rows affected = 0 means contention).
func (c *Coordinator) acquire(ctx context.Context, resource, traceID string) error {
	now := c.now().UTC()
	affected, err := c.store.Execute(ctx, `
		INSERT INTO write_locks (resource_name, holder_trace_id, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(resource_name) DO UPDATE SET
			holder_trace_id = excluded.holder_trace_id,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE write_locks.expires_at <= excluded.acquired_at
	`,
		resource,
		traceID,
		storage.FormatTime(now),
		storage.FormatTime(now.Add(c.lockTTL)),
	)
	if err != nil {
		return fmt.Errorf("acquire lock %q: %w", resource, err)
	}
	if affected == 0 {
		holder := ""
		if lock, found, err := c.lock(ctx, resource); err == nil && found {
			holder = lock.HolderTraceID
		}
		return &LockContendedError{Resource: resource, Holder: holder}
	}
	return nil
}

// release removes the lock only if this invocation still holds it. A lock
// that expired and was taken over by someone else is left alone.
func (c *Coordinator) release(ctx context.Context, resource, traceID string) error {
	_, err := c.store.Execute(ctx,
		"DELETE FROM write_locks WHERE resource_name = ? AND holder_trace_id = ?",
		resource, traceID,
	)
	if err != nil {
		return fmt.Errorf("release lock %q: %w", resource, err)
	}
	return nil
}

// lock reads the current lock row for a resource.
func (c *Coordinator) lock(ctx context.Context, resource string) (WriteLock, bool, error) {
	r := c.store.QueryRow(ctx, `
		SELECT resource_name, holder_trace_id, acquired_at, expires_at
		FROM write_locks WHERE resource_name = ?
	`, resource)

	lock, err := scanLock(r)
	if err == sql.ErrNoRows {
		return WriteLock{}, false, nil
	}
	if err != nil {
		return WriteLock{}, false, err
	}
	return lock, true, nil
}

// StaleLocks lists locks past their expiry without side effects.
// Diagnostic only; expired locks are superseded lazily on acquisition.
func (c *Coordinator) StaleLocks(ctx context.Context) ([]WriteLock, error) {
	rows, err := c.store.Query(ctx, `
		SELECT resource_name, holder_trace_id, acquired_at, expires_at
		FROM write_locks
		WHERE expires_at <= ?
		ORDER BY resource_name ASC
	`, storage.FormatTime(c.now()))
	if err != nil {
		return nil, fmt.Errorf("list stale locks: %w", err)
	}
	defer rows.Close()

	locks := []WriteLock{}
	for rows.Next() {
		lock, err := scanLock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lock: %w", err)
		}
		locks = append(locks, lock)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locks: %w", err)
	}
	return locks, nil
}

// ClearAllLocks forcibly removes every lock row. Administrative escape
// hatch; never used in normal flow.
func (c *Coordinator) ClearAllLocks(ctx context.Context) (int64, error) {
	removed, err := c.store.Execute(ctx, "DELETE FROM write_locks")
	if err != nil {
		return 0, fmt.Errorf("clear locks: %w", err)
	}
	return removed, nil
}

// CleanupIdempotencyKeys deletes expired idempotency records.
func (c *Coordinator) CleanupIdempotencyKeys(ctx context.Context) (int64, error) {
	removed, err := c.store.Execute(ctx,
		"DELETE FROM idempotency_keys WHERE expires_at <= ?",
		storage.FormatTime(c.now()),
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup idempotency keys: %w", err)
	}
	return removed, nil
}

func (c *Coordinator) lookupIdempotency(ctx context.Context, resource, key string) (json.RawMessage, bool, error) {
	var snapshot string
	err := c.store.QueryRow(ctx, `
		SELECT result_snapshot FROM idempotency_keys
		WHERE idempotency_key = ? AND resource_name = ? AND expires_at > ?
	`, key, resource, storage.FormatTime(c.now())).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	return json.RawMessage(snapshot), true, nil
}

func (c *Coordinator) storeIdempotency(ctx context.Context, resource, key string, snapshot []byte) error {
	now := c.now().UTC()
	// A leftover expired record under the same key is superseded.
	_, err := c.store.Execute(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, resource_name, result_snapshot, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(idempotency_key) DO UPDATE SET
			resource_name = excluded.resource_name,
			result_snapshot = excluded.result_snapshot,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
		WHERE idempotency_keys.expires_at <= excluded.created_at
	`,
		key, resource, string(snapshot),
		storage.FormatTime(now),
		storage.FormatTime(now.Add(c.idemTTL)),
	)
	if err != nil {
		return fmt.Errorf("store idempotency key: %w", err)
	}
	return nil
}

func scanLock(s interface{ Scan(...any) error }) (WriteLock, error) {
	var (
		lock     WriteLock
		acquired string
		expires  string
	)
	if err := s.Scan(&lock.ResourceName, &lock.HolderTraceID, &acquired, &expires); err != nil {
		return WriteLock{}, err
	}

	var err error
	if lock.AcquiredAt, err = storage.ParseTime(acquired); err != nil {
		return WriteLock{}, fmt.Errorf("lock %s: bad acquired_at: %w", lock.ResourceName, err)
	}
	if lock.ExpiresAt, err = storage.ParseTime(expires); err != nil {
		return WriteLock{}, fmt.Errorf("lock %s: bad expires_at: %w", lock.ResourceName, err)
	}
	return lock, nil
}
