package queue

import (
	"context"
	"time"
)

// Backend is the storage behind a Queue. Implementations must make every
// method atomic with respect to the others; Queue adds no locking around
// state changes other than serializing Claim.
type Backend interface {
	// Insert stores a new waiting job. If a job with the same id is waiting
	// or active it returns ErrDuplicate. A completed or dead job with the same
	// id is replaced.
	Insert(ctx context.Context, job *Job) error

	// Claim moves the best ready job (highest priority, then lowest Seq,
	// NextRunAt <= now) to active, increments AttemptsMade and stamps the
	// lease and token. It returns nil, nil when nothing is ready.
	Claim(ctx context.Context, now, leaseUntil time.Time, token string) (*Job, error)

	// NextReadyAt reports the earliest NextRunAt among waiting jobs.
	NextReadyAt(ctx context.Context) (time.Time, bool, error)

	// Complete, Retry, Bury and Extend act on an active job holding token.
	// A mismatch returns ErrLeaseLost.
	Complete(ctx context.Context, id, token string, now time.Time) error
	Retry(ctx context.Context, id, token, lastErr string, runAt, now time.Time) error
	Bury(ctx context.Context, id, token, lastErr string, now time.Time) error
	Extend(ctx context.Context, id, token string, leaseUntil time.Time) error

	// Release returns an active job to waiting, ready at now, and gives back
	// the attempt its Claim counted.
	Release(ctx context.Context, id, token string, now time.Time) error

	// Expired lists active jobs whose lease ended before now.
	Expired(ctx context.Context, now time.Time) ([]*Job, error)

	Get(ctx context.Context, id string) (*Job, error)
	Counts(ctx context.Context, now time.Time) (Counts, error)

	// Trim keeps only the newest keep jobs in a terminal state.
	Trim(ctx context.Context, state State, keep int) error

	// PurgeWaiting deletes every waiting job and returns how many were removed.
	PurgeWaiting(ctx context.Context) (int, error)

	Ping(ctx context.Context) error
	Close() error
}
