package queue

import "errors"

var (
	// ErrDuplicate is returned by Backend.Insert when a job with the same id
	// is still waiting or active.
	ErrDuplicate = errors.New("queue: duplicate job id")

	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("queue: closed")

	// ErrLeaseLost means the delivery token no longer matches: the lease
	// expired and the job was redelivered or settled by the reaper.
	ErrLeaseLost = errors.New("queue: lease lost")

	// ErrNotFound is returned by Get for unknown ids.
	ErrNotFound = errors.New("queue: job not found")

	// ErrTransport wraps failures of the underlying storage. Callers may retry.
	ErrTransport = errors.New("queue: transport failure")

	// ErrLeaseExpired is the cause recorded when the reaper reclaims a job.
	ErrLeaseExpired = errors.New("queue: lease expired")
)

// PermanentError marks a job failure that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Fail dead-letters the job immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
