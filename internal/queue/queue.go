// Package queue is a durable, at-least-once job queue for scan jobs.
//
// Jobs are ordered by priority, then by insertion. A failed delivery is
// either rescheduled with exponential backoff or dead-lettered once its
// attempts are spent; the retry state lives on the job row, so it survives
// restarts. Dispatch is throttled by a queue-wide sliding window and every
// delivery is leased: a lease that is not acked, failed or extended in time
// is reclaimed by the reaper and counts as a failed attempt.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raysh454/lumen/internal/logging"
	"github.com/raysh454/lumen/internal/model"
)

// DeadLetterFunc is called synchronously every time a job is dead-lettered,
// whether by Fail or by the reaper.
type DeadLetterFunc func(ctx context.Context, job *Job, cause error)

// Queue coordinates producers and consumers over a Backend.
type Queue struct {
	cfg     Config
	backend Backend
	clock   Clock
	logger  logging.Logger
	limiter *slidingWindow

	// dispatchMu makes the limiter check, Claim and limiter record one step.
	dispatchMu sync.Mutex

	mu         sync.Mutex
	wake       chan struct{}
	paused     bool
	closed     bool
	deadLetter DeadLetterFunc

	closeCh     chan struct{}
	closeOnce   sync.Once
	reaperStart sync.Once
	wg          sync.WaitGroup
}

// Option customizes a Queue.
type Option func(*Queue)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// New builds a Queue over backend.
func New(cfg Config, backend Backend, logger logging.Logger, opts ...Option) (*Queue, error) {
	if backend == nil {
		return nil, errors.New("queue: nil backend")
	}
	if logger == nil {
		return nil, errors.New("queue: nil logger")
	}
	cfg.applyDefaults()
	q := &Queue{
		cfg:     cfg,
		backend: backend,
		clock:   SystemClock{},
		logger:  logger.With(logging.Field{Key: "component", Value: "queue"}),
		limiter: newSlidingWindow(cfg.RateLimitMax, cfg.RateLimitWindow),
		wake:    make(chan struct{}),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Open builds the backend named by cfg.Backend and a Queue over it.
func Open(cfg Config, logger logging.Logger, opts ...Option) (*Queue, error) {
	var backend Backend
	switch cfg.Backend {
	case "memory":
		backend = NewMemoryBackend()
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = DefaultConfig().Path
		}
		b, err := OpenSQLBackend(path)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		return nil, fmt.Errorf("queue: unknown backend %q", cfg.Backend)
	}
	q, err := New(cfg, backend, logger, opts...)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return q, nil
}

// SetDeadLetterHandler registers fn. It must be set before consumers start.
func (q *Queue) SetDeadLetterHandler(fn DeadLetterFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deadLetter = fn
}

// LeaseDuration is the lease granted on every delivery.
func (q *Queue) LeaseDuration() time.Duration { return q.cfg.LeaseDuration }

func (q *Queue) notify() {
	q.mu.Lock()
	close(q.wake)
	q.wake = make(chan struct{})
	q.mu.Unlock()
}

func (q *Queue) transport(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrLeaseLost) || errors.Is(err, ErrDuplicate) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}

// Enqueue adds a job for payload. The job id is the scan id; enqueuing an id
// that is already waiting or active returns Duplicate and changes nothing.
func (q *Queue) Enqueue(ctx context.Context, payload model.JobPayload) (EnqueueResult, error) {
	if payload.ScanID == "" {
		return Accepted, &model.ValidationError{Field: "scanId", Reason: "required"}
	}
	if payload.URL == "" {
		return Accepted, &model.ValidationError{Field: "url", Reason: "required"}
	}
	if payload.MaxAttempts <= 0 {
		payload.MaxAttempts = q.cfg.DefaultMaxAttempts
	}
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return Accepted, ErrClosed
	}

	now := q.clock.Now()
	job := &Job{
		ID:          payload.ScanID,
		Payload:     payload,
		Priority:    payload.Priority,
		State:       StateWaiting,
		MaxAttempts: payload.MaxAttempts,
		NextRunAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := q.backend.Insert(ctx, job)
	if errors.Is(err, ErrDuplicate) {
		q.logger.Debug("duplicate enqueue ignored", logging.Field{Key: "job_id", Value: job.ID})
		return Duplicate, nil
	}
	if err != nil {
		return Accepted, q.transport("enqueue", err)
	}
	q.logger.Debug("job enqueued",
		logging.Field{Key: "job_id", Value: job.ID},
		logging.Field{Key: "priority", Value: job.Priority},
		logging.Field{Key: "seq", Value: job.Seq})
	q.notify()
	return Accepted, nil
}

// Dequeue blocks until a job is ready and the rate limit allows a dispatch,
// then returns it leased to the caller. It returns ctx.Err() or ErrClosed
// when it gives up.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		q.mu.Lock()
		closed, paused, wake := q.closed, q.paused, q.wake
		q.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		wait := q.cfg.PollInterval
		if !paused {
			job, retryIn, err := q.tryClaim(ctx)
			if err != nil {
				return nil, err
			}
			if job != nil {
				return job, nil
			}
			if retryIn > 0 && retryIn < wait {
				wait = retryIn
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.closeCh:
			timer.Stop()
			return nil, ErrClosed
		case <-wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (q *Queue) tryClaim(ctx context.Context) (*Job, time.Duration, error) {
	q.dispatchMu.Lock()
	defer q.dispatchMu.Unlock()

	now := q.clock.Now()
	if wait := q.limiter.waitTime(now); wait > 0 {
		return nil, wait, nil
	}
	job, err := q.backend.Claim(ctx, now, now.Add(q.cfg.LeaseDuration), uuid.NewString())
	if err != nil {
		return nil, 0, q.transport("claim", err)
	}
	if job == nil {
		next, ok, err := q.backend.NextReadyAt(ctx)
		if err != nil {
			return nil, 0, q.transport("next ready", err)
		}
		if !ok {
			return nil, 0, nil
		}
		wait := next.Sub(now)
		if wait <= 0 {
			wait = time.Millisecond
		}
		return nil, wait, nil
	}
	q.limiter.record(now)
	q.logger.Debug("job dispatched",
		logging.Field{Key: "job_id", Value: job.ID},
		logging.Field{Key: "attempt", Value: job.AttemptsMade},
		logging.Field{Key: "max_attempts", Value: job.MaxAttempts})
	return job, 0, nil
}

// Ack marks the delivery of job as successful.
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	now := q.clock.Now()
	if err := q.backend.Complete(ctx, job.ID, job.Token, now); err != nil {
		return q.transport("ack", err)
	}
	job.State = StateCompleted
	if q.cfg.RetainCompleted > 0 {
		if err := q.backend.Trim(ctx, StateCompleted, q.cfg.RetainCompleted); err != nil {
			q.logger.Warn("trim completed jobs failed", logging.Field{Key: "error", Value: err})
		}
	}
	return nil
}

// Fail records a failed delivery. Permanent errors and exhausted jobs are
// dead-lettered; everything else is rescheduled after Backoff.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) (Outcome, error) {
	if cause == nil {
		cause = errors.New("unspecified failure")
	}
	now := q.clock.Now()
	if IsPermanent(cause) || job.AttemptsMade >= job.MaxAttempts {
		return DeadLettered, q.bury(ctx, job, cause, now)
	}

	delay := Backoff(q.cfg.BackoffBase, q.cfg.BackoffMax, job.AttemptsMade)
	runAt := now.Add(delay)
	if err := q.backend.Retry(ctx, job.ID, job.Token, cause.Error(), runAt, now); err != nil {
		return Retried, q.transport("retry", err)
	}
	job.State = StateWaiting
	job.NextRunAt = runAt
	job.LastError = cause.Error()
	q.logger.Info("job scheduled for retry",
		logging.Field{Key: "job_id", Value: job.ID},
		logging.Field{Key: "attempt", Value: job.AttemptsMade},
		logging.Field{Key: "delay", Value: delay.String()},
		logging.Field{Key: "error", Value: cause})
	q.notify()
	return Retried, nil
}

func (q *Queue) bury(ctx context.Context, job *Job, cause error, now time.Time) error {
	if err := q.backend.Bury(ctx, job.ID, job.Token, cause.Error(), now); err != nil {
		return q.transport("bury", err)
	}
	job.State = StateDead
	job.LastError = cause.Error()
	q.logger.Warn("job dead-lettered",
		logging.Field{Key: "job_id", Value: job.ID},
		logging.Field{Key: "attempts", Value: job.AttemptsMade},
		logging.Field{Key: "error", Value: cause})

	q.mu.Lock()
	handler := q.deadLetter
	q.mu.Unlock()
	if handler != nil {
		handler(ctx, job.clone(), cause)
	}

	if q.cfg.RetainFailed > 0 {
		if err := q.backend.Trim(ctx, StateDead, q.cfg.RetainFailed); err != nil {
			q.logger.Warn("trim dead jobs failed", logging.Field{Key: "error", Value: err})
		}
	}
	return nil
}

// Release hands an unfinished delivery back without counting it as an
// attempt. Workers call it when they are stopped mid-job.
func (q *Queue) Release(ctx context.Context, job *Job) error {
	now := q.clock.Now()
	if err := q.backend.Release(ctx, job.ID, job.Token, now); err != nil {
		return q.transport("release", err)
	}
	job.State = StateWaiting
	job.NextRunAt = now
	if job.AttemptsMade > 0 {
		job.AttemptsMade--
	}
	q.logger.Info("job released",
		logging.Field{Key: "job_id", Value: job.ID},
		logging.Field{Key: "attempts", Value: job.AttemptsMade})
	q.notify()
	return nil
}

// Extend renews the lease on job. Workers call it periodically while an
// audit is running.
func (q *Queue) Extend(ctx context.Context, job *Job) error {
	until := q.clock.Now().Add(q.cfg.LeaseDuration)
	if err := q.backend.Extend(ctx, job.ID, job.Token, until); err != nil {
		return q.transport("extend", err)
	}
	job.LeaseUntil = until
	return nil
}

// Get returns the stored job with id.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	j, err := q.backend.Get(ctx, id)
	if err != nil {
		return nil, q.transport("get", err)
	}
	return j, nil
}

// Stats reports job counts by state.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	c, err := q.backend.Counts(ctx, q.clock.Now())
	if err != nil {
		return Stats{}, q.transport("stats", err)
	}
	q.mu.Lock()
	paused := q.paused
	q.mu.Unlock()
	return Stats{
		Waiting:   c.Ready,
		Delayed:   c.Delayed,
		Active:    c.Active,
		Completed: c.Completed,
		Failed:    c.Dead,
		Paused:    paused,
	}, nil
}

// Pause stops dispatching. Active jobs are unaffected and Enqueue still works.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
	q.logger.Info("queue paused")
}

// Resume restarts dispatching.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.logger.Info("queue resumed")
	q.notify()
}

// IsPaused reports whether dispatch is paused.
func (q *Queue) IsPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Drain removes every waiting and delayed job. Active jobs run to completion.
func (q *Queue) Drain(ctx context.Context) (int, error) {
	n, err := q.backend.PurgeWaiting(ctx)
	if err != nil {
		return 0, q.transport("drain", err)
	}
	q.logger.Info("queue drained", logging.Field{Key: "removed", Value: n})
	return n, nil
}

// Ping checks that the backend is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	return q.transport("ping", q.backend.Ping(ctx))
}

// Close stops the reaper, wakes blocked consumers with ErrClosed and closes
// the backend.
func (q *Queue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.closeCh)
		q.wg.Wait()
		err = q.backend.Close()
	})
	return err
}
