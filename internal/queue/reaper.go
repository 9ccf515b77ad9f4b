package queue

import (
	"context"
	"errors"
	"time"

	"github.com/raysh454/lumen/internal/logging"
)

// Start launches the lease reaper. It runs until ctx is done or Close is called.
func (q *Queue) Start(ctx context.Context) {
	q.reaperStart.Do(func() {
		q.wg.Add(1)
		go q.reapLoop(ctx)
	})
}

func (q *Queue) reapLoop(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeCh:
			return
		case <-ticker.C:
			if _, err := q.Reap(ctx); err != nil && ctx.Err() == nil {
				q.logger.Error("reap failed", logging.Field{Key: "error", Value: err})
			}
		}
	}
}

// Reap reclaims every expired lease as a failed attempt and returns how many
// jobs it settled.
func (q *Queue) Reap(ctx context.Context) (int, error) {
	expired, err := q.backend.Expired(ctx, q.clock.Now())
	if err != nil {
		return 0, q.transport("expired", err)
	}
	n := 0
	for _, job := range expired {
		outcome, err := q.Fail(ctx, job, ErrLeaseExpired)
		if errors.Is(err, ErrLeaseLost) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
		q.logger.Warn("expired lease reclaimed",
			logging.Field{Key: "job_id", Value: job.ID},
			logging.Field{Key: "attempt", Value: job.AttemptsMade},
			logging.Field{Key: "outcome", Value: outcome.String()})
	}
	return n, nil
}
