// Package worker consumes scan jobs from the queue, runs the audit and
// persists the outcome on the scan record.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/raysh454/lumen/internal/artifacts"
	"github.com/raysh454/lumen/internal/auditor"
	"github.com/raysh454/lumen/internal/events"
	"github.com/raysh454/lumen/internal/logging"
	"github.com/raysh454/lumen/internal/model"
	"github.com/raysh454/lumen/internal/queue"
	"github.com/raysh454/lumen/internal/score"
	"github.com/raysh454/lumen/internal/store"
	"github.com/raysh454/lumen/internal/telemetry"
	"github.com/raysh454/lumen/internal/utils"
)

// Queue is the part of *queue.Queue the pool consumes.
type Queue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Ack(ctx context.Context, job *queue.Job) error
	Fail(ctx context.Context, job *queue.Job, cause error) (queue.Outcome, error)
	Extend(ctx context.Context, job *queue.Job) error
	Release(ctx context.Context, job *queue.Job) error
	LeaseDuration() time.Duration
	SetDeadLetterHandler(fn queue.DeadLetterFunc)
}

// ScanStore is the part of store.Store the pool writes to.
type ScanStore interface {
	Get(ctx context.Context, id string) (*model.Scan, error)
	MarkProcessing(ctx context.Context, id string, at time.Time) error
	MarkCompleted(ctx context.Context, id string, c store.Completion, at time.Time) error
	MarkFailed(ctx context.Context, id string, message string, at time.Time) error
}

// Observer receives per-job measurements. *telemetry.Metrics implements it.
type Observer interface {
	JobCompleted(d time.Duration, score int)
	JobFailed(d time.Duration, outcome string)
}

// Deps are the collaborators of a Pool. Bus, Artifacts and Observer are optional.
type Deps struct {
	Queue     Queue
	Store     ScanStore
	Runner    auditor.Runner
	Bus       *events.Bus
	Artifacts artifacts.Store
	Observer  Observer
	Logger    logging.Logger
}

var errShutdown = errors.New("worker: shutting down")

// Pool runs Concurrency consumers over the queue.
type Pool struct {
	cfg Config
	Deps
	now func() time.Time

	mu        sync.Mutex
	running   bool
	stopLoop  context.CancelFunc
	stopJobs  context.CancelFunc
	wg        sync.WaitGroup
	inFlight  int
	processed int
}

// NewPool wires the pool and registers it as the queue's dead-letter handler.
func NewPool(cfg Config, deps Deps) (*Pool, error) {
	if deps.Queue == nil || deps.Store == nil || deps.Runner == nil {
		return nil, errors.New("worker: queue, store and runner are required")
	}
	if deps.Logger == nil {
		return nil, errors.New("worker: nil logger provided")
	}
	cfg.applyDefaults()
	deps.Logger = deps.Logger.With(logging.Field{Key: "component", Value: "worker"})
	if lease := deps.Queue.LeaseDuration(); lease > 0 && cfg.AuditTimeout >= lease {
		return nil, fmt.Errorf("worker: audit timeout %s must be shorter than the queue lease %s", cfg.AuditTimeout, lease)
	}
	p := &Pool{cfg: cfg, Deps: deps, now: func() time.Time { return time.Now().UTC() }}
	deps.Queue.SetDeadLetterHandler(p.deadLetter)
	return p, nil
}

// Start launches the consumers. It returns immediately.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	loopCtx, stopLoop := context.WithCancel(ctx)
	// Jobs outlive the loop context so Stop can let them finish.
	jobCtx, stopJobs := context.WithCancel(context.WithoutCancel(ctx))
	p.stopLoop, p.stopJobs = stopLoop, stopJobs

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.consume(loopCtx, jobCtx, i)
	}
	p.Logger.Info("worker pool started", logging.Field{Key: "concurrency", Value: p.cfg.Concurrency})
}

// Stop stops taking new jobs, waits up to ShutdownGrace for running ones and
// then cancels them.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stopLoop, stopJobs := p.stopLoop, p.stopJobs
	p.mu.Unlock()

	stopLoop()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.cfg.ShutdownGrace):
		p.Logger.Warn("shutdown grace elapsed, cancelling running audits")
		stopJobs()
		<-done
	}
	stopJobs()
	p.Logger.Info("worker pool stopped")
}

// Stats reports the jobs currently running and the jobs settled so far.
func (p *Pool) Stats() (inFlight, processed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight, p.processed
}

func (p *Pool) consume(loopCtx, jobCtx context.Context, id int) {
	defer p.wg.Done()
	log := p.Logger.With(logging.Field{Key: "worker", Value: id})
	for {
		job, err := p.Queue.Dequeue(loopCtx)
		if err != nil {
			if loopCtx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			log.Error("dequeue failed", logging.Field{Key: "error", Value: err})
			select {
			case <-loopCtx.Done():
				return
			case <-time.After(p.cfg.ErrorBackoff):
			}
			continue
		}

		p.track(1)
		p.Process(jobCtx, job)
		p.track(-1)
	}
}

func (p *Pool) track(delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight += delta
	if delta < 0 {
		p.processed++
	}
}

func (p *Pool) publish(ev events.Event) {
	if p.Bus != nil {
		p.Bus.Publish(ev)
	}
}

// Process runs one delivered job to a settled state. It is exported for
// tests and for callers that drive the queue themselves.
func (p *Pool) Process(ctx context.Context, job *queue.Job) {
	ctx, span := telemetry.StartSpan(ctx, "scan.process", job.ID,
		attribute.Int("job.attempt", job.AttemptsMade),
		attribute.String("scan.url", job.Payload.URL))
	var spanErr error
	defer func() { telemetry.EndSpan(span, spanErr) }()

	log := p.Logger.With(
		logging.Field{Key: "scan_id", Value: job.ID},
		logging.Field{Key: "attempt", Value: job.AttemptsMade})

	if err := p.Store.MarkProcessing(ctx, job.ID, p.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidTransition) {
			// Deleted or already settled while queued.
			log.Warn("scan no longer processable, dropping job", logging.Field{Key: "error", Value: err})
			p.ack(ctx, job, log)
			return
		}
		spanErr = err
		if ctx.Err() != nil {
			p.release(ctx, job, log)
			return
		}
		p.fail(ctx, job, fmt.Errorf("mark processing: %w", err), 0, log)
		return
	}
	p.publish(events.Event{ScanID: job.ID, Type: events.TypeStarted, Status: model.StatusProcessing,
		Attempt: job.AttemptsMade, Progress: 10})

	target, err := utils.ValidateScanURL(job.Payload.URL)
	if err != nil {
		spanErr = err
		p.fail(ctx, job, queue.Permanent(err), 0, log)
		return
	}

	start := time.Now()
	report, err := p.audit(ctx, job, target, log)
	elapsed := time.Since(start)
	if err != nil {
		spanErr = err
		if errors.Is(err, errShutdown) {
			p.release(ctx, job, log)
			return
		}
		if auditor.IsPermanent(err) {
			err = queue.Permanent(err)
		}
		p.fail(ctx, job, err, elapsed, log)
		return
	}
	p.publish(events.Event{ScanID: job.ID, Type: events.TypeProgress, Status: model.StatusProcessing,
		Attempt: job.AttemptsMade, Progress: 80})

	res, err := score.FromReport(report)
	if err != nil {
		spanErr = err
		p.fail(ctx, job, fmt.Errorf("%w: %v", auditor.ErrMalformed, err), elapsed, log)
		return
	}

	if p.Artifacts != nil {
		keys, err := artifacts.SaveReport(ctx, p.Artifacts, job.ID, report)
		if err != nil {
			log.Warn("saving artifacts failed", logging.Field{Key: "error", Value: err})
		}
		report.Artifacts = keys
	}

	err = p.Store.MarkCompleted(context.WithoutCancel(ctx), job.ID, store.Completion{
		Results:     report,
		Score:       res.Score,
		Counts:      res.Counts,
		PassedCount: res.PassedCount,
		TotalRules:  res.TotalRules,
	}, p.now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Warn("scan deleted during audit, result discarded")
		p.ack(ctx, job, log)
		return
	case err != nil:
		spanErr = err
		p.fail(ctx, job, fmt.Errorf("persist result: %w", err), elapsed, log)
		return
	}

	p.ack(ctx, job, log)
	if p.Observer != nil {
		p.Observer.JobCompleted(elapsed, res.Score)
	}
	scoreVal := res.Score
	p.publish(events.Event{ScanID: job.ID, Type: events.TypeCompleted, Status: model.StatusCompleted,
		Attempt: job.AttemptsMade, Progress: 100, Score: &scoreVal})
	log.Info("scan completed",
		logging.Field{Key: "score", Value: res.Score},
		logging.Field{Key: "violations", Value: len(report.Findings)},
		logging.Field{Key: "duration_ms", Value: elapsed.Milliseconds()})
}

// audit runs the auditor under AuditTimeout while heartbeating the lease.
// A panic in the runner is returned as an error.
func (p *Pool) audit(ctx context.Context, job *queue.Job, target string, log logging.Logger) (report *model.AuditReport, err error) {
	auditCtx, cancel := context.WithTimeout(ctx, p.cfg.AuditTimeout)
	defer cancel()

	stopBeat := p.heartbeat(auditCtx, cancel, job, log)
	defer stopBeat()

	defer func() {
		if r := recover(); r != nil {
			log.Error("audit panicked",
				logging.Field{Key: "panic", Value: fmt.Sprint(r)},
				logging.Field{Key: "stack", Value: string(debug.Stack())})
			report, err = nil, fmt.Errorf("audit panicked: %v", r)
		}
	}()

	report, err = p.Runner.Audit(auditCtx, target)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errShutdown
		}
		if errors.Is(auditCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, auditor.ErrMalformed) {
			return nil, fmt.Errorf("audit timed out after %s: %w", p.cfg.AuditTimeout, err)
		}
		return nil, err
	}
	if report == nil {
		return nil, fmt.Errorf("%w: runner returned no report", auditor.ErrMalformed)
	}
	return report, nil
}

// heartbeat extends the lease until the returned stop func is called. Losing
// the lease cancels the audit.
func (p *Pool) heartbeat(ctx context.Context, cancel context.CancelFunc, job *queue.Job, log logging.Logger) func() {
	every := p.cfg.HeartbeatInterval
	if every <= 0 {
		every = p.Queue.LeaseDuration() / 3
	}
	if every <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if err := p.Queue.Extend(ctx, job); err != nil {
					if errors.Is(err, queue.ErrLeaseLost) {
						log.Warn("lease lost, abandoning audit")
						cancel()
						return
					}
					log.Warn("lease extend failed", logging.Field{Key: "error", Value: err})
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

func (p *Pool) ack(ctx context.Context, job *queue.Job, log logging.Logger) {
	if err := p.Queue.Ack(context.WithoutCancel(ctx), job); err != nil {
		log.Error("ack failed", logging.Field{Key: "error", Value: err})
	}
}

// release gives an interrupted job back to the queue without spending the
// attempt. The scan stays processing until the job is redelivered.
func (p *Pool) release(ctx context.Context, job *queue.Job, log logging.Logger) {
	if err := p.Queue.Release(context.WithoutCancel(ctx), job); err != nil {
		log.Error("releasing interrupted job failed", logging.Field{Key: "error", Value: err})
		return
	}
	log.Info("audit interrupted by shutdown, job released")
}

// fail hands the error to the queue. A retry leaves the scan processing;
// dead-lettering is finished by deadLetter.
func (p *Pool) fail(ctx context.Context, job *queue.Job, cause error, elapsed time.Duration, log logging.Logger) {
	// Settle even when the job context was cancelled by shutdown.
	outcome, err := p.Queue.Fail(context.WithoutCancel(ctx), job, cause)
	if err != nil {
		if errors.Is(err, queue.ErrLeaseLost) {
			log.Warn("lease lost before failure was recorded", logging.Field{Key: "error", Value: cause})
			return
		}
		log.Error("recording failure failed",
			logging.Field{Key: "error", Value: err},
			logging.Field{Key: "cause", Value: cause})
		return
	}
	if p.Observer != nil {
		label := "retried"
		if outcome == queue.DeadLettered {
			label = "dead"
		}
		p.Observer.JobFailed(elapsed, label)
	}
	if outcome == queue.Retried {
		log.Warn("audit failed, will retry",
			logging.Field{Key: "error", Value: cause},
			logging.Field{Key: "remaining", Value: job.AttemptsRemaining()})
		p.publish(events.Event{ScanID: job.ID, Type: events.TypeRetrying, Status: model.StatusProcessing,
			Attempt: job.AttemptsMade, Error: cause.Error()})
	}
}

// deadLetter runs for every buried job, including those reclaimed by the
// reaper, and writes the terminal failure exactly once. Store errors are
// retried here because the queue will not deliver a dead job again.
func (p *Pool) deadLetter(ctx context.Context, job *queue.Job, cause error) {
	msg := failureMessage(cause)
	log := p.Logger.With(logging.Field{Key: "scan_id", Value: job.ID})

	err := p.persist(ctx, log, func(ctx context.Context) error {
		return p.Store.MarkFailed(ctx, job.ID, msg, p.now())
	})
	if errors.Is(err, store.ErrInvalidTransition) {
		// Buried before the worker marked it processing.
		var sc *model.Scan
		gerr := p.persist(ctx, log, func(ctx context.Context) error {
			var err error
			sc, err = p.Store.Get(ctx, job.ID)
			return err
		})
		if gerr == nil && sc.Status == model.StatusPending {
			err = p.persist(ctx, log, func(ctx context.Context) error {
				if err := p.Store.MarkProcessing(ctx, job.ID, p.now()); err != nil {
					return err
				}
				return p.Store.MarkFailed(ctx, job.ID, msg, p.now())
			})
		}
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Warn("dead-lettered job has no scan record")
		return
	case errors.Is(err, store.ErrInvalidTransition):
		log.Warn("scan already settled, failure not recorded", logging.Field{Key: "error", Value: err})
		return
	case err != nil:
		log.Error("persisting scan failure failed", logging.Field{Key: "error", Value: err})
		return
	}
	log.Warn("scan failed", logging.Field{Key: "error", Value: msg}, logging.Field{Key: "attempts", Value: job.AttemptsMade})
	p.publish(events.Event{ScanID: job.ID, Type: events.TypeFailed, Status: model.StatusFailed,
		Attempt: job.AttemptsMade, Error: msg})
}

// persist retries write on store errors, up to StoreRetries times.
// Not-found and invalid-transition errors return at once.
func (p *Pool) persist(ctx context.Context, log logging.Logger, write func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := write(ctx)
		if err == nil || errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidTransition) {
			return err
		}
		if attempt > p.cfg.StoreRetries {
			return err
		}
		delay := queue.Backoff(p.cfg.StoreRetryBackoff, 0, attempt)
		log.Warn("store write failed, retrying",
			logging.Field{Key: "error", Value: err},
			logging.Field{Key: "attempt", Value: attempt},
			logging.Field{Key: "delay", Value: delay.String()})
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

func failureMessage(cause error) string {
	var pe *queue.PermanentError
	if errors.As(cause, &pe) {
		cause = pe.Err
	}
	if cause == nil {
		return "scan failed"
	}
	return cause.Error()
}
