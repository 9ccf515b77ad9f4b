package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/raysh454/lumen/internal/analysis"
	"github.com/raysh454/lumen/internal/artifacts"
	"github.com/raysh454/lumen/internal/auditor"
	"github.com/raysh454/lumen/internal/events"
	"github.com/raysh454/lumen/internal/logging"
	"github.com/raysh454/lumen/internal/model"
	"github.com/raysh454/lumen/internal/queue"
	"github.com/raysh454/lumen/internal/report"
	"github.com/raysh454/lumen/internal/store"
	"github.com/raysh454/lumen/internal/telemetry"
	"github.com/raysh454/lumen/internal/utils"
	"github.com/raysh454/lumen/internal/worker"
)

var (
	// ErrInvalidURL wraps the validation error of a rejected submission.
	ErrInvalidURL = errors.New("invalid scan url")

	// ErrEnqueueFailed means the scan was stored as pending but could not be
	// queued. The scan can be requeued later.
	ErrEnqueueFailed = errors.New("scan stored but not queued")

	// ErrNotRequeueable is returned by Requeue for scans that are not pending.
	ErrNotRequeueable = errors.New("only pending scans can be requeued")
)

// SubmitRequest is the input of Submit.
type SubmitRequest struct {
	URL      string
	UserID   string
	Priority int
}

// Page is one page of List results.
type Page struct {
	Data       []*model.Scan `json:"data"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	TotalPages int           `json:"totalPages"`
}

// Health is the readiness report of the pipeline.
type Health struct {
	Status   string      `json:"status"`
	Database string      `json:"database"`
	Queue    string      `json:"queue"`
	Workers  WorkerStats `json:"workers"`
}

// WorkerStats describes the local worker pool.
type WorkerStats struct {
	InFlight  int `json:"inFlight"`
	Processed int `json:"processed"`
}

// Deps are the collaborators of an Orchestrator. Artifacts, Analyzer and
// Metrics are optional.
type Deps struct {
	Store     store.Store
	Queue     *queue.Queue
	Runner    auditor.Runner
	Artifacts artifacts.Store
	Analyzer  analysis.Analyzer
	Metrics   *telemetry.Metrics
	Logger    logging.Logger
}

// Orchestrator is the application service behind the HTTP API: it creates
// scans, queues them, answers queries and owns the worker pool.
type Orchestrator struct {
	cfg       *Config
	store     store.Store
	queue     *queue.Queue
	runner    auditor.Runner
	pool      *worker.Pool
	bus       *events.Bus
	artifacts artifacts.Store
	analyzer  analysis.Analyzer
	metrics   *telemetry.Metrics
	logger    logging.Logger

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	bg      sync.WaitGroup
}

// NewOrchestrator ties together config and already-built collaborators.
func NewOrchestrator(cfg *Config, deps Deps) (*Orchestrator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if deps.Store == nil || deps.Queue == nil || deps.Runner == nil {
		return nil, errors.New("orchestrator: store, queue and runner are required")
	}
	if deps.Logger == nil {
		return nil, errors.New("orchestrator: nil logger provided")
	}
	bus := events.NewBus()
	o := &Orchestrator{
		cfg:       cfg,
		store:     deps.Store,
		queue:     deps.Queue,
		runner:    deps.Runner,
		bus:       bus,
		artifacts: deps.Artifacts,
		analyzer:  deps.Analyzer,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}

	wdeps := worker.Deps{
		Queue:     deps.Queue,
		Store:     deps.Store,
		Runner:    deps.Runner,
		Bus:       bus,
		Artifacts: deps.Artifacts,
		Logger:    deps.Logger,
	}
	if deps.Metrics != nil {
		wdeps.Observer = deps.Metrics
	}
	pool, err := worker.NewPool(cfg.Worker, wdeps)
	if err != nil {
		return nil, err
	}
	o.pool = pool
	return o, nil
}

// Open builds every collaborator from cfg and returns a ready Orchestrator.
func Open(ctx context.Context, cfg *Config, logger logging.Logger) (*Orchestrator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	q, err := queue.Open(cfg.Queue, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	runner, err := auditor.New(cfg.Auditor, logger)
	if err != nil {
		q.Close()
		st.Close()
		return nil, err
	}
	arts, err := artifacts.Open(ctx, cfg.Artifacts)
	if err != nil {
		runner.Close()
		q.Close()
		st.Close()
		return nil, err
	}
	deps := Deps{Store: st, Queue: q, Runner: runner, Artifacts: arts, Logger: logger}

	an, err := analysis.New(cfg.Analysis, logger)
	switch {
	case errors.Is(err, analysis.ErrDisabled):
		logger.Info("remediation analysis disabled")
	case err != nil:
		runner.Close()
		q.Close()
		st.Close()
		return nil, err
	default:
		deps.Analyzer = an
	}

	metrics, err := telemetry.NewMetrics(cfg.Telemetry)
	if err != nil {
		runner.Close()
		q.Close()
		st.Close()
		return nil, err
	}
	deps.Metrics = metrics

	o, err := NewOrchestrator(cfg, deps)
	if err != nil {
		runner.Close()
		q.Close()
		st.Close()
		return nil, err
	}
	return o, nil
}

// Start launches the lease reaper, the worker pool and the queue metrics
// loop, fails scans stranded in processing by a dead job, then requeues
// scans left pending by earlier enqueue failures.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return queue.ErrClosed
	}
	if o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = true
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.mu.Unlock()

	o.queue.Start(ctx)
	o.pool.Start(ctx)

	if n, err := o.ReconcileProcessing(ctx); err != nil {
		o.logger.Warn("reconciling processing scans failed", logging.Field{Key: "error", Value: err})
	} else if n > 0 {
		o.logger.Info("failed stuck scans", logging.Field{Key: "count", Value: n})
	}

	if n, err := o.RecoverPending(ctx); err != nil {
		o.logger.Warn("recovering pending scans failed", logging.Field{Key: "error", Value: err})
	} else if n > 0 {
		o.logger.Info("requeued pending scans", logging.Field{Key: "count", Value: n})
	}

	if o.metrics != nil {
		o.bg.Add(1)
		go o.observeQueue(ctx)
	}
	return nil
}

func (o *Orchestrator) observeQueue(ctx context.Context) {
	defer o.bg.Done()
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()
	for {
		if _, err := o.QueueStats(ctx); err != nil && ctx.Err() == nil {
			o.logger.Debug("queue stats failed", logging.Field{Key: "error", Value: err})
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Close stops workers first so no job is left half-settled, then releases
// the queue, runner, store and event bus.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	cancel := o.cancel
	o.mu.Unlock()

	o.pool.Stop()
	if cancel != nil {
		cancel()
	}
	o.bg.Wait()

	var errs []error
	if err := o.queue.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close queue: %w", err))
	}
	if err := o.runner.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close runner: %w", err))
	}
	if err := o.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	o.bus.Close()
	return errors.Join(errs...)
}

// Submit validates the URL, stores a pending scan and queues it. An invalid
// URL creates nothing. When queueing fails the stored scan is returned along
// with ErrEnqueueFailed.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*model.Scan, error) {
	target, err := utils.ValidateScanURL(req.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = o.cfg.DefaultUserID
	}

	now := time.Now().UTC()
	sc := &model.Scan{
		ID:        uuid.NewString(),
		URL:       target,
		UserID:    userID,
		Status:    model.StatusPending,
		Priority:  req.Priority,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ctx, span := telemetry.StartSpan(ctx, "scan.submit", sc.ID, attribute.String("scan.url", target))
	if err := o.store.Create(ctx, sc); err != nil {
		telemetry.EndSpan(span, err)
		return nil, err
	}

	err = o.enqueue(ctx, sc)
	telemetry.EndSpan(span, err)
	if err != nil {
		o.countSubmit("enqueue_failed")
		return sc, err
	}
	o.countSubmit("accepted")
	o.logger.Info("scan submitted",
		logging.Field{Key: "scan_id", Value: sc.ID},
		logging.Field{Key: "url", Value: sc.URL},
		logging.Field{Key: "user_id", Value: sc.UserID})
	return sc, nil
}

func (o *Orchestrator) countSubmit(result string) {
	if o.metrics != nil {
		o.metrics.ScanSubmitted(result)
	}
}

func (o *Orchestrator) enqueue(ctx context.Context, sc *model.Scan) error {
	payload := model.JobPayload{
		ScanID:      sc.ID,
		URL:         sc.URL,
		Priority:    sc.Priority,
		MaxAttempts: o.cfg.Queue.DefaultMaxAttempts,
	}.Normalize()
	res, err := o.queue.Enqueue(ctx, payload)
	if err != nil {
		o.logger.Error("enqueue failed, scan left pending",
			logging.Field{Key: "scan_id", Value: sc.ID},
			logging.Field{Key: "error", Value: err})
		return fmt.Errorf("%w: %w", ErrEnqueueFailed, err)
	}
	if res == queue.Duplicate {
		o.logger.Debug("scan already queued", logging.Field{Key: "scan_id", Value: sc.ID})
	}
	return nil
}

// Get returns the scan or store.ErrNotFound.
func (o *Orchestrator) Get(ctx context.Context, id string) (*model.Scan, error) {
	return o.store.Get(ctx, id)
}

// List returns one page of scans, newest first. page starts at 1; limit is
// clamped to the configured page sizes.
func (o *Orchestrator) List(ctx context.Context, f store.Filter, page, limit int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = o.cfg.Server.DefaultPageSize
	}
	if ceiling := o.cfg.Server.MaxPageSize; ceiling > 0 && limit > ceiling {
		limit = ceiling
	}
	scans, total, err := o.store.List(ctx, f, page, limit)
	if err != nil {
		return Page{}, err
	}
	if scans == nil {
		scans = []*model.Scan{}
	}
	return Page{
		Data:       scans,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: int(math.Ceil(float64(total) / float64(limit))),
	}, nil
}

// Statistics counts scans by status. An empty userID counts everything.
func (o *Orchestrator) Statistics(ctx context.Context, userID string) (model.StatusCounts, error) {
	return o.store.CountByStatus(ctx, userID)
}

// Delete removes the scan and its artifacts. A queued or running job is left
// alone; the worker drops it when it finds the scan gone.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	if err := o.store.Delete(ctx, id); err != nil {
		return err
	}
	if o.artifacts != nil {
		if err := o.artifacts.DeletePrefix(ctx, artifacts.ScanPrefix(id)); err != nil {
			o.logger.Warn("deleting artifacts failed",
				logging.Field{Key: "scan_id", Value: id},
				logging.Field{Key: "error", Value: err})
		}
	}
	o.logger.Info("scan deleted", logging.Field{Key: "scan_id", Value: id})
	return nil
}

// Requeue queues a pending scan again. Queueing a scan that is already
// waiting or running is a no-op.
func (o *Orchestrator) Requeue(ctx context.Context, id string) (*model.Scan, error) {
	sc, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sc.Status != model.StatusPending {
		return sc, fmt.Errorf("%w: scan %s is %s", ErrNotRequeueable, id, sc.Status)
	}
	if err := o.enqueue(ctx, sc); err != nil {
		return sc, err
	}
	o.logger.Info("scan requeued", logging.Field{Key: "scan_id", Value: id})
	return sc, nil
}

// Rescan submits a new scan of the same URL for the same user. The original
// scan is kept as history.
func (o *Orchestrator) Rescan(ctx context.Context, id string) (*model.Scan, error) {
	prev, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.Submit(ctx, SubmitRequest{URL: prev.URL, UserID: prev.UserID, Priority: prev.Priority})
}

// RecoverPending queues every pending scan. Scans already queued are
// reported as duplicates by the queue and left alone.
func (o *Orchestrator) RecoverPending(ctx context.Context) (int, error) {
	pending, err := o.scansIn(ctx, model.StatusPending)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sc := range pending {
		res, err := o.queue.Enqueue(ctx, model.JobPayload{
			ScanID: sc.ID, URL: sc.URL, Priority: sc.Priority, MaxAttempts: o.cfg.Queue.DefaultMaxAttempts,
		}.Normalize())
		if err != nil {
			return n, err
		}
		if res == queue.Accepted {
			n++
		}
	}
	return n, nil
}

// ReconcileProcessing fails processing scans whose job is dead or gone from
// the queue. Those scans missed their terminal write and nothing else would
// ever settle them.
func (o *Orchestrator) ReconcileProcessing(ctx context.Context) (int, error) {
	scans, err := o.scansIn(ctx, model.StatusProcessing)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sc := range scans {
		var msg string
		job, err := o.queue.Get(ctx, sc.ID)
		switch {
		case errors.Is(err, queue.ErrNotFound):
			msg = "scan job lost"
		case err != nil:
			return n, err
		case job.State == queue.StateDead:
			msg = job.LastError
			if msg == "" {
				msg = "scan failed"
			}
		default:
			continue
		}
		err = o.store.MarkFailed(ctx, sc.ID, msg, time.Now().UTC())
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return n, err
		}
		o.logger.Warn("stuck scan marked failed",
			logging.Field{Key: "scan_id", Value: sc.ID},
			logging.Field{Key: "error", Value: msg})
		o.bus.Publish(events.Event{ScanID: sc.ID, Type: events.TypeFailed, Status: model.StatusFailed, Error: msg})
		n++
	}
	return n, nil
}

// scansIn collects every scan in status with keyset pagination, so scans
// moving out of status meanwhile cannot hide later ones.
func (o *Orchestrator) scansIn(ctx context.Context, status model.Status) ([]*model.Scan, error) {
	const batch = 100
	var (
		out   []*model.Scan
		after store.Cursor
	)
	for {
		scans, err := o.store.ListAfter(ctx, status, after, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, scans...)
		if len(scans) < batch {
			return out, nil
		}
		last := scans[len(scans)-1]
		after = store.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
}

// QueueStats reports the queue counts and refreshes the queue gauges.
func (o *Orchestrator) QueueStats(ctx context.Context) (queue.Stats, error) {
	st, err := o.queue.Stats(ctx)
	if err != nil {
		return queue.Stats{}, err
	}
	if o.metrics != nil {
		o.metrics.ObserveQueue(st)
	}
	return st, nil
}

func (o *Orchestrator) PauseQueue()  { o.queue.Pause() }
func (o *Orchestrator) ResumeQueue() { o.queue.Resume() }

// DrainQueue drops every waiting job. Their scans stay pending and can be
// requeued.
func (o *Orchestrator) DrainQueue(ctx context.Context) (int, error) {
	return o.queue.Drain(ctx)
}

// Health pings the store and the queue.
func (o *Orchestrator) Health(ctx context.Context) Health {
	h := Health{Status: "ok", Database: "ok", Queue: "ok"}
	if err := o.store.Ping(ctx); err != nil {
		h.Status, h.Database = "degraded", err.Error()
	}
	if err := o.queue.Ping(ctx); err != nil {
		h.Status, h.Queue = "degraded", err.Error()
	} else if o.queue.IsPaused() {
		h.Queue = "paused"
	}
	h.Workers.InFlight, h.Workers.Processed = o.pool.Stats()
	return h
}

// Subscribe streams lifecycle events of one scan.
func (o *Orchestrator) Subscribe(scanID string) *events.Subscription {
	return o.bus.Subscribe(scanID, 32)
}

// Compare diffs two completed scans of the same URL.
func (o *Orchestrator) Compare(ctx context.Context, baseID, headID string) (*report.Comparison, error) {
	base, err := o.store.Get(ctx, baseID)
	if err != nil {
		return nil, err
	}
	head, err := o.store.Get(ctx, headID)
	if err != nil {
		return nil, err
	}
	return report.Compare(base, head)
}

// Analyze asks the configured model for remediation advice.
func (o *Orchestrator) Analyze(ctx context.Context, id string) (*analysis.Analysis, error) {
	if o.analyzer == nil {
		return nil, analysis.ErrDisabled
	}
	sc, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sc.Status != model.StatusCompleted || sc.Results == nil {
		return nil, report.ErrNotCompleted
	}
	return o.analyzer.Analyze(ctx, sc)
}

// Report renders a completed scan. JSON returns the scan record itself.
func (o *Orchestrator) Report(ctx context.Context, id string, format report.Format) ([]byte, error) {
	sc, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch format {
	case report.FormatPDF:
		return report.PDF(sc)
	case report.FormatJSON:
		if sc.Status != model.StatusCompleted {
			return nil, report.ErrNotCompleted
		}
		return json.MarshalIndent(sc, "", "  ")
	default:
		return report.Markdown(sc)
	}
}

// Metrics returns the metrics registry owner, or nil.
func (o *Orchestrator) Metrics() *telemetry.Metrics { return o.metrics }

// Config returns the configuration the orchestrator was built with.
func (o *Orchestrator) Config() *Config { return o.cfg }
