// Package poller tracks submitted scans from the client side until they
// reach a terminal state, surviving transient API errors and restarts.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/raysh454/lumen/internal/logging"
	"github.com/raysh454/lumen/internal/model"
)

// State is what the client shows for a tracked scan.
type State string

const (
	StateStarting  State = "starting"
	StateScanning  State = "scanning"
	StateRetrying  State = "retrying"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimeout   State = "timeout"
)

// Terminal reports whether tracking stops in this state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTimeout
}

// Update is one progress notification.
type Update struct {
	ScanID   string
	State    State
	Progress int
	Message  string
	Polls    int

	// Scan is the last record fetched, nil until the first successful poll.
	Scan *model.Scan
	At   time.Time
}

// Fetcher reads the current scan record from the server.
type Fetcher interface {
	GetScan(ctx context.Context, id string) (*model.Scan, error)
}

type tracker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// ErrStopped is returned by Track after Stop.
var ErrStopped = errors.New("poller: controller stopped")

// Controller runs one delay-then-check loop per tracked scan.
type Controller struct {
	cfg     Config
	fetch   Fetcher
	states  StateStore
	logger  logging.Logger
	updates chan Update

	mu      sync.Mutex
	tracked map[string]*tracker
	stopped bool
	wg      sync.WaitGroup

	now func() time.Time
}

// NewController builds a Controller. Updates must be drained by the caller;
// when the buffer is full the oldest pending update is dropped.
func NewController(cfg Config, fetch Fetcher, states StateStore, logger logging.Logger) (*Controller, error) {
	if fetch == nil {
		return nil, errors.New("poller: nil fetcher")
	}
	if states == nil {
		return nil, errors.New("poller: nil state store")
	}
	if logger == nil {
		return nil, errors.New("poller: nil logger provided")
	}
	cfg.applyDefaults()
	return &Controller{
		cfg:     cfg,
		fetch:   fetch,
		states:  states,
		logger:  logger.With(logging.Field{Key: "component", Value: "poller"}),
		updates: make(chan Update, cfg.UpdateBuffer),
		tracked: make(map[string]*tracker),
		now:     time.Now,
	}, nil
}

// Updates delivers progress for every tracked scan. It is closed by Stop.
func (c *Controller) Updates() <-chan Update { return c.updates }

// Track persists an entry for scanID and starts polling it. Tracking a scan
// that is already tracked is a no-op.
func (c *Controller) Track(ctx context.Context, scanID, jobID string) error {
	if scanID == "" {
		return &model.ValidationError{Field: "scanId", Reason: "required"}
	}
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	e, ok, err := c.states.Get(ctx, scanID)
	if err != nil {
		return err
	}
	if !ok {
		if jobID == "" {
			jobID = scanID
		}
		e = Entry{ScanID: scanID, JobID: jobID, StartedAt: c.now().UTC(), Progress: c.cfg.ProgressBaseline}
		if err := c.states.Set(ctx, e); err != nil {
			return fmt.Errorf("poller: persist %s: %w", scanID, err)
		}
	}
	return c.start(ctx, e, StateStarting, "Starting")
}

// Resume tracks every persisted entry and returns how many loops it started.
func (c *Controller) Resume(ctx context.Context) (int, error) {
	entries, err := c.states.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if c.isTracked(e.ScanID) {
			continue
		}
		if err := c.start(ctx, e, StateScanning, "Resuming"); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		c.logger.Info("resumed tracking", logging.Field{Key: "count", Value: n})
	}
	return n, nil
}

func (c *Controller) isTracked(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tracked[id]
	return ok
}

func (c *Controller) start(ctx context.Context, e Entry, initial State, msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	if _, ok := c.tracked[e.ScanID]; ok {
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	tr := &tracker{cancel: cancel, done: make(chan struct{})}
	c.tracked[e.ScanID] = tr
	c.wg.Add(1)
	go c.loop(loopCtx, tr, e, initial, msg)
	return nil
}

// Untrack stops polling scanID and forgets its persisted entry.
func (c *Controller) Untrack(ctx context.Context, scanID string) error {
	c.mu.Lock()
	tr, ok := c.tracked[scanID]
	delete(c.tracked, scanID)
	c.mu.Unlock()
	if ok {
		tr.cancel()
		<-tr.done
	}
	return c.states.Delete(ctx, scanID)
}

// Tracking lists the scan ids with a running loop.
func (c *Controller) Tracking() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.tracked))
	for id := range c.tracked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stop cancels every loop, waits for them and closes Updates. Persisted
// entries are kept so a later Resume picks them up.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	for _, tr := range c.tracked {
		tr.cancel()
	}
	c.mu.Unlock()

	c.wg.Wait()
	close(c.updates)
}

func (c *Controller) emit(u Update) {
	u.At = c.now()
	for {
		select {
		case c.updates <- u:
			return
		default:
		}
		select {
		case <-c.updates:
		default:
		}
	}
}

// progressFor maps completed polls onto [baseline, cap].
func (c *Controller) progressFor(polls, prev int) int {
	p := polls * c.cfg.ProgressCap / c.cfg.MaxPolls
	if p < c.cfg.ProgressBaseline {
		p = c.cfg.ProgressBaseline
	}
	if p < prev {
		p = prev
	}
	if p > c.cfg.ProgressCap {
		p = c.cfg.ProgressCap
	}
	return p
}

func (c *Controller) loop(ctx context.Context, tr *tracker, e Entry, initial State, msg string) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		if c.tracked[e.ScanID] == tr {
			delete(c.tracked, e.ScanID)
		}
		c.mu.Unlock()
		tr.cancel()
		close(tr.done)
	}()

	log := c.logger.With(logging.Field{Key: "scan_id", Value: e.ScanID})
	progress := c.progressFor(e.Polls, e.Progress)
	c.emit(Update{ScanID: e.ScanID, State: initial, Progress: progress, Message: msg, Polls: e.Polls})

	var (
		last      *model.Scan
		delay     = c.cfg.Interval
		transient int
	)
	finish := func(state State, p int, message string) {
		if err := c.states.Delete(context.WithoutCancel(ctx), e.ScanID); err != nil {
			log.Warn("removing tracked scan failed", logging.Field{Key: "error", Value: err})
		}
		c.emit(Update{ScanID: e.ScanID, State: state, Progress: p, Message: message, Polls: e.Polls, Scan: last})
		log.Info("tracking finished",
			logging.Field{Key: "state", Value: string(state)},
			logging.Field{Key: "polls", Value: e.Polls})
	}

	for {
		if e.Polls >= c.cfg.MaxPolls {
			finish(StateTimeout, progress, "Timed out, the scan may still be running")
			return
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		sc, err := c.fetch.GetScan(ctx, e.ScanID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if IsTransient(err) {
				transient++
				if c.cfg.MaxTransientErrors > 0 && transient >= c.cfg.MaxTransientErrors {
					finish(StateTimeout, progress, "Server unreachable, the scan may still be running")
					return
				}
				log.Debug("transient poll error", logging.Field{Key: "error", Value: err})
				c.emit(Update{ScanID: e.ScanID, State: StateRetrying, Progress: progress,
					Message: "Temporary issue, retrying", Polls: e.Polls, Scan: last})
				delay = c.cfg.TransientDelay
				continue
			}
			finish(StateFailed, 0, err.Error())
			return
		}

		transient = 0
		delay = c.cfg.Interval
		last = sc
		e.Polls++

		switch sc.Status {
		case model.StatusCompleted:
			finish(StateCompleted, 100, "Scan completed")
			return
		case model.StatusFailed:
			message := "Scan failed"
			if sc.ErrorMessage != nil && *sc.ErrorMessage != "" {
				message = *sc.ErrorMessage
			}
			finish(StateFailed, 0, message)
			return
		}

		if ctx.Err() != nil {
			return
		}
		progress = c.progressFor(e.Polls, progress)
		e.Progress = progress
		if err := c.states.Set(ctx, e); err != nil && ctx.Err() == nil {
			log.Warn("persisting poll state failed", logging.Field{Key: "error", Value: err})
		}
		elapsed := c.now().Sub(e.StartedAt).Truncate(time.Second)
		c.emit(Update{ScanID: e.ScanID, State: StateScanning, Progress: progress,
			Message: fmt.Sprintf("Scanning (%s, %s)", sc.Status, elapsed), Polls: e.Polls, Scan: sc})
	}
}
