package auditor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/raysh454/lumen/internal/logging"
	"github.com/raysh454/lumen/internal/model"
)

// ChromeRunner audits pages in a shared headless Chrome, one tab per audit.
type ChromeRunner struct {
	cfg    Config
	logger logging.Logger
	axe    string

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChromeRunner starts the browser and loads the axe-core script from
// cfg.AxeScriptPath.
func NewChromeRunner(cfg Config, logger logging.Logger) (*ChromeRunner, error) {
	if logger == nil {
		return nil, errors.New("auditor: nil logger provided")
	}
	cfg.applyDefaults()
	if cfg.AxeScriptPath == "" {
		return nil, errors.New("auditor: chrome runner requires axe_script_path")
	}
	axe, err := os.ReadFile(cfg.AxeScriptPath)
	if err != nil {
		return nil, fmt.Errorf("auditor: read axe script: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("no-first-run", true),
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	// The first Run on a fresh context launches the browser.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("auditor: launch chrome: %w", err)
	}

	logger.Info("chrome runner ready",
		logging.Field{Key: "viewport", Value: fmt.Sprintf("%dx%d", cfg.ViewportWidth, cfg.ViewportHeight)},
		logging.Field{Key: "tags", Value: cfg.Tags})

	return &ChromeRunner{
		cfg:           cfg,
		logger:        logger,
		axe:           string(axe),
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// axeRunScript runs axe with the configured tags and keeps only the fields
// decodeAxe reads, so no DOM references cross the protocol.
const axeRunScript = `axe.run(document, {runOnly: {type: 'tag', values: %s}, resultTypes: ['violations']})
  .then(r => ({
    violations: r.violations.map(v => ({
      id: v.id, impact: v.impact, description: v.description, help: v.help,
      helpUrl: v.helpUrl, tags: v.tags,
      nodes: v.nodes.map(n => ({target: n.target, impact: n.impact}))
    })),
    passes: r.passes.map(p => ({id: p.id}))
  }))`

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// Audit opens url in a new tab, waits for the network to settle and runs axe.
func (r *ChromeRunner) Audit(ctx context.Context, url string) (*model.AuditReport, error) {
	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, r.cfg.Timeout)
	defer cancelTimeout()

	// Tie the tab to the caller so worker shutdown aborts the page load.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	start := time.Now()
	idle, kick := waitNetworkIdle(tabCtx, r.cfg.IdleAfter)

	err := chromedp.Run(tabCtx,
		network.Enable(),
		chromedp.EmulateViewport(int64(r.cfg.ViewportWidth), int64(r.cfg.ViewportHeight)),
		chromedp.Navigate(url),
	)
	if err != nil {
		return nil, fail(url, fmt.Errorf("navigate: %w", contextError(ctx, tabCtx, err)), false)
	}
	kick()

	select {
	case <-idle:
	case <-tabCtx.Done():
		return nil, fail(url, fmt.Errorf("wait for network idle: %w", contextError(ctx, tabCtx, tabCtx.Err())), false)
	}

	tags, _ := json.Marshal(r.cfg.Tags)
	var raw []byte
	err = chromedp.Run(tabCtx,
		chromedp.Evaluate(r.axe, nil),
		chromedp.Evaluate(fmt.Sprintf(axeRunScript, tags), &raw, awaitPromise),
	)
	if err != nil {
		return nil, fail(url, fmt.Errorf("run axe: %w", contextError(ctx, tabCtx, err)), false)
	}

	report, err := decodeAxe(raw, url)
	if err != nil {
		return nil, fail(url, err, false)
	}
	report.Engine = "chrome"
	report.DurationMS = time.Since(start).Milliseconds()

	if r.cfg.Screenshot {
		var png []byte
		if err := chromedp.Run(tabCtx, chromedp.CaptureScreenshot(&png)); err != nil {
			r.logger.Warn("screenshot failed", logging.Field{Key: "url", Value: url}, logging.Field{Key: "error", Value: err})
		} else {
			report.Screenshot = png
		}
	}

	r.logger.Debug("chrome audit finished",
		logging.Field{Key: "url", Value: url},
		logging.Field{Key: "violations", Value: len(report.Findings)},
		logging.Field{Key: "passes", Value: report.PassedCount},
		logging.Field{Key: "duration_ms", Value: report.DurationMS})
	return report, nil
}

// contextError prefers the caller's cancellation, then the audit deadline,
// over the opaque error chromedp reports once a target is torn down.
func contextError(caller, tab context.Context, err error) error {
	if caller.Err() != nil {
		return caller.Err()
	}
	if errors.Is(tab.Err(), context.DeadlineExceeded) {
		return context.DeadlineExceeded
	}
	return err
}

// Close shuts the browser down.
func (r *ChromeRunner) Close() error {
	r.browserCancel()
	r.allocCancel()
	return nil
}
