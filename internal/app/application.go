package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raysh454/lumen/internal/cli"
	"github.com/raysh454/lumen/internal/logging"
	"github.com/raysh454/lumen/internal/telemetry"
)

// Application is the lumend runtime: config, parsed flags, the logger and the
// orchestrator, plus tracing. cmd/lumend builds one and attaches the HTTP
// server to Orch.
type Application struct {
	Config *Config
	Args   *cli.ServerArgs
	Logger logging.Logger
	Orch   *Orchestrator

	version       string
	traceShutdown telemetry.ShutdownFunc
}

// NewApplication applies flag overrides to cfg and opens the orchestrator.
func NewApplication(ctx context.Context, cfg *Config, args *cli.ServerArgs, logger logging.Logger, version string) (*Application, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		return nil, errors.New("application: nil logger provided")
	}
	if args != nil {
		if args.ListenAddr != "" {
			cfg.Server.ListenAddr = args.ListenAddr
		}
		if args.Concurrency > 0 {
			cfg.Worker.Concurrency = args.Concurrency
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	orch, err := Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening orchestrator: %w", err)
	}
	return &Application{
		Config:  cfg,
		Args:    args,
		Logger:  logger,
		Orch:    orch,
		version: version,
	}, nil
}

// Start enables tracing and starts background processing.
func (a *Application) Start(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	shutdown, err := telemetry.InitTracing(ctx, a.Config.Telemetry, a.version)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	a.traceShutdown = shutdown

	a.Logger.Info("application starting",
		logging.Field{Key: "version", Value: a.version},
		logging.Field{Key: "listen_addr", Value: a.Config.Server.ListenAddr},
		logging.Field{Key: "workers", Value: a.Config.Worker.Concurrency},
		logging.Field{Key: "runner", Value: a.Config.Auditor.Runner})
	return a.Orch.Start(ctx)
}

// Shutdown stops the orchestrator, then flushes traces within the telemetry
// shutdown timeout.
func (a *Application) Shutdown(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	a.Logger.Info("application shutdown initiated")

	var errs []error
	if err := a.Orch.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.traceShutdown != nil {
		timeout := a.Config.Telemetry.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		tctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := a.traceShutdown(tctx); err != nil {
			errs = append(errs, fmt.Errorf("flushing traces: %w", err))
		}
	}
	return errors.Join(errs...)
}
