// Command lumend runs the lumen API server and scan workers.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raysh454/lumen/internal/app"
	"github.com/raysh454/lumen/internal/cli"
	"github.com/raysh454/lumen/internal/logging"
	"github.com/raysh454/lumen/internal/server"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "lumend:", err)
		os.Exit(1)
	}
}

func run() error {
	args, err := cli.ParseServerArgs(os.Args[1:])
	if err != nil {
		return err
	}
	cfg, err := app.LoadConfig(args.ConfigPath)
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if args.LogLevel != "" {
		level = args.LogLevel
	}
	logger := logging.NewLogger(os.Stdout, "lumend", level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(ctx, cfg, args, logger, version)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg.Server, application.Orch, logger)
	if err != nil {
		_ = application.Shutdown(context.Background())
		return err
	}
	if err := application.Start(ctx); err != nil {
		_ = application.Shutdown(context.Background())
		return err
	}

	httpServer := srv.HTTPServer()
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", logging.Field{Key: "addr", Value: httpServer.Addr})
		errCh <- httpServer.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", logging.Field{Key: "error", Value: err.Error()})
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("application shutdown", logging.Field{Key: "error", Value: err.Error()})
		return errors.Join(serveErr, err)
	}
	logger.Info("shutdown complete")
	return serveErr
}
