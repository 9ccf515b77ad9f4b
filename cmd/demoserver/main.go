// Command demoserver serves fixture pages with known accessibility defects.
// Usage: go run ./cmd/demoserver [port]
// Default port: 9999
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/raysh454/lumen/internal/demoserver"
	"github.com/raysh454/lumen/internal/logging"
)

func main() {
	logger := logging.NewStdoutLogger("demoserver")
	cfg := demoserver.DefaultConfig()

	// Optional: custom port from command line
	if len(os.Args) > 1 {
		port, err := strconv.Atoi(os.Args[1])
		if err != nil || port < 1 || port > 65535 {
			fmt.Fprintf(os.Stderr, "invalid port: %s\n", os.Args[1])
			os.Exit(2)
		}
		cfg.Port = port
	}

	fmt.Println("===========================================")
	fmt.Println("   Lumen Demo Server - Accessibility Fixtures")
	fmt.Println("===========================================")
	fmt.Println()
	fmt.Println("Every page ships v1 with known defects and v2 with fixes.")
	fmt.Println("Scan a page, switch versions in the control panel, rescan")
	fmt.Println("and compare the two scans with `lumenctl diff`.")
	fmt.Println()
	for _, p := range demoserver.GetAllPages() {
		fmt.Printf("  %-9s %s\n", p.Path, p.Description)
	}
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := demoserver.NewDemoServer(cfg, logger)
	if err := server.Start(ctx); err != nil {
		logger.Error("demo server stopped", logging.Field{Key: "error", Value: err.Error()})
		os.Exit(1)
	}
}
