package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	def := DefaultConfig()
	if cfg.Server.ListenAddr != def.Server.ListenAddr || cfg.Worker.Concurrency != 3 || cfg.Queue.LeaseDuration != 2*time.Minute {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfig_YAMLOverlay(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "lumen.yaml")
	data := `
log_level: debug
server:
  listen_addr: ":9000"
  max_page_size: 50
queue:
  backend: memory
  lease_duration: 5m
  rate_limit_max: 20
worker:
  concurrency: 6
  audit_timeout: 45s
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Server.ListenAddr != ":9000" || cfg.Server.MaxPageSize != 50 {
		t.Fatalf("server section not applied: %+v", cfg.Server)
	}
	if cfg.Queue.Backend != "memory" || cfg.Queue.LeaseDuration != 5*time.Minute || cfg.Queue.RateLimitMax != 20 {
		t.Fatalf("queue section not applied: %+v", cfg.Queue)
	}
	if cfg.Worker.Concurrency != 6 || cfg.Worker.AuditTimeout != 45*time.Second {
		t.Fatalf("worker section not applied: %+v", cfg.Worker)
	}
	// Untouched sections keep their defaults.
	if cfg.Queue.RetainCompleted != 100 || cfg.Server.DefaultPageSize != 10 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadConfig_BadYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "lumen.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"LUMEN_STORE_DRIVER":       "postgres",
		"LUMEN_STORE_DSN":          "postgres://lumen@db/lumen",
		"LUMEN_OPENAI_API_KEY":     "sk-test",
		"LUMEN_WORKER_CONCURRENCY": "8",
		"LUMEN_LISTEN_ADDR":        "",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := DefaultConfig()
	if err := cfg.applyEnv(lookup); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN != "postgres://lumen@db/lumen" {
		t.Fatalf("store = %+v", cfg.Store)
	}
	if cfg.Analysis.APIKey != "sk-test" || cfg.Worker.Concurrency != 8 {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Fatalf("empty env value must not override, got %q", cfg.Server.ListenAddr)
	}

	env["LUMEN_WORKER_CONCURRENCY"] = "many"
	if err := DefaultConfig().applyEnv(lookup); err == nil {
		t.Fatal("expected error for non-numeric concurrency")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Worker.AuditTimeout = 3 * time.Minute
	cfg.Server.DefaultPageSize = 500
	cfg.Server.RateLimit = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"audit_timeout", "default_page_size", "rate_limit"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
