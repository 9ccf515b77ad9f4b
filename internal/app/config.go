package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/raysh454/lumen/internal/analysis"
	"github.com/raysh454/lumen/internal/artifacts"
	"github.com/raysh454/lumen/internal/auditor"
	"github.com/raysh454/lumen/internal/poller"
	"github.com/raysh454/lumen/internal/queue"
	"github.com/raysh454/lumen/internal/store"
	"github.com/raysh454/lumen/internal/telemetry"
	"github.com/raysh454/lumen/internal/worker"
)

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// RateLimit is the sustained requests per second allowed per client IP.
	// Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// DefaultPageSize and MaxPageSize bound GET /scans.
	DefaultPageSize int `yaml:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size"`
}

// ClientConfig configures lumenctl.
type ClientConfig struct {
	ServerURL string `yaml:"server_url"`

	// StateFile keeps in-flight scans across lumenctl runs. Empty means the
	// user config dir.
	StateFile string `yaml:"state_file"`

	UserID string `yaml:"user_id"`
}

// Config is the whole runtime configuration, one section per component.
type Config struct {
	LogLevel      string `yaml:"log_level"`
	DefaultUserID string `yaml:"default_user_id"`

	Server    ServerConfig     `yaml:"server"`
	Store     store.Config     `yaml:"store"`
	Queue     queue.Config     `yaml:"queue"`
	Worker    worker.Config    `yaml:"worker"`
	Auditor   auditor.Config   `yaml:"auditor"`
	Artifacts artifacts.Config `yaml:"artifacts"`
	Analysis  analysis.Config  `yaml:"analysis"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Poller    poller.Config    `yaml:"poller"`
	Client    ClientConfig     `yaml:"client"`
}

// DefaultConfig returns a Config populated with local development defaults:
// SQLite for scans and jobs, three workers, headless Chrome.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:      "info",
		DefaultUserID: "default-user",
		Server: ServerConfig{
			ListenAddr:      ":8080",
			AllowedOrigins:  []string{"*"},
			RateLimit:       20,
			RateBurst:       40,
			ReadTimeout:     15 * time.Second,
			ShutdownTimeout: 20 * time.Second,
			DefaultPageSize: 10,
			MaxPageSize:     100,
		},
		Store:     store.DefaultConfig(),
		Queue:     queue.DefaultConfig(),
		Worker:    worker.DefaultConfig(),
		Auditor:   auditor.DefaultConfig(),
		Artifacts: artifacts.DefaultConfig(),
		Analysis:  analysis.DefaultConfig(),
		Telemetry: telemetry.DefaultConfig(),
		Poller:    poller.DefaultConfig(),
		Client: ClientConfig{
			ServerURL: "http://localhost:8080",
		},
	}
}

// LoadConfig overlays the YAML file at path on the defaults, then applies
// LUMEN_* environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := []struct {
		name string
		dst  *string
	}{
		{"LUMEN_LOG_LEVEL", &c.LogLevel},
		{"LUMEN_LISTEN_ADDR", &c.Server.ListenAddr},
		{"LUMEN_STORE_DRIVER", &c.Store.Driver},
		{"LUMEN_STORE_DSN", &c.Store.DSN},
		{"LUMEN_QUEUE_BACKEND", &c.Queue.Backend},
		{"LUMEN_QUEUE_PATH", &c.Queue.Path},
		{"LUMEN_AUDITOR_RUNNER", &c.Auditor.Runner},
		{"LUMEN_AXE_SCRIPT", &c.Auditor.AxeScriptPath},
		{"LUMEN_CHROME_PATH", &c.Auditor.ExecPath},
		{"LUMEN_ARTIFACTS_BACKEND", &c.Artifacts.Backend},
		{"LUMEN_MINIO_ENDPOINT", &c.Artifacts.Endpoint},
		{"LUMEN_MINIO_ACCESS_KEY", &c.Artifacts.AccessKey},
		{"LUMEN_MINIO_SECRET_KEY", &c.Artifacts.SecretKey},
		{"LUMEN_OPENAI_API_KEY", &c.Analysis.APIKey},
		{"LUMEN_OPENAI_MODEL", &c.Analysis.Model},
		{"LUMEN_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint},
		{"LUMEN_SERVER_URL", &c.Client.ServerURL},
		{"LUMEN_USER_ID", &c.Client.UserID},
	}
	for _, s := range strs {
		if v, ok := lookup(s.name); ok && v != "" {
			*s.dst = v
		}
	}
	if v, ok := lookup("LUMEN_WORKER_CONCURRENCY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LUMEN_WORKER_CONCURRENCY: %w", err)
		}
		c.Worker.Concurrency = n
	}
	return nil
}

// Validate rejects combinations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Worker.Concurrency < 0 {
		errs = append(errs, errors.New("worker.concurrency must not be negative"))
	}
	if c.Worker.AuditTimeout > 0 && c.Queue.LeaseDuration > 0 && c.Worker.AuditTimeout >= c.Queue.LeaseDuration {
		errs = append(errs, fmt.Errorf("worker.audit_timeout (%s) must be shorter than queue.lease_duration (%s)",
			c.Worker.AuditTimeout, c.Queue.LeaseDuration))
	}
	if c.Server.MaxPageSize > 0 && c.Server.DefaultPageSize > c.Server.MaxPageSize {
		errs = append(errs, errors.New("server.default_page_size exceeds server.max_page_size"))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit must not be negative"))
	}
	return errors.Join(errs...)
}
