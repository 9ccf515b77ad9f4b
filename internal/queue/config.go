package queue

import "time"

// Config controls dispatch, retry and retention.
type Config struct {
	// Backend selects the job store: "sqlite" (default) or "memory".
	Backend string `yaml:"backend"`

	// Path is the SQLite file used by the sqlite backend.
	Path string `yaml:"path"`

	// LeaseDuration must exceed the worker's audit timeout.
	LeaseDuration time.Duration `yaml:"lease_duration"`
	ReapInterval  time.Duration `yaml:"reap_interval"`

	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`

	// RateLimitMax dispatches are allowed per RateLimitWindow. Zero disables the limiter.
	RateLimitMax    int           `yaml:"rate_limit_max"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`

	// PollInterval bounds how long an idle Dequeue sleeps before re-checking storage.
	PollInterval time.Duration `yaml:"poll_interval"`

	RetainCompleted int `yaml:"retain_completed"`
	RetainFailed    int `yaml:"retain_failed"`

	DefaultMaxAttempts int `yaml:"default_max_attempts"`
}

// DefaultConfig mirrors the production settings: 3 attempts, 2s/4s/8s backoff,
// 10 dispatches per minute, 2 minute leases.
func DefaultConfig() Config {
	return Config{
		Backend:            "sqlite",
		Path:               "lumen-queue.db",
		LeaseDuration:      2 * time.Minute,
		ReapInterval:       15 * time.Second,
		BackoffBase:        2 * time.Second,
		BackoffMax:         5 * time.Minute,
		RateLimitMax:       10,
		RateLimitWindow:    time.Minute,
		PollInterval:       time.Second,
		RetainCompleted:    100,
		RetainFailed:       50,
		DefaultMaxAttempts: 3,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = d.LeaseDuration
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = d.ReapInterval
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = d.RateLimitWindow
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.DefaultMaxAttempts <= 0 {
		c.DefaultMaxAttempts = d.DefaultMaxAttempts
	}
}
