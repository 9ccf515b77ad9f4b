package worker

import "time"

type Config struct {
	// Concurrency is the number of jobs processed at once.
	Concurrency int `yaml:"concurrency"`

	// AuditTimeout bounds a single audit. It must stay below the queue lease.
	AuditTimeout time.Duration `yaml:"audit_timeout"`

	// HeartbeatInterval is how often a running job extends its lease.
	// Zero means a third of the lease.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// ShutdownGrace is how long Stop waits for running audits before
	// cancelling them.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	// ErrorBackoff is the pause after a failed Dequeue.
	ErrorBackoff time.Duration `yaml:"error_backoff"`

	// StoreRetries is how many times a terminal status write is retried
	// after a store error, waiting StoreRetryBackoff, doubled each time.
	StoreRetries      int           `yaml:"store_retries"`
	StoreRetryBackoff time.Duration `yaml:"store_retry_backoff"`
}

func DefaultConfig() Config {
	return Config{
		Concurrency:   3,
		AuditTimeout:  30 * time.Second,
		ShutdownGrace: 30 * time.Second,
		ErrorBackoff:  time.Second,

		StoreRetries:      5,
		StoreRetryBackoff: 200 * time.Millisecond,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.AuditTimeout <= 0 {
		c.AuditTimeout = d.AuditTimeout
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = d.ShutdownGrace
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = d.ErrorBackoff
	}
	if c.StoreRetries < 0 {
		c.StoreRetries = 0
	}
	if c.StoreRetryBackoff <= 0 {
		c.StoreRetryBackoff = d.StoreRetryBackoff
	}
}
