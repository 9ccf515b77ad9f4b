package poller

import "time"

type Config struct {
	// Interval is the delay between two status checks.
	Interval time.Duration `yaml:"interval"`

	// MaxPolls is the ceiling after which a scan is reported as timed out.
	MaxPolls int `yaml:"max_polls"`

	// TransientDelay is the wait after a transient error. It does not count
	// against MaxPolls.
	TransientDelay time.Duration `yaml:"transient_delay"`

	// MaxTransientErrors ends tracking as a timeout after this many transient
	// errors in a row. Zero means unlimited.
	MaxTransientErrors int `yaml:"max_transient_errors"`

	// ProgressBaseline is the progress shown as soon as a scan is tracked.
	ProgressBaseline int `yaml:"progress_baseline"`

	// ProgressCap is the highest progress reported before a terminal state.
	ProgressCap int `yaml:"progress_cap"`

	// UpdateBuffer sizes the Updates channel.
	UpdateBuffer int `yaml:"update_buffer"`
}

// DefaultConfig polls every 2s for up to 10 minutes.
func DefaultConfig() Config {
	return Config{
		Interval:           2 * time.Second,
		MaxPolls:           300,
		TransientDelay:     3 * time.Second,
		MaxTransientErrors: 100,
		ProgressBaseline:   12,
		ProgressCap:        94,
		UpdateBuffer:       64,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.MaxPolls <= 0 {
		c.MaxPolls = d.MaxPolls
	}
	if c.TransientDelay <= 0 {
		c.TransientDelay = d.TransientDelay
	}
	if c.MaxTransientErrors < 0 {
		c.MaxTransientErrors = 0
	}
	if c.ProgressCap <= 0 || c.ProgressCap >= 100 {
		c.ProgressCap = d.ProgressCap
	}
	if c.ProgressBaseline < 0 || c.ProgressBaseline > c.ProgressCap {
		c.ProgressBaseline = d.ProgressBaseline
	}
	if c.UpdateBuffer <= 0 {
		c.UpdateBuffer = d.UpdateBuffer
	}
}
