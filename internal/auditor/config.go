package auditor

import "time"

// Config controls how pages are loaded and audited.
type Config struct {
	// Runner is "chrome" (default) or "static".
	Runner string `yaml:"runner"`

	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`

	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`

	// Tags limits axe-core to rules carrying one of these tags.
	Tags []string `yaml:"tags"`

	// AxeScriptPath points at axe.min.js. Required by the chrome runner.
	AxeScriptPath string `yaml:"axe_script_path"`

	// IdleAfter is how long the network must stay quiet before the audit starts.
	IdleAfter time.Duration `yaml:"idle_after"`

	Headless  bool   `yaml:"headless"`
	NoSandbox bool   `yaml:"no_sandbox"`
	ExecPath  string `yaml:"exec_path"`

	// Screenshot attaches a PNG of the viewport to the report.
	Screenshot bool `yaml:"screenshot"`

	// MaxBodyBytes caps the document size read by the static runner.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// DefaultConfig matches the production scanner: WCAG 2.x A/AA rules, a
// 1280x720 viewport and a 30 second budget per page.
func DefaultConfig() Config {
	return Config{
		Runner:         "chrome",
		Timeout:        30 * time.Second,
		UserAgent:      "Lumen-A11y-Scanner/1.0",
		ViewportWidth:  1280,
		ViewportHeight: 720,
		Tags:           []string{"wcag2a", "wcag2aa", "wcag21aa", "wcag22aa"},
		IdleAfter:      500 * time.Millisecond,
		Headless:       true,
		NoSandbox:      true,
		MaxBodyBytes:   5 << 20,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		c.ViewportWidth, c.ViewportHeight = d.ViewportWidth, d.ViewportHeight
	}
	if len(c.Tags) == 0 {
		c.Tags = d.Tags
	}
	if c.IdleAfter <= 0 {
		c.IdleAfter = d.IdleAfter
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
}
