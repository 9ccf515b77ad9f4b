package analysis

import "time"

type Config struct {
	// APIKey enables analysis. Usually set through LUMEN_OPENAI_API_KEY.
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`

	MaxTokens int `yaml:"max_tokens"`

	// MaxFindings caps how many findings are sent, worst first.
	MaxFindings int `yaml:"max_findings"`

	Timeout time.Duration `yaml:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		Model:       "gpt-4o-mini",
		MaxTokens:   1500,
		MaxFindings: 25,
		Timeout:     60 * time.Second,
	}
}
