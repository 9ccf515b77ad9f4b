package telemetry

import "time"

type Config struct {
	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace"`

	ServiceName string `yaml:"service_name"`

	// OTLPEndpoint enables tracing when set, e.g. "localhost:4317".
	OTLPEndpoint string            `yaml:"otlp_endpoint"`
	OTLPInsecure bool              `yaml:"otlp_insecure"`
	OTLPHeaders  map[string]string `yaml:"otlp_headers"`

	// SampleRatio is the fraction of root spans kept. 0 keeps all.
	SampleRatio float64 `yaml:"sample_ratio"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Namespace:       "lumen",
		ServiceName:     "lumend",
		ShutdownTimeout: 5 * time.Second,
	}
}
