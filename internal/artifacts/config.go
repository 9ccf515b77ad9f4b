package artifacts

type Config struct {
	// Backend is "none" (default), "fs" or "minio".
	Backend string `yaml:"backend"`

	// Dir is the root directory of the fs backend.
	Dir string `yaml:"dir"`

	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

func DefaultConfig() Config {
	return Config{
		Backend: "none",
		Dir:     "lumen-artifacts",
		Bucket:  "lumen-scans",
		Region:  "us-east-1",
	}
}
