package store

import "time"

// Config selects and tunes the scan database.
type Config struct {
	// Driver is "sqlite" (default), "postgres" or "mysql".
	Driver string `yaml:"driver"`

	// DSN is a file path for sqlite and a connection string otherwise.
	DSN string `yaml:"dsn"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	PingTimeout     time.Duration `yaml:"ping_timeout"`
}

// DefaultConfig stores scans in a local SQLite file.
func DefaultConfig() Config {
	return Config{
		Driver:          "sqlite",
		DSN:             "lumen.db",
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 30 * time.Minute,
		PingTimeout:     5 * time.Second,
	}
}
