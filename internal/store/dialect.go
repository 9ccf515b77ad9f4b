package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
)

type dialect struct {
	name   string
	driver string
	schema []string
}

var dialects = map[string]dialect{
	"sqlite": {
		name:   "sqlite",
		driver: "sqlite",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS scans (
				id            TEXT PRIMARY KEY,
				url           TEXT NOT NULL,
				user_id       TEXT NOT NULL,
				status        TEXT NOT NULL,
				priority      INTEGER NOT NULL DEFAULT 0,
				results       TEXT,
				score         INTEGER,
				critical      INTEGER NOT NULL DEFAULT 0,
				serious       INTEGER NOT NULL DEFAULT 0,
				moderate      INTEGER NOT NULL DEFAULT 0,
				minor         INTEGER NOT NULL DEFAULT 0,
				passed_count  INTEGER NOT NULL DEFAULT 0,
				total_rules   INTEGER NOT NULL DEFAULT 0,
				error_message TEXT,
				created_at    INTEGER NOT NULL,
				started_at    INTEGER,
				completed_at  INTEGER,
				updated_at    INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_scans_user_created ON scans (user_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_scans_status ON scans (status)`,
		},
	},
	"postgres": {
		name:   "postgres",
		driver: "postgres",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS scans (
				id            VARCHAR(64) PRIMARY KEY,
				url           TEXT NOT NULL,
				user_id       VARCHAR(128) NOT NULL,
				status        VARCHAR(16) NOT NULL,
				priority      INTEGER NOT NULL DEFAULT 0,
				results       TEXT,
				score         INTEGER,
				critical      INTEGER NOT NULL DEFAULT 0,
				serious       INTEGER NOT NULL DEFAULT 0,
				moderate      INTEGER NOT NULL DEFAULT 0,
				minor         INTEGER NOT NULL DEFAULT 0,
				passed_count  INTEGER NOT NULL DEFAULT 0,
				total_rules   INTEGER NOT NULL DEFAULT 0,
				error_message TEXT,
				created_at    BIGINT NOT NULL,
				started_at    BIGINT,
				completed_at  BIGINT,
				updated_at    BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_scans_user_created ON scans (user_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_scans_status ON scans (status)`,
		},
	},
	"mysql": {
		name:   "mysql",
		driver: "mysql",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS scans (
				id            VARCHAR(64) NOT NULL PRIMARY KEY,
				url           TEXT NOT NULL,
				user_id       VARCHAR(128) NOT NULL,
				status        VARCHAR(16) NOT NULL,
				priority      INT NOT NULL DEFAULT 0,
				results       LONGTEXT,
				score         INT,
				critical      INT NOT NULL DEFAULT 0,
				serious       INT NOT NULL DEFAULT 0,
				moderate      INT NOT NULL DEFAULT 0,
				minor         INT NOT NULL DEFAULT 0,
				passed_count  INT NOT NULL DEFAULT 0,
				total_rules   INT NOT NULL DEFAULT 0,
				error_message TEXT,
				created_at    BIGINT NOT NULL,
				started_at    BIGINT,
				completed_at  BIGINT,
				updated_at    BIGINT NOT NULL,
				INDEX idx_scans_user_created (user_id, created_at),
				INDEX idx_scans_status (status)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		},
	},
}

func lookupDialect(name string) (dialect, error) {
	if name == "" {
		name = "sqlite"
	}
	d, ok := dialects[name]
	if !ok {
		return dialect{}, fmt.Errorf("store: unsupported driver %q", name)
	}
	return d, nil
}

// rebind rewrites ? placeholders to $1..$n for postgres.
func (d dialect) rebind(query string) string {
	if d.name != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// prepareDSN adjusts driver settings the store relies on. For MySQL,
// RowsAffected must count matched rows, not changed rows, so conditional
// updates can tell "no such row" from "nothing to change".
func (d dialect) prepareDSN(dsn string) (string, error) {
	if d.name != "mysql" {
		return dsn, nil
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("store: parse mysql dsn: %w", err)
	}
	cfg.ClientFoundRows = true
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}
