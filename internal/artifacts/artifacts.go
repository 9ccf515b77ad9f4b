// Package artifacts keeps the raw audit output of completed scans (the
// report JSON and an optional screenshot) outside the scan database.
package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/raysh454/lumen/internal/model"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("artifacts: not found")

// Store is a flat key/value blob store. Keys use forward slashes.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// DeletePrefix removes every key under prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// Open builds the store named by cfg.Backend. "none" returns a nil Store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "none":
		return nil, nil
	case "fs":
		s, err := NewFSStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "minio", "s3":
		s, err := NewMinioStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("artifacts: unknown backend %q", cfg.Backend)
	}
}

// ScanPrefix is the key prefix holding every artifact of a scan.
func ScanPrefix(scanID string) string {
	return path.Join("scans", scanID) + "/"
}

// ReportKey is where the raw report of a scan is stored.
func ReportKey(scanID string) string { return ScanPrefix(scanID) + "report.json" }

// ScreenshotKey is where the viewport screenshot of a scan is stored.
func ScreenshotKey(scanID string) string { return ScanPrefix(scanID) + "screenshot.png" }

// SaveReport writes the report and its screenshot, if any, and returns the
// keys written.
func SaveReport(ctx context.Context, s Store, scanID string, r *model.AuditReport) ([]string, error) {
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("artifacts: encode report: %w", err)
	}
	keys := []string{ReportKey(scanID)}
	if err := s.Put(ctx, keys[0], "application/json", raw); err != nil {
		return nil, err
	}
	if len(r.Screenshot) > 0 {
		k := ScreenshotKey(scanID)
		if err := s.Put(ctx, k, "image/png", r.Screenshot); err != nil {
			return keys, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("artifacts: invalid key %q", key)
	}
	return nil
}
