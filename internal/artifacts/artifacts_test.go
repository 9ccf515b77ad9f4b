package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/raysh454/lumen/internal/model"
)

func TestFSStore_PutGetDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}

	if err := s.Put(ctx, "scans/a/report.json", "application/json", []byte(`{}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "scans/a/report.json")
	if err != nil || string(got) != `{}` {
		t.Fatalf("Get: %q, %v", got, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "scans", "a", "report.json")); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}

	if err := s.DeletePrefix(ctx, ScanPrefix("a")); err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	if _, err := s.Get(ctx, "scans/a/report.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestFSStore_RejectsTraversal(t *testing.T) {
	t.Parallel()
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	for _, key := range []string{"", "/etc/passwd", "../escape", "scans/../../x"} {
		if err := s.Put(context.Background(), key, "", nil); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}

func TestSaveReport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}

	r := &model.AuditReport{URL: "https://example.com", PassedCount: 3, Screenshot: []byte{0x89, 'P', 'N', 'G'}}
	keys, err := SaveReport(ctx, s, "scan-1", r)
	if err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	if len(keys) != 2 || keys[0] != "scans/scan-1/report.json" || keys[1] != "scans/scan-1/screenshot.png" {
		t.Fatalf("unexpected keys %v", keys)
	}

	raw, err := s.Get(ctx, keys[0])
	if err != nil {
		t.Fatalf("Get report: %v", err)
	}
	var back model.AuditReport
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if back.PassedCount != 3 || len(back.Screenshot) != 0 {
		t.Fatalf("unexpected stored report %+v", back)
	}
	png, err := s.Get(ctx, keys[1])
	if err != nil || len(png) != 4 {
		t.Fatalf("Get screenshot: %v %v", png, err)
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()
	s, err := Open(context.Background(), DefaultConfig())
	if err != nil || s != nil {
		t.Fatalf("expected nil store for none backend, got %v %v", s, err)
	}
	if _, err := Open(context.Background(), Config{Backend: "ftp"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
	if _, err := Open(context.Background(), Config{Backend: "minio"}); err == nil {
		t.Fatalf("expected error for minio without endpoint")
	}
}
