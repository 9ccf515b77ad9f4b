package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Entry is the persisted record of one in-flight scan.
type Entry struct {
	ScanID    string    `json:"scanId"`
	JobID     string    `json:"jobId"`
	URL       string    `json:"url,omitempty"`
	StartedAt time.Time `json:"startedAt"`

	// Polls and Progress let a resumed controller continue where the
	// previous process stopped.
	Polls    int `json:"polls"`
	Progress int `json:"progress"`
}

// StateStore keeps in-flight entries across client restarts.
type StateStore interface {
	Get(ctx context.Context, scanID string) (Entry, bool, error)
	Set(ctx context.Context, e Entry) error
	Delete(ctx context.Context, scanID string) error
	List(ctx context.Context) ([]Entry, error)
}

// MemoryStateStore is a StateStore that lives for the process only.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{entries: make(map[string]Entry)}
}

func (m *MemoryStateStore) Get(_ context.Context, scanID string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[scanID]
	return e, ok, nil
}

func (m *MemoryStateStore) Set(_ context.Context, e Entry) error {
	if e.ScanID == "" {
		return errors.New("poller: entry without scan id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ScanID] = e
	return nil
}

func (m *MemoryStateStore) Delete(_ context.Context, scanID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, scanID)
	return nil
}

func (m *MemoryStateStore) List(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedEntries(m.entries), nil
}

func sortedEntries(m map[string]Entry) []Entry {
	out := make([]Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ScanID < out[j].ScanID
	})
	return out
}

// FileStateStore keeps entries in one JSON file, rewritten atomically on
// every change.
type FileStateStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStateStore stores state at path. An empty path means
// <user config dir>/lumen/scans.json.
func NewFileStateStore(path string) (*FileStateStore, error) {
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("poller: locate config dir: %w", err)
		}
		path = filepath.Join(dir, "lumen", "scans.json")
	}
	return &FileStateStore{path: path}, nil
}

// Path is the backing file.
func (f *FileStateStore) Path() string { return f.path }

func (f *FileStateStore) load() (map[string]Entry, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("poller: read state: %w", err)
	}
	entries := map[string]Entry{}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("poller: parse state %s: %w", f.path, err)
	}
	return entries, nil
}

func (f *FileStateStore) save(entries map[string]Entry) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("poller: create state dir: %w", err)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".scans-*.json")
	if err != nil {
		return fmt.Errorf("poller: write state: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("poller: write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("poller: write state: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("poller: write state: %w", err)
	}
	return nil
}

func (f *FileStateStore) Get(_ context.Context, scanID string) (Entry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.load()
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := entries[scanID]
	return e, ok, nil
}

func (f *FileStateStore) Set(_ context.Context, e Entry) error {
	if e.ScanID == "" {
		return errors.New("poller: entry without scan id")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.load()
	if err != nil {
		return err
	}
	entries[e.ScanID] = e
	return f.save(entries)
}

func (f *FileStateStore) Delete(_ context.Context, scanID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := entries[scanID]; !ok {
		return nil
	}
	delete(entries, scanID)
	return f.save(entries)
}

func (f *FileStateStore) List(_ context.Context) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.load()
	if err != nil {
		return nil, err
	}
	return sortedEntries(entries), nil
}
