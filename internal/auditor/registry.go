package auditor

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/raysh454/lumen/internal/logging"
)

// RunnerConstructor builds a Runner from config.
type RunnerConstructor func(cfg Config, logger logging.Logger) (Runner, error)

var (
	mu           sync.RWMutex
	registry     = map[string]RunnerConstructor{}
	defaultsOnce sync.Once
)

// RegisterRunner registers a named constructor. Names are case-insensitive
// and a later registration replaces an earlier one.
func RegisterRunner(name string, ctor RunnerConstructor) {
	if name == "" || ctor == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	registry[strings.ToLower(name)] = ctor
}

func registerDefaults() {
	RegisterRunner("chrome", func(cfg Config, logger logging.Logger) (Runner, error) {
		return NewChromeRunner(cfg, logger)
	})
	RegisterRunner("static", func(cfg Config, logger logging.Logger) (Runner, error) {
		return NewStaticRunner(cfg, nil, logger), nil
	})
}

// New constructs the runner named by cfg.Runner.
func New(cfg Config, logger logging.Logger) (Runner, error) {
	defaultsOnce.Do(registerDefaults)
	name := strings.ToLower(strings.TrimSpace(cfg.Runner))
	if name == "" {
		name = "chrome"
	}

	mu.RLock()
	ctor, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("auditor: runner %q not registered: available=%v", name, ListRunners())
	}
	r, err := ctor(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("auditor: construct %q runner: %w", name, err)
	}
	if r == nil {
		return nil, errors.New("auditor: constructor returned nil runner")
	}
	return r, nil
}

// ListRunners returns the registered runner names, sorted.
func ListRunners() []string {
	defaultsOnce.Do(registerDefaults)
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
