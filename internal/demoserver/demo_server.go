package demoserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/raysh454/lumen/internal/logging"
)

var controlPanel = template.Must(template.New("control").Parse(controlPanelHTML))

// DemoServer serves fixture pages with known accessibility defects. Each page
// can be switched between versions at runtime so a rescan shows fixes.
type DemoServer struct {
	cfg      Config
	pages    map[string]PageDefinition
	versions map[string]int // path -> current version
	mu       sync.RWMutex
	router   chi.Router
	logger   logging.Logger
}

// NewDemoServer creates a new demo server instance.
func NewDemoServer(cfg Config, logger logging.Logger) *DemoServer {
	cfg.applyDefaults()
	pageMap := make(map[string]PageDefinition)
	versions := make(map[string]int)

	for _, p := range GetAllPages() {
		pageMap[p.Path] = p
		versions[p.Path] = cfg.InitialVersion
	}

	s := &DemoServer{
		cfg:      cfg,
		pages:    pageMap,
		versions: versions,
		router:   chi.NewRouter(),
		logger:   logger.With(logging.Field{Key: "component", Value: "demoserver"}),
	}
	s.routes()
	return s
}

func (s *DemoServer) routes() {
	r := s.router
	for path := range s.pages {
		r.Get(path, s.pageHandler(path))
	}

	r.Route("/demo", func(r chi.Router) {
		r.Get("/control", s.controlPanelHandler)
		r.Get("/versions", s.getVersionsHandler)
		r.Post("/set-version", s.setVersionHandler)
		r.Post("/bump-all", s.bumpAllVersionsHandler)
		r.Post("/reset", s.resetVersionsHandler)
	})

	r.Get("/static/*", s.staticHandler)
}

// ServeHTTP implements http.Handler.
func (s *DemoServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("http_request",
		logging.Field{Key: "method", Value: r.Method},
		logging.Field{Key: "path", Value: r.URL.Path},
		logging.Field{Key: "user_agent", Value: r.UserAgent()})
	s.router.ServeHTTP(w, r)
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *DemoServer) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	s.logger.Info("demo server listening",
		logging.Field{Key: "addr", Value: "http://localhost" + srv.Addr},
		logging.Field{Key: "control_panel", Value: "http://localhost" + srv.Addr + "/demo/control"})

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Version returns the current version of path, or 0 for an unknown path.
func (s *DemoServer) Version(path string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versions[path]
}

func maxVersion(p PageDefinition) int {
	maxV := 1
	for v := range p.Versions {
		if v > maxV {
			maxV = v
		}
	}
	return maxV
}

// pageHandler returns a handler for a specific page path.
func (s *DemoServer) pageHandler(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		pageDef := s.pages[path]
		version := s.versions[path]
		s.mu.RUnlock()

		// Fall back to the closest lower version.
		pageVersion, ok := pageDef.Versions[version]
		for v := version - 1; !ok && v >= 1; v-- {
			pageVersion, ok = pageDef.Versions[v]
		}
		if !ok {
			http.NotFound(w, r)
			return
		}

		for k, v := range pageVersion.Headers {
			w.Header().Set(k, v)
		}
		contentType := pageVersion.ContentType
		if contentType == "" {
			contentType = "text/html; charset=utf-8"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("X-Demo-Version", strconv.Itoa(version))

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(pageVersion.HTML))
	}
}

// staticHandler serves placeholder assets.
func (s *DemoServer) staticHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte("demo asset: " + r.URL.Path + "\n"))
}

func (s *DemoServer) controlPanelHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data := struct {
		Pages    map[string]PageDefinition
		Versions map[string]int
		Port     int
	}{
		Pages:    s.pages,
		Versions: s.versions,
		Port:     s.cfg.Port,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := controlPanel.Execute(w, data); err != nil {
		s.logger.Warn("rendering control panel", logging.Field{Key: "error", Value: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// setVersionHandler sets the version for a specific page.
func (s *DemoServer) setVersionHandler(w http.ResponseWriter, r *http.Request) {
	path := r.FormValue("path")
	version, err := strconv.Atoi(r.FormValue("version"))
	if err != nil || version < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "invalid version number"})
		return
	}

	s.mu.Lock()
	_, ok := s.pages[path]
	if ok {
		s.versions[path] = version
	}
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "unknown page " + path})
		return
	}
	s.logger.Info("page version changed", logging.Field{Key: "path", Value: path}, logging.Field{Key: "version", Value: version})
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"path":    path,
		"version": version,
	})
}

// PageInfo describes a page in GET /demo/versions.
type PageInfo struct {
	Path              string   `json:"path"`
	Description       string   `json:"description"`
	Defects           []string `json:"defects,omitempty"`
	CurrentVersion    int      `json:"current_version"`
	AvailableVersions []int    `json:"available_versions"`
}

func (s *DemoServer) getVersionsHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	pages := make([]PageInfo, 0, len(s.pages))
	for path, pageDef := range s.pages {
		versions := make([]int, 0, len(pageDef.Versions))
		for v := range pageDef.Versions {
			versions = append(versions, v)
		}
		sort.Ints(versions)
		pages = append(pages, PageInfo{
			Path:              path,
			Description:       pageDef.Description,
			Defects:           pageDef.Defects,
			CurrentVersion:    s.versions[path],
			AvailableVersions: versions,
		})
	}
	s.mu.RUnlock()

	sort.Slice(pages, func(i, j int) bool { return pages[i].Path < pages[j].Path })
	writeJSON(w, http.StatusOK, pages)
}

// bumpAllVersionsHandler moves every page one version forward, capped at its
// newest version.
func (s *DemoServer) bumpAllVersionsHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	for path := range s.versions {
		if next := s.versions[path] + 1; next <= maxVersion(s.pages[path]) {
			s.versions[path] = next
		}
	}
	s.mu.Unlock()

	s.logger.Info("all page versions bumped")
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "All versions bumped",
	})
}

func (s *DemoServer) resetVersionsHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	for path := range s.versions {
		s.versions[path] = 1
	}
	s.mu.Unlock()

	s.logger.Info("all page versions reset")
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "All versions reset to 1",
	})
}

const controlPanelHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Lumen fixtures</title>
<style>
  :root { --ink: #1f2430; --muted: #5b6270; --accent: #5b3fd1; --bad: #b42318; --ok: #067647; }
  body { font: 16px/1.5 system-ui, sans-serif; color: var(--ink); margin: 2rem auto; max-width: 60rem; padding: 0 1rem; }
  h1 { margin-bottom: .25rem; }
  .lede { color: var(--muted); margin-top: 0; }
  table { border-collapse: collapse; width: 100%; margin-top: 1.5rem; }
  th, td { text-align: left; padding: .6rem .5rem; border-bottom: 1px solid #d9dce3; vertical-align: top; }
  .defects code { color: var(--bad); }
  .clean { color: var(--ok); }
  button { font: inherit; padding: .35rem .8rem; border: 1px solid var(--accent); border-radius: 4px; background: #fff; color: var(--accent); cursor: pointer; }
  button[aria-pressed="true"] { background: var(--accent); color: #fff; }
  button:focus-visible { outline: 3px solid #f5b400; outline-offset: 2px; }
  .bulk { display: flex; gap: .75rem; margin-top: 1rem; }
</style>
</head>
<body>
<main>
  <h1>Fixture pages</h1>
  <p class="lede">Version 1 of every page ships the listed defects and version 2 fixes them.
  Scan a page, switch its version, rescan, then run <code>lumenctl diff</code> on the two scan ids.</p>

  <div class="bulk">
    <button type="button" data-action="/demo/bump-all">Move every page forward</button>
    <button type="button" data-action="/demo/reset">Reset every page to v1</button>
  </div>
  <p id="status" role="status" aria-live="polite"></p>

  <table>
    <caption class="lede">Pages served on port {{.Port}}</caption>
    <thead><tr><th scope="col">Page</th><th scope="col">Defects in v1</th><th scope="col">Version</th></tr></thead>
    <tbody>
    {{range $path, $page := .Pages}}
      <tr>
        <td><a href="{{$path}}">{{$path}}</a><br><small>{{$page.Description}}</small></td>
        <td class="defects">{{if $page.Defects}}{{range $i, $d := $page.Defects}}{{if $i}}, {{end}}<code>{{$d}}</code>{{end}}{{else}}<span class="clean">none</span>{{end}}</td>
        <td>
          <div role="group" aria-label="Version of {{$path}}">
          {{range $v, $_ := $page.Versions}}
            <button type="button" data-path="{{$path}}" data-version="{{$v}}"
              aria-pressed="{{if eq (index $.Versions $path) $v}}true{{else}}false{{end}}">v{{$v}}</button>
          {{end}}
          </div>
        </td>
      </tr>
    {{end}}
    </tbody>
  </table>
</main>
<script>
  const status = document.getElementById('status');
  async function post(url, body) {
    const res = await fetch(url, {method: 'POST', body: body});
    const data = await res.json();
    status.textContent = data.message || ('Set ' + data.path + ' to v' + data.version);
    return data.success;
  }
  document.querySelectorAll('button[data-action]').forEach(btn => {
    btn.addEventListener('click', async () => { if (await post(btn.dataset.action)) location.reload(); });
  });
  document.querySelectorAll('button[data-version]').forEach(btn => {
    btn.addEventListener('click', async () => {
      const form = new URLSearchParams({path: btn.dataset.path, version: btn.dataset.version});
      if (!(await post('/demo/set-version', form))) return;
      btn.parentElement.querySelectorAll('button').forEach(b => b.setAttribute('aria-pressed', String(b === btn)));
    });
  });
</script>
</body>
</html>`
