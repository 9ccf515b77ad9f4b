package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/raysh454/lumen/internal/analysis"
	"github.com/raysh454/lumen/internal/app"
	"github.com/raysh454/lumen/internal/logging"
	"github.com/raysh454/lumen/internal/model"
	"github.com/raysh454/lumen/internal/queue"
	"github.com/raysh454/lumen/internal/report"
	"github.com/raysh454/lumen/internal/store"

	_ "github.com/raysh454/lumen/internal/server/docs"
)

const maxLoggedBody = 4 << 10

// Server is the HTTP + WebSocket API surface for lumen.
type Server struct {
	cfg          app.ServerConfig
	orchestrator *app.Orchestrator
	router       chi.Router
	upgrader     websocket.Upgrader
	limiter      *ipLimiter
	logger       logging.Logger
}

// New builds the API around an orchestrator the caller owns.
func New(cfg app.ServerConfig, orch *app.Orchestrator, logger logging.Logger) (*Server, error) {
	if orch == nil {
		return nil, errors.New("server: nil orchestrator")
	}
	if logger == nil {
		return nil, errors.New("server: nil logger provided")
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		cfg:          cfg,
		orchestrator: orch,
		router:       chi.NewRouter(),
		logger:       logger.With(logging.Field{Key: "component", Value: "server"}),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	if cfg.RateLimit > 0 {
		s.limiter = newIPLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	s.routes()
	return s, nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (s *Server) routes() {
	r := s.router

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         86400,
	}))

	// Ops endpoints are never rate limited.
	r.Get("/healthz", s.handleLiveness)
	r.Get("/health", s.handleHealth)
	if m := s.orchestrator.Metrics(); m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.middleware)
		}

		// Scans
		r.Post("/scans", s.handleSubmitScan)
		r.Get("/scans", s.handleListScans)
		r.Get("/scans/stats", s.handleScanStats)
		r.Get("/scans/{id}", s.handleGetScan)
		r.Delete("/scans/{id}", s.handleDeleteScan)
		r.Post("/scans/{id}/rescan", s.handleRescan)
		r.Post("/scans/{id}/requeue", s.handleRequeue)

		// Reports
		r.Get("/scans/{id}/diff", s.handleDiff)
		r.Get("/scans/{id}/report", s.handleReport)
		r.Post("/scans/{id}/analysis", s.handleAnalysis)

		// Queue
		r.Get("/queue/stats", s.handleQueueStats)
		r.Post("/queue/pause", s.handlePauseQueue)
		r.Post("/queue/resume", s.handleResumeQueue)
		r.Post("/queue/drain", s.handleDrainQueue)

		// WebSocket for scan lifecycle events
		r.Get("/ws/scans/{id}", s.handleScanWS)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		{Key: "method", Value: r.Method},
		{Key: "path", Value: r.URL.Path},
	}

	if q := r.URL.Query(); len(q) > 0 {
		fields = append(fields, logging.Field{Key: "query", Value: q})
	}

	if r.Body != nil && r.Method == http.MethodPost && r.ContentLength > 0 && r.ContentLength <= maxLoggedBody {
		if bodyBytes, err := io.ReadAll(r.Body); err == nil {
			fields = append(fields, logging.Field{Key: "body", Value: string(bodyBytes)})
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	}

	s.logger.Info("http_request", fields...)

	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      0, // allow websocket streaming
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrInvalidURL), model.IsValidation(err), errors.Is(err, report.ErrUnknownFormat):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrNotRequeueable), errors.Is(err, report.ErrNotCompleted), errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, report.ErrDifferentURL):
		return http.StatusUnprocessableEntity
	case errors.Is(err, analysis.ErrDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, analysis.ErrBadResponse):
		return http.StatusBadGateway
	case errors.Is(err, app.ErrEnqueueFailed), errors.Is(err, queue.ErrClosed), errors.Is(err, queue.ErrTransport):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, op string, err error, fields ...logging.Field) {
	status := statusFor(err)
	fields = append(fields, logging.Field{Key: "error", Value: err.Error()}, logging.Field{Key: "status", Value: status})
	if status >= 500 {
		s.logger.Error(op, fields...)
	} else {
		s.logger.Warn(op, fields...)
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, status, msg)
}

// --- HTTP handlers ---

// Scans

// handleSubmitScan creates a pending scan and queues it.
// @Summary Submit a scan
// @Tags scans
// @Accept json
// @Produce json
// @Param request body SubmitScanRequest true "target"
// @Success 201 {object} ScanAccepted
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /scans [post]
func (s *Server) handleSubmitScan(w http.ResponseWriter, r *http.Request) {
	var body SubmitScanRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		s.logger.Warn("decoding submit body", logging.Field{Key: "error", Value: err.Error()})
		return
	}

	sc, err := s.orchestrator.Submit(r.Context(), app.SubmitRequest{URL: body.URL, UserID: body.UserID, Priority: body.Priority})
	if errors.Is(err, app.ErrEnqueueFailed) && sc != nil {
		s.logger.Error("scan stored but not queued",
			logging.Field{Key: "scan_id", Value: sc.ID},
			logging.Field{Key: "error", Value: err.Error()})
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), ScanID: sc.ID})
		return
	}
	if err != nil {
		s.fail(w, "submitting scan", err)
		return
	}
	s.logger.Info("created scan", logging.Field{Key: "scan_id", Value: sc.ID})
	writeJSON(w, http.StatusCreated, accepted(sc))
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &model.ValidationError{Field: name, Reason: "must be a non-negative integer"}
	}
	return n, nil
}

// handleListScans pages through scans, newest first.
// @Summary List scans
// @Tags scans
// @Produce json
// @Param userId query string false "owner"
// @Param status query string false "status filter"
// @Param page query int false "page, from 1"
// @Param limit query int false "page size"
// @Success 200 {object} app.Page
// @Router /scans [get]
func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		s.fail(w, "listing scans", err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, "listing scans", err)
		return
	}
	f := store.Filter{UserID: r.URL.Query().Get("userId")}
	if st := r.URL.Query().Get("status"); st != "" {
		if f.Status, err = model.ParseStatus(st); err != nil {
			s.fail(w, "listing scans", err)
			return
		}
	}

	p, err := s.orchestrator.List(r.Context(), f, page, limit)
	if err != nil {
		s.fail(w, "listing scans", err)
		return
	}
	s.logger.Info("listed scans", logging.Field{Key: "count", Value: len(p.Data)}, logging.Field{Key: "total", Value: p.Total})
	writeJSON(w, http.StatusOK, p)
}

// @Summary Scan counts by status
// @Tags scans
// @Produce json
// @Param userId query string false "owner"
// @Success 200 {object} model.StatusCounts
// @Router /scans/stats [get]
func (s *Server) handleScanStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.orchestrator.Statistics(r.Context(), r.URL.Query().Get("userId"))
	if err != nil {
		s.fail(w, "scan statistics", err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// @Summary Get a scan
// @Tags scans
// @Produce json
// @Param id path string true "scan id"
// @Success 200 {object} model.Scan
// @Failure 404 {object} ErrorResponse
// @Router /scans/{id} [get]
func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sc, err := s.orchestrator.Get(r.Context(), id)
	if err != nil {
		s.fail(w, "getting scan", err, logging.Field{Key: "scan_id", Value: id})
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// @Summary Delete a scan and its artifacts
// @Tags scans
// @Param id path string true "scan id"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /scans/{id} [delete]
func (s *Server) handleDeleteScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.orchestrator.Delete(r.Context(), id); err != nil {
		s.fail(w, "deleting scan", err, logging.Field{Key: "scan_id", Value: id})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary Scan the same URL again under a new id
// @Tags scans
// @Produce json
// @Param id path string true "scan id"
// @Success 201 {object} ScanAccepted
// @Failure 404 {object} ErrorResponse
// @Router /scans/{id}/rescan [post]
func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sc, err := s.orchestrator.Rescan(r.Context(), id)
	if errors.Is(err, app.ErrEnqueueFailed) && sc != nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), ScanID: sc.ID})
		return
	}
	if err != nil {
		s.fail(w, "rescanning", err, logging.Field{Key: "scan_id", Value: id})
		return
	}
	s.logger.Info("rescan created", logging.Field{Key: "scan_id", Value: sc.ID}, logging.Field{Key: "previous_id", Value: id})
	writeJSON(w, http.StatusCreated, accepted(sc))
}

// @Summary Queue a pending scan again
// @Tags scans
// @Produce json
// @Param id path string true "scan id"
// @Success 202 {object} ScanAccepted
// @Failure 409 {object} ErrorResponse
// @Router /scans/{id}/requeue [post]
func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sc, err := s.orchestrator.Requeue(r.Context(), id)
	if err != nil {
		s.fail(w, "requeueing scan", err, logging.Field{Key: "scan_id", Value: id})
		return
	}
	writeJSON(w, http.StatusAccepted, accepted(sc))
}

// Reports

// @Summary Compare two completed scans of one URL
// @Tags reports
// @Produce json
// @Param id path string true "head scan id"
// @Param base query string true "base scan id"
// @Success 200 {object} report.Comparison
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /scans/{id}/diff [get]
func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	head := chi.URLParam(r, "id")
	base := r.URL.Query().Get("base")
	if base == "" {
		writeError(w, http.StatusBadRequest, "missing base query parameter")
		return
	}
	cmp, err := s.orchestrator.Compare(r.Context(), base, head)
	if err != nil {
		s.fail(w, "comparing scans", err, logging.Field{Key: "base", Value: base}, logging.Field{Key: "head", Value: head})
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

// @Summary Download a report
// @Tags reports
// @Produce text/markdown,application/pdf,application/json
// @Param id path string true "scan id"
// @Param format query string false "md, pdf or json"
// @Success 200 {file} file
// @Failure 409 {object} ErrorResponse
// @Router /scans/{id}/report [get]
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, "rendering report", err)
		return
	}
	data, err := s.orchestrator.Report(r.Context(), id, format)
	if err != nil {
		s.fail(w, "rendering report", err, logging.Field{Key: "scan_id", Value: id})
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	if format == report.FormatPDF {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="lumen-%s.pdf"`, id))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// @Summary Remediation advice for a completed scan
// @Tags reports
// @Produce json
// @Param id path string true "scan id"
// @Success 200 {object} analysis.Analysis
// @Failure 501 {object} ErrorResponse
// @Router /scans/{id}/analysis [post]
func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := s.orchestrator.Analyze(r.Context(), id)
	if err != nil {
		s.fail(w, "analyzing scan", err, logging.Field{Key: "scan_id", Value: id})
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Queue

// @Summary Queue statistics
// @Tags queue
// @Produce json
// @Success 200 {object} queue.Stats
// @Router /queue/stats [get]
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.orchestrator.QueueStats(r.Context())
	if err != nil {
		s.fail(w, "queue stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// @Summary Stop dispatching jobs
// @Tags queue
// @Produce json
// @Success 200 {object} queue.Stats
// @Router /queue/pause [post]
func (s *Server) handlePauseQueue(w http.ResponseWriter, r *http.Request) {
	s.orchestrator.PauseQueue()
	s.logger.Info("queue paused")
	s.handleQueueStats(w, r)
}

// @Summary Resume dispatching jobs
// @Tags queue
// @Produce json
// @Success 200 {object} queue.Stats
// @Router /queue/resume [post]
func (s *Server) handleResumeQueue(w http.ResponseWriter, r *http.Request) {
	s.orchestrator.ResumeQueue()
	s.logger.Info("queue resumed")
	s.handleQueueStats(w, r)
}

// @Summary Drop every waiting job
// @Tags queue
// @Produce json
// @Success 200 {object} DrainResponse
// @Router /queue/drain [post]
func (s *Server) handleDrainQueue(w http.ResponseWriter, r *http.Request) {
	n, err := s.orchestrator.DrainQueue(r.Context())
	if err != nil {
		s.fail(w, "draining queue", err)
		return
	}
	s.logger.Info("queue drained", logging.Field{Key: "removed", Value: n})
	writeJSON(w, http.StatusOK, DrainResponse{Removed: n})
}

// Ops

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// @Summary Database and queue health
// @Tags ops
// @Produce json
// @Success 200 {object} app.Health
// @Failure 503 {object} app.Health
// @Router /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	h := s.orchestrator.Health(ctx)
	status := http.StatusOK
	if h.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

// WebSockets

// handleScanWS sends the current scan record, then every lifecycle event of
// the scan until a terminal one or until the client goes away.
func (s *Server) handleScanWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub := s.orchestrator.Subscribe(id)
	defer sub.Close()

	sc, err := s.orchestrator.Get(r.Context(), id)
	if err != nil {
		s.fail(w, "watching scan", err, logging.Field{Key: "scan_id", Value: id})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(sc); err != nil {
		return
	}
	if sc.Status.IsTerminal() {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "scan finished"))
		return
	}

	// Reads only detect the client closing the connection.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.logger.Info("watching scan", logging.Field{Key: "scan_id", Value: id})
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Type.Terminal() {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "scan finished"))
				return
			}
		}
	}
}
