// Package client is the HTTP client lumenctl uses to talk to lumend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/raysh454/lumen/internal/logging"
	"github.com/raysh454/lumen/internal/model"
	"github.com/raysh454/lumen/internal/queue"
	"github.com/raysh454/lumen/internal/report"
)

const userAgent = "lumenctl/1.0"

// ErrNotFound matches any 404 HTTPError.
var ErrNotFound = errors.New("client: not found")

// HTTPError is a non-2xx API response.
type HTTPError struct {
	StatusCode int
	Message    string

	// ScanID is set when the server stored a scan but could not queue it.
	ScanID string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// SubmitResponse is returned by the submit, rescan and requeue endpoints.
type SubmitResponse struct {
	ID        string       `json:"id"`
	JobID     string       `json:"jobId"`
	URL       string       `json:"url"`
	Status    model.Status `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
}

// ScanPage is one page of GET /scans.
type ScanPage struct {
	Data       []*model.Scan `json:"data"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	TotalPages int           `json:"totalPages"`
}

// ListOptions filters GET /scans. Zero values are omitted.
type ListOptions struct {
	UserID string
	Status model.Status
	Page   int
	Limit  int
}

// APIClient calls the lumend REST API.
type APIClient struct {
	baseURL *url.URL
	http    *http.Client
	logger  logging.Logger
}

// New returns a client for the server at baseURL. A nil httpClient gets a
// 30s timeout.
func New(baseURL string, httpClient *http.Client, logger logging.Logger) (*APIClient, error) {
	if logger == nil {
		return nil, errors.New("client: nil logger provided")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: server url %q must be http or https", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &APIClient{
		baseURL: u,
		http:    httpClient,
		logger:  logger.With(logging.Field{Key: "component", Value: "client"}),
	}, nil
}

func (c *APIClient) endpoint(path string, q url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = q.Encode()
	return u.String()
}

// do sends the request and decodes a JSON body into out when out is non-nil.
func (c *APIClient) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	raw, err := c.raw(ctx, method, path, q, in)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("client: decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *APIClient) raw(ctx context.Context, method, path string, q url.Values, in any) ([]byte, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("client: encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, q), body)
	if err != nil {
		return nil, fmt.Errorf("client: create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("api request",
		logging.Field{Key: "method", Value: method},
		logging.Field{Key: "path", Value: path})

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("client: read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		herr := &HTTPError{StatusCode: resp.StatusCode}
		var payload struct {
			Error  string `json:"error"`
			ScanID string `json:"scanId"`
		}
		if json.Unmarshal(data, &payload) == nil {
			herr.Message, herr.ScanID = payload.Error, payload.ScanID
		} else {
			herr.Message = strings.TrimSpace(string(data))
		}
		return nil, herr
	}
	return data, nil
}

// Submit creates a scan. When the server stored the scan but could not queue
// it, the returned HTTPError carries its ScanID.
func (c *APIClient) Submit(ctx context.Context, target, userID string, priority int) (*SubmitResponse, error) {
	in := struct {
		URL      string `json:"url"`
		UserID   string `json:"userId,omitempty"`
		Priority int    `json:"priority,omitempty"`
	}{target, userID, priority}
	var out SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/scans", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetScan fetches one scan record.
func (c *APIClient) GetScan(ctx context.Context, id string) (*model.Scan, error) {
	var sc model.Scan
	if err := c.do(ctx, http.MethodGet, "/scans/"+url.PathEscape(id), nil, nil, &sc); err != nil {
		return nil, err
	}
	if sc.ID == "" {
		return nil, fmt.Errorf("client: scan %s: response without id", id)
	}
	return &sc, nil
}

func (c *APIClient) ListScans(ctx context.Context, opts ListOptions) (*ScanPage, error) {
	q := url.Values{}
	if opts.UserID != "" {
		q.Set("userId", opts.UserID)
	}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	var out ScanPage
	if err := c.do(ctx, http.MethodGet, "/scans", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) Stats(ctx context.Context, userID string) (model.StatusCounts, error) {
	q := url.Values{}
	if userID != "" {
		q.Set("userId", userID)
	}
	var out model.StatusCounts
	err := c.do(ctx, http.MethodGet, "/scans/stats", q, nil, &out)
	return out, err
}

func (c *APIClient) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/scans/"+url.PathEscape(id), nil, nil, nil)
}

func (c *APIClient) Rescan(ctx context.Context, id string) (*SubmitResponse, error) {
	var out SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/scans/"+url.PathEscape(id)+"/rescan", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) Requeue(ctx context.Context, id string) (*SubmitResponse, error) {
	var out SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/scans/"+url.PathEscape(id)+"/requeue", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Compare diffs headID against baseID.
func (c *APIClient) Compare(ctx context.Context, baseID, headID string) (*report.Comparison, error) {
	q := url.Values{"base": {baseID}}
	var out report.Comparison
	if err := c.do(ctx, http.MethodGet, "/scans/"+url.PathEscape(headID)+"/diff", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Report downloads a rendered report.
func (c *APIClient) Report(ctx context.Context, id string, format report.Format) ([]byte, error) {
	q := url.Values{"format": {string(format)}}
	return c.raw(ctx, http.MethodGet, "/scans/"+url.PathEscape(id)+"/report", q, nil)
}

func (c *APIClient) QueueStats(ctx context.Context) (queue.Stats, error) {
	var out queue.Stats
	err := c.do(ctx, http.MethodGet, "/queue/stats", nil, nil, &out)
	return out, err
}
