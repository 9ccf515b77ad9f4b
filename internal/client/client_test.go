package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/lumen/internal/model"
	"github.com/raysh454/lumen/internal/testutil"
)

func newClient(t *testing.T, h http.HandlerFunc) *APIClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, srv.Client(), &testutil.DummyLogger{})
	require.NoError(t, err)
	return c
}

func TestNew_RejectsBadURL(t *testing.T) {
	t.Parallel()
	_, err := New("ftp://example.com", nil, &testutil.DummyLogger{})
	assert.Error(t, err)
	_, err = New("http://localhost:8080", nil, nil)
	assert.Error(t, err)
}

func TestSubmit(t *testing.T) {
	t.Parallel()
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/scans" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["url"] != "https://example.com" || body["userId"] != "u1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"s1","jobId":"s1","url":"https://example.com/","status":"pending"}`))
	})

	res, err := c.Submit(context.Background(), "https://example.com", "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, "s1", res.ID)
	assert.Equal(t, model.StatusPending, res.Status)
}

func TestSubmit_EnqueueFailureCarriesScanID(t *testing.T) {
	t.Parallel()
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"scan stored but not queued","scanId":"s9"}`))
	})

	_, err := c.Submit(context.Background(), "https://example.com", "", 0)
	var herr *HTTPError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, http.StatusServiceUnavailable, herr.StatusCode)
	assert.Equal(t, "s9", herr.ScanID)
}

func TestGetScan_NotFound(t *testing.T) {
	t.Parallel()
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"scan not found"}`))
	})

	_, err := c.GetScan(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "scan not found")
}

func TestGetScan_MalformedBody(t *testing.T) {
	t.Parallel()
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":`))
	})

	_, err := c.GetScan(context.Background(), "s1")
	require.Error(t, err)
	var herr *HTTPError
	assert.False(t, errors.As(err, &herr))
}

func TestListScans_QueryParams(t *testing.T) {
	t.Parallel()
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("userId") != "u1" || q.Get("status") != "failed" || q.Get("page") != "2" || q.Get("limit") != "5" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"data":[{"id":"a","status":"failed"}],"total":6,"page":2,"limit":5,"totalPages":2}`))
	})

	page, err := c.ListScans(context.Background(), ListOptions{UserID: "u1", Status: model.StatusFailed, Page: 2, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 6, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "a", page.Data[0].ID)
}

func TestDelete(t *testing.T) {
	t.Parallel()
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/scans/s1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.Delete(context.Background(), "s1"))
	assert.ErrorIs(t, c.Delete(context.Background(), "s2"), ErrNotFound)
}

func TestReport_ReturnsRawBytes(t *testing.T) {
	t.Parallel()
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "md" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/markdown")
		w.Write([]byte("# Accessibility report"))
	})

	data, err := c.Report(context.Background(), "s1", "md")
	require.NoError(t, err)
	assert.Equal(t, "# Accessibility report", string(data))
}
