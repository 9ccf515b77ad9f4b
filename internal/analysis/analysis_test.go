package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/lumen/internal/model"
	"github.com/raysh454/lumen/internal/testutil"
)

func completedScan() *model.Scan {
	score := 81
	return &model.Scan{
		ID:          "scan-1",
		URL:         "https://example.com",
		Status:      model.StatusCompleted,
		Score:       &score,
		PassedCount: 20,
		Results: &model.AuditReport{
			Findings: testutil.Findings(1, 2, 0, 3),
		},
	}
}

// fakeOpenAI answers chat completions with content and records the request.
func fakeOpenAI(t *testing.T, content string, got *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if got != nil {
			_ = json.NewDecoder(r.Body).Decode(got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30},
		})
	}))
}

func TestNew_DisabledWithoutKey(t *testing.T) {
	t.Parallel()
	_, err := New(DefaultConfig(), &testutil.DummyLogger{})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestAnalyze(t *testing.T) {
	t.Parallel()
	var req map[string]any
	srv := fakeOpenAI(t, `{"summary":"Two serious issues.","recommendations":[{"ruleId":"critical-0","priority":"high","fix":"Add alt text"}]}`, &req)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.APIKey = "sk-test"
	cfg.BaseURL = srv.URL + "/v1"
	cfg.MaxFindings = 2
	a, err := New(cfg, &testutil.DummyLogger{})
	require.NoError(t, err)

	out, err := a.Analyze(context.Background(), completedScan())
	require.NoError(t, err)
	assert.Equal(t, "scan-1", out.ScanID)
	assert.Equal(t, "Two serious issues.", out.Summary)
	require.Len(t, out.Recommendations, 1)
	assert.Equal(t, "high", out.Recommendations[0].Priority)

	assert.Equal(t, "gpt-4o-mini", req["model"])
	msgs, ok := req["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	user := msgs[1].(map[string]any)["content"].(string)
	var in promptInput
	require.NoError(t, json.Unmarshal([]byte(user), &in))
	require.Len(t, in.Findings, 2)
	assert.Equal(t, "critical", in.Findings[0].Severity)
	assert.Equal(t, 81, in.Score)
}

func TestAnalyze_BadJSON(t *testing.T) {
	t.Parallel()
	srv := fakeOpenAI(t, "Sure! Here are some tips.", nil)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.APIKey = "sk-test"
	cfg.BaseURL = srv.URL + "/v1"
	a, err := New(cfg, &testutil.DummyLogger{})
	require.NoError(t, err)

	_, err = a.Analyze(context.Background(), completedScan())
	assert.True(t, errors.Is(err, ErrBadResponse))
}

func TestAnalyze_RequiresResults(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.APIKey = "sk-test"
	a, err := New(cfg, &testutil.DummyLogger{})
	require.NoError(t, err)
	_, err = a.Analyze(context.Background(), &model.Scan{ID: "x"})
	assert.Error(t, err)
}

func TestIsReasoningModel(t *testing.T) {
	t.Parallel()
	assert.True(t, isReasoningModel("o3-mini"))
	assert.True(t, isReasoningModel("gpt-5"))
	assert.False(t, isReasoningModel("gpt-4o-mini"))
}
