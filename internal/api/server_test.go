package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inclusa/wcag-audit/internal/audit"
	"github.com/inclusa/wcag-audit/internal/config"
	"github.com/inclusa/wcag-audit/internal/jobs"
	"github.com/inclusa/wcag-audit/internal/llm"
	"github.com/inclusa/wcag-audit/internal/modules"
	"github.com/inclusa/wcag-audit/internal/orchestrator"
	"github.com/inclusa/wcag-audit/internal/store"
)

const testPage = `<!DOCTYPE html>
<html lang="en">
<head><title>Welcome</title></head>
<body><main><h1>Welcome</h1><p>Hello.</p></main></body>
</html>`

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	logger := zap.NewNop()

	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testPage)
	}))
	t.Cleanup(site.Close)

	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content := `{"analysis_result": {"summary": {"score": 82, "compliance_level": "AA", "overall_assessment": "ok"}, "criteria_evaluation": [], "priority_actions": {"immediate": [], "short_term": [], "long_term": []}}}`
		body, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": content}}},
			"usage":   map[string]any{"total_tokens": 10},
		})
		w.Write(body)
	}))
	t.Cleanup(model.Close)

	cfg := config.Config{
		Model: config.ModelConfig{Name: "test-model", APIKey: "key", GlobalConcurrency: 16, MaxRetries: 2},
		Crawler: config.CrawlerConfig{
			UserAgent:         "audit-test",
			MaxPagesDefault:   2,
			RequestTimeoutSec: 5,
			BudgetSeconds:     15,
		},
		Jobs: config.JobsConfig{ModuleConcurrency: 12, WallClockMinutes: 5, ProgressFlushSec: 1},
	}

	st := store.NewMemory()
	registry := jobs.NewRegistry(st, logger)
	client, err := llm.New(llm.Config{APIKey: "key", Model: "test-model", BaseURL: model.URL}, logger)
	require.NoError(t, err)
	dispatcher := modules.NewDispatcher(client, st, 12, logger)
	orch := orchestrator.New(cfg, registry, st, dispatcher, nil, nil, logger)

	return NewServer(orch, nil, logger), site
}

func postJSON(t *testing.T, s *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestSubmitAcceptsJob(t *testing.T) {
	t.Parallel()

	s, site := newTestServer(t)
	rec := postJSON(t, s, "/v1/audits", fmt.Sprintf(`{"url": %q, "plan": "basic"}`, site.URL))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, "pending", resp.Status)
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()

	s, site := newTestServer(t)

	rec := postJSON(t, s, "/v1/audits", `{"plan": "basic"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, s, "/v1/audits", fmt.Sprintf(`{"url": %q, "plan": "platinum"}`, site.URL))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, s, "/v1/audits", `{"url": "ftp://example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, s, "/v1/audits", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusUnknownJob(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rec := get(t, s, "/v1/audits/00000000-0000-0000-0000-000000000000")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportLifecycle(t *testing.T) {
	t.Parallel()

	s, site := newTestServer(t)
	rec := postJSON(t, s, "/v1/audits", fmt.Sprintf(`{"url": %q}`, site.URL))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))

	// The report endpoint answers 409 until the job is terminal.
	require.Eventually(t, func() bool {
		status := get(t, s, "/v1/audits/"+submitted.JobID)
		require.Equal(t, http.StatusOK, status.Code)
		var sr struct {
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(status.Body.Bytes(), &sr))
		if sr.Status != string(audit.JobStatusCompleted) {
			rep := get(t, s, "/v1/audits/"+submitted.JobID+"/report")
			assert.Equal(t, http.StatusConflict, rep.Code)
			return false
		}
		return true
	}, 30*time.Second, 100*time.Millisecond)

	rep := get(t, s, "/v1/audits/"+submitted.JobID+"/report")
	require.Equal(t, http.StatusOK, rep.Code)

	var report audit.FinalReport
	require.NoError(t, json.Unmarshal(rep.Body.Bytes(), &report))
	assert.Equal(t, submitted.JobID, report.JobID)
	assert.Equal(t, "AA", report.ConformanceLevel)
	assert.Len(t, report.ExpertAnalyses, 12)
}

func TestCancelUnknownJob(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rec := postJSON(t, s, "/v1/audits/does-not-exist/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	assert.Equal(t, http.StatusOK, get(t, s, "/healthz").Code)
	assert.Equal(t, http.StatusOK, get(t, s, "/readyz").Code)
}
