package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inclusa/wcag-audit/internal/audit"
	"github.com/inclusa/wcag-audit/internal/config"
	"github.com/inclusa/wcag-audit/internal/jobs"
	"github.com/inclusa/wcag-audit/internal/llm"
	"github.com/inclusa/wcag-audit/internal/metrics"
	"github.com/inclusa/wcag-audit/internal/modules"
	"github.com/inclusa/wcag-audit/internal/store"
)

const sitePage = `<!DOCTYPE html>
<html lang="de">
<head><title>%s</title></head>
<body>
<header role="banner"><a href="#main">Zum Inhalt springen</a></header>
<main id="main">
<h1>%s</h1>
<img src="/logo.png" alt="Firmenlogo">
<p>Inhalt der Seite.</p>
<a href="/about">Über uns</a>
<a href="/contact">Kontakt</a>
</main>
</body>
</html>`

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		title := strings.TrimPrefix(r.URL.Path, "/")
		if title == "" {
			title = "Startseite"
		}
		fmt.Fprintf(w, sitePage, title, title)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func modelBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"content": content}}},
		"usage":   map[string]any{"total_tokens": 42},
	})
	return string(b)
}

func analysisJSON(score int) string {
	return fmt.Sprintf(`{
		"analysis_result": {
			"summary": {"score": %d, "compliance_level": "AA", "overall_assessment": "solide"},
			"criteria_evaluation": [
				{"criterion_id": "1.1.1", "name": "Non-text Content", "status": "PASSED", "finding": "ok"}
			],
			"priority_actions": {"immediate": [], "short_term": [], "long_term": []}
		}
	}`, score)
}

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 0},
		Model: config.ModelConfig{
			Name:              "test-model",
			APIKey:            "test-key",
			GlobalConcurrency: 16,
			MaxRetries:        2,
			CallTimeoutSec:    10,
		},
		Crawler: config.CrawlerConfig{
			UserAgent:         "audit-test",
			MaxPagesDefault:   3,
			RequestTimeoutSec: 5,
			BudgetSeconds:     20,
		},
		Jobs: config.JobsConfig{
			ModuleConcurrency: 12,
			WallClockMinutes:  5,
			ProgressFlushSec:  1,
		},
	}
}

func newOrchestrator(t *testing.T, cfg config.Config, modelURL string, m *metrics.Metrics) (*Orchestrator, store.Store) {
	t.Helper()
	logger := zap.NewNop()
	st := store.NewMemory()
	registry := jobs.NewRegistry(st, logger)

	client, err := llm.New(llm.Config{
		APIKey:     cfg.Model.APIKey,
		Model:      cfg.Model.Name,
		BaseURL:    modelURL,
		MaxRetries: cfg.Model.MaxRetries,
	}, logger)
	require.NoError(t, err)

	dispatcher := modules.NewDispatcher(client, st, cfg.Jobs.ModuleConcurrency, logger)
	return New(cfg, registry, st, dispatcher, nil, m, logger), st
}

func waitTerminal(t *testing.T, o *Orchestrator, jobID string) audit.Job {
	t.Helper()
	var job audit.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = o.Job(context.Background(), jobID)
		return err == nil && job.Status.Terminal()
	}, 30*time.Second, 50*time.Millisecond)
	return job
}

func TestRunCompletesHappyPath(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, modelBody(analysisJSON(86)))
	}))
	defer model.Close()

	m := metrics.New(prometheus.NewRegistry())
	o, st := newOrchestrator(t, testConfig(), model.URL, m)

	job, err := o.Submit(context.Background(), Submission{URL: site.URL, Plan: audit.PlanBasic})
	require.NoError(t, err)

	final := waitTerminal(t, o, job.ID)
	assert.Equal(t, audit.JobStatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	assert.Empty(t, final.ErrorText)
	require.NotNil(t, final.CompletedAt)

	report, err := st.GetFinalReport(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, report.TechnicalAnalysis.ModulesCompleted)
	assert.Equal(t, 3, report.TechnicalAnalysis.PagesCrawled)
	assert.InDelta(t, 86, report.TechnicalAnalysis.Score, 0.01)
	assert.Equal(t, "AA", report.ConformanceLevel)
	assert.NotEmpty(t, report.ExecutiveSummary)

	rows, err := st.ListModuleResults(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 12)

	require.NoError(t, o.Shutdown(context.Background()))
}

func TestRunToleratesPartialModuleFailure(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "2_3_seizures") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, modelBody(analysisJSON(74)))
	}))
	defer model.Close()

	o, st := newOrchestrator(t, testConfig(), model.URL, nil)

	job, err := o.Submit(context.Background(), Submission{URL: site.URL, Plan: audit.PlanBasic})
	require.NoError(t, err)

	final := waitTerminal(t, o, job.ID)
	assert.Equal(t, audit.JobStatusCompleted, final.Status)

	report, err := st.GetFinalReport(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 11, report.TechnicalAnalysis.ModulesCompleted)
	assert.Equal(t, 12, report.TechnicalAnalysis.ModulesTotal)
}

func TestRunFailsOnInsufficientCoverage(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, modelBody("Das kann ich leider nicht beantworten."))
	}))
	defer model.Close()

	o, st := newOrchestrator(t, testConfig(), model.URL, nil)

	job, err := o.Submit(context.Background(), Submission{URL: site.URL, Plan: audit.PlanBasic})
	require.NoError(t, err)

	final := waitTerminal(t, o, job.ID)
	assert.Equal(t, audit.JobStatusFailed, final.Status)
	assert.Contains(t, final.ErrorText, "InsufficientCoverage")

	_, err = st.GetFinalReport(context.Background(), job.ID)
	assert.True(t, audit.IsCode(err, audit.CodeNotFound))

	// Module rows are kept for inspection even though the job failed.
	rows, err := st.ListModuleResults(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 12)
	for _, row := range rows {
		assert.Equal(t, audit.ModuleStatusFailed, row.Status)
	}
}

func TestRunFailsWhenRootUnreachable(t *testing.T) {
	t.Parallel()

	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer site.Close()
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, modelBody(analysisJSON(80)))
	}))
	defer model.Close()

	o, st := newOrchestrator(t, testConfig(), model.URL, nil)

	job, err := o.Submit(context.Background(), Submission{URL: site.URL, Plan: audit.PlanBasic})
	require.NoError(t, err)

	final := waitTerminal(t, o, job.ID)
	assert.Equal(t, audit.JobStatusFailed, final.Status)
	assert.Contains(t, final.ErrorText, "CrawlFatal")

	rows, err := st.ListModuleResults(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRunHonorsCancellation(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(20 * time.Second):
		}
	}))
	defer model.Close()

	o, _ := newOrchestrator(t, testConfig(), model.URL, nil)

	job, err := o.Submit(context.Background(), Submission{URL: site.URL, Plan: audit.PlanBasic})
	require.NoError(t, err)

	// Wait until the module phase is underway before cancelling.
	require.Eventually(t, func() bool {
		j, err := o.Job(context.Background(), job.ID)
		return err == nil && j.Status == audit.JobStatusRunning && j.Progress >= 10
	}, 15*time.Second, 25*time.Millisecond)

	require.NoError(t, o.Cancel(context.Background(), job.ID))

	final := waitTerminal(t, o, job.ID)
	assert.Equal(t, audit.JobStatusCancelled, final.Status)

	require.NoError(t, o.Shutdown(context.Background()))

	// The terminal state survives the worker teardown.
	after, err := o.Job(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, audit.JobStatusCancelled, after.Status)
}

func TestSubmitRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	o, _ := newOrchestrator(t, testConfig(), "http://127.0.0.1:0", nil)
	_, err := o.Submit(context.Background(), Submission{URL: "ftp://example.com", Plan: audit.PlanBasic})
	require.Error(t, err)
	assert.True(t, audit.IsCode(err, audit.CodeCrawlFatal))
}
