package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inclusa/wcag-audit/internal/audit"
	"github.com/inclusa/wcag-audit/internal/llm"
	"github.com/inclusa/wcag-audit/internal/snapshot"
	"github.com/inclusa/wcag-audit/internal/store"
)

func testSnapshot() *snapshot.Snapshot {
	return &snapshot.Snapshot{
		RootURL: "https://example.com/",
		Pages: []snapshot.PageModel{{
			URL:   "https://example.com/",
			Title: "Home",
			Lang:  "en",
		}},
	}
}

func modelResponse(content string) string {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
		"usage": map[string]any{"total_tokens": 100},
	})
	return string(body)
}

func validAnalysis(score int) string {
	return fmt.Sprintf(`{
		"analysis_result": {
			"summary": {"score": %d, "compliance_level": "AA", "overall_assessment": "fine"},
			"criteria_evaluation": [],
			"priority_actions": {"immediate": [], "short_term": [], "long_term": []}
		}
	}`, score)
}

func newDispatcher(t *testing.T, srvURL string, concurrency int) (*Dispatcher, *store.Memory) {
	t.Helper()
	client, err := llm.New(llm.Config{
		APIKey:  "test-key",
		Model:   "test-model",
		BaseURL: srvURL,
	}, zap.NewNop())
	require.NoError(t, err)
	st := store.NewMemory()
	return NewDispatcher(client, st, concurrency, zap.NewNop()), st
}

func TestDispatchRunsAllAxes(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, modelResponse(validAnalysis(88)))
	}))
	defer srv.Close()

	d, st := newDispatcher(t, srv.URL, 12)

	var mu sync.Mutex
	var progress []int
	results, err := d.Dispatch(context.Background(), "job-1", testSnapshot(), audit.CheckResult{}, func(done, total int) {
		mu.Lock()
		progress = append(progress, done)
		mu.Unlock()
		assert.Equal(t, len(audit.Axes), total)
	})
	require.NoError(t, err)
	require.Len(t, results, len(audit.Axes))

	for _, r := range results {
		assert.Equal(t, audit.ModuleStatusCompleted, r.Status)
		require.NotNil(t, r.Result)
		assert.Equal(t, 88, r.Result.Summary.Score)
		assert.Equal(t, 100, r.TokenUsage)
	}

	assert.Len(t, progress, len(audit.Axes))

	rows, err := st.ListModuleResults(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Len(t, rows, len(audit.Axes))
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, modelResponse(validAnalysis(70)))
	}))
	defer srv.Close()

	client, err := llm.New(llm.Config{
		APIKey:  "test-key",
		Model:   "test-model",
		BaseURL: srv.URL,
	}, zap.NewNop())
	require.NoError(t, err)
	st := store.NewMemory()
	d := NewDispatcher(client, st, 2, zap.NewNop())

	axis := audit.Axes[0]
	result := d.runModule(context.Background(), "job-1", axis, testSnapshot(), audit.CheckResult{})
	assert.Equal(t, audit.ModuleStatusCompleted, result.Status)
	assert.GreaterOrEqual(t, calls.Load(), int64(2))
}

func TestDispatchMarksUnparseableModuleFailed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, modelResponse("I am sorry, I cannot answer in JSON."))
	}))
	defer srv.Close()

	d, st := newDispatcher(t, srv.URL, 2)
	axis := audit.Axes[0]
	result := d.runModule(context.Background(), "job-1", axis, testSnapshot(), audit.CheckResult{})

	assert.Equal(t, audit.ModuleStatusFailed, result.Status)
	assert.NotEmpty(t, result.ErrorText)
	// The raw text is retained for the persisted row.
	assert.Contains(t, result.RawOutput, "cannot answer")

	rows, err := st.ListModuleResults(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, audit.ModuleStatusFailed, rows[0].Status)
}

func TestDispatchPermanentErrorDoesNotAffectOtherModules(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "1_1_text_alternatives") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, modelResponse(validAnalysis(66)))
	}))
	defer srv.Close()

	d, _ := newDispatcher(t, srv.URL, 12)
	results, err := d.Dispatch(context.Background(), "job-1", testSnapshot(), audit.CheckResult{}, nil)
	require.NoError(t, err)

	failed, completed := 0, 0
	for _, r := range results {
		switch r.Status {
		case audit.ModuleStatusFailed:
			failed++
		case audit.ModuleStatusCompleted:
			completed++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, len(audit.Axes)-1, completed)
}

func TestDispatchHonorsCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	d, _ := newDispatcher(t, srv.URL, 12)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := d.Dispatch(ctx, "job-1", testSnapshot(), audit.CheckResult{}, nil)
	require.Error(t, err)
	assert.True(t, audit.IsCode(err, audit.CodeCancelled))
	for _, r := range results {
		assert.Equal(t, audit.ModuleStatusFailed, r.Status)
	}
}
