// Package api exposes the audit service over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/inclusa/wcag-audit/internal/audit"
	"github.com/inclusa/wcag-audit/internal/orchestrator"
)

// Server routes audit requests to the orchestrator.
type Server struct {
	orch     *orchestrator.Orchestrator
	logger   *zap.Logger
	gatherer prometheus.Gatherer
	router   chi.Router
}

// NewServer builds the HTTP surface. gatherer may be nil to disable the
// metrics endpoint.
func NewServer(orch *orchestrator.Orchestrator, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	s := &Server{orch: orch, logger: logger, gatherer: gatherer}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/v1/audits", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/{jobID}", s.handleStatus)
		r.Get("/{jobID}/report", s.handleReport)
		r.Post("/{jobID}/cancel", s.handleCancel)
	})
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleHealth)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type submitRequest struct {
	URL         string `json:"url"`
	Plan        string `json:"plan"`
	MaxPages    int    `json:"max_pages,omitempty"`
	SubmitterID string `json:"submitter_id,omitempty"`
}

type submitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type statusResponse struct {
	JobID       string     `json:"job_id"`
	URL         string     `json:"url"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	Phase       string     `json:"phase,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	plan := audit.PlanTier(req.Plan)
	if req.Plan == "" {
		plan = audit.PlanBasic
	}
	if !plan.Valid() {
		s.writeError(w, http.StatusBadRequest, "unknown plan tier")
		return
	}

	job, err := s.orch.Submit(r.Context(), orchestrator.Submission{
		URL:         req.URL,
		Plan:        plan,
		MaxPages:    req.MaxPages,
		SubmitterID: req.SubmitterID,
	})
	if err != nil {
		s.writeCoded(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, submitResponse{JobID: job.ID, Status: string(job.Status)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.orch.Job(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeCoded(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{
		JobID:       job.ID,
		URL:         job.URL,
		Status:      string(job.Status),
		Progress:    job.Progress,
		Phase:       job.Phase,
		Error:       job.ErrorText,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		CompletedAt: job.CompletedAt,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.orch.Job(r.Context(), jobID)
	if err != nil {
		s.writeCoded(w, err)
		return
	}
	if !job.Status.Terminal() {
		s.writeError(w, http.StatusConflict, "job is still "+string(job.Status))
		return
	}

	report, err := s.orch.Report(r.Context(), jobID)
	if err != nil {
		s.writeCoded(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.orch.Cancel(r.Context(), jobID); err != nil {
		s.writeCoded(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "cancelling"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeCoded maps taxonomy codes to HTTP statuses.
func (s *Server) writeCoded(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch audit.CodeOf(err) {
	case audit.CodeNotFound:
		status = http.StatusNotFound
	case audit.CodeIllegalState:
		status = http.StatusConflict
	case audit.CodeCrawlFatal:
		status = http.StatusBadRequest
	case audit.CodeCancelled:
		status = http.StatusConflict
	case audit.CodePersistenceTransient:
		status = http.StatusServiceUnavailable
	}
	s.writeError(w, status, err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
