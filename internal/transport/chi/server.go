// Package chi implements the HTTP API over the go-chi router: job
// lifecycle, SSE progress events, hybrid search, usage and health.
package chi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/repodex/internal/domain"
	"github.com/kailas-cloud/repodex/internal/domain/job"
	"github.com/kailas-cloud/repodex/internal/domain/search/result"
	"github.com/kailas-cloud/repodex/internal/usecase/health"
	"github.com/kailas-cloud/repodex/internal/usecase/orchestrator"
	searchuc "github.com/kailas-cloud/repodex/internal/usecase/search"
	usageuc "github.com/kailas-cloud/repodex/internal/usecase/usage"
)

// jobService is the orchestrator surface the transport consumes.
type jobService interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (*job.IndexJob, error)
	Status(ctx context.Context, jobID string) (*job.IndexJob, error)
	List(ctx context.Context) ([]*job.IndexJob, error)
	Outcomes(ctx context.Context, jobID string) ([]*job.FileOutcome, error)
	Resume(ctx context.Context, jobID string) (*job.IndexJob, error)
	Cancel(ctx context.Context, jobID string) error
	Events(jobID string) (<-chan job.Progress, func())
}

// searchService executes hybrid retrieval.
type searchService interface {
	Search(ctx context.Context, req searchuc.Request) (*searchuc.Response, error)
}

// usageService reads per-job usage counters.
type usageService interface {
	GetReport(ctx context.Context, jobID string) (*usageuc.Report, error)
}

// healthService aggregates component health checks.
type healthService interface {
	Check(ctx context.Context) health.Report
}

// Server holds the HTTP handlers.
type Server struct {
	jobs          jobService
	search        searchService
	usage         usageService
	health        healthService
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	jobs jobService,
	search searchService,
	usage usageService,
	healthSvc healthService,
	logger *zap.Logger,
) *Server {
	s := &Server{
		jobs:   jobs,
		search: search,
		usage:  usage,
		health: healthSvc,
		logger: logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrJobNotFound, http.StatusNotFound, CodeJobNotFound),
		sentinelHandler(domain.ErrInvalidRequest, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(domain.ErrRepositoryUnreadable, http.StatusBadRequest, CodeRepoUnreadable),
		sentinelHandler(domain.ErrJobRunning, http.StatusConflict, CodeJobRunning),
		sentinelHandler(domain.ErrJobTerminal, http.StatusConflict, CodeJobTerminal),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, CodeEmbeddingProvider),
		sentinelHandler(domain.ErrCircuitOpen, http.StatusServiceUnavailable, CodeCredentialsDegraded),
		sentinelHandler(domain.ErrCredentialUnavailable, http.StatusServiceUnavailable, CodeCredentialsDegraded),
		sentinelHandler(domain.ErrSearchUnavailable, http.StatusServiceUnavailable, CodeSearchUnavailable),
		sentinelHandler(domain.ErrStorageUnavailable, http.StatusServiceUnavailable, CodeStorageUnavailable),
	}
	return s
}

// Routes mounts all API endpoints on the router.
func (s *Server) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.SubmitJob)
			r.Get("/", s.ListJobs)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", s.GetJob)
				r.Get("/outcomes", s.ListOutcomes)
				r.Get("/usage", s.GetUsage)
				r.Get("/events", s.JobEvents)
				r.Post("/resume", s.ResumeJob)
				r.Post("/cancel", s.CancelJob)
			})
		})
		r.Post("/search", s.Search)
	})
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// SubmitJobRequest is the POST /jobs body.
type SubmitJobRequest struct {
	RepositoryRef string `json:"repository_ref"`
	RepoID        string `json:"repo_id"`
	Commit        string `json:"commit"`
	ChunkSize     int    `json:"chunk_size,omitempty"`
}

// JobResponse is the API view of an index job.
type JobResponse struct {
	ID            string     `json:"id"`
	RepositoryRef string     `json:"repository_ref"`
	RepoID        string     `json:"repo_id"`
	Commit        string     `json:"commit"`
	Status        string     `json:"status"`
	TotalFiles    int        `json:"total_files"`
	Processed     int        `json:"processed"`
	Succeeded     int        `json:"succeeded"`
	Errored       int        `json:"errored"`
	Skipped       int        `json:"skipped"`
	LastError     string     `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// SubmitJob handles POST /api/v1/jobs.
func (s *Server) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	j, err := s.jobs.Submit(r.Context(), orchestrator.SubmitRequest{
		RepositoryRef: req.RepositoryRef,
		RepoID:        req.RepoID,
		Commit:        req.Commit,
		ChunkSize:     req.ChunkSize,
	})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/jobs/"+j.ID)
	writeJSON(w, http.StatusAccepted, jobToResponse(j))
}

// ListJobs handles GET /api/v1/jobs.
func (s *Server) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.List(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]JobResponse, len(jobs))
	for i, j := range jobs {
		items[i] = jobToResponse(j)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetJob handles GET /api/v1/jobs/{jobID}.
func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Status(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobToResponse(j))
}

// OutcomeResponse is the API view of one file outcome.
type OutcomeResponse struct {
	FilePath        string    `json:"file_path"`
	Status          string    `json:"status"`
	ErrorDetail     string    `json:"error_detail,omitempty"`
	EntitiesEmitted int       `json:"entities_emitted"`
	ProcessedAt     time.Time `json:"processed_at"`
}

// ListOutcomes handles GET /api/v1/jobs/{jobID}/outcomes.
func (s *Server) ListOutcomes(w http.ResponseWriter, r *http.Request) {
	outcomes, err := s.jobs.Outcomes(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]OutcomeResponse, len(outcomes))
	for i, o := range outcomes {
		items[i] = OutcomeResponse{
			FilePath:        o.FilePath,
			Status:          string(o.Status),
			ErrorDetail:     o.ErrorDetail,
			EntitiesEmitted: o.EntitiesEmitted,
			ProcessedAt:     o.ProcessedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetUsage handles GET /api/v1/jobs/{jobID}/usage.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if _, err := s.jobs.Status(r.Context(), jobID); err != nil {
		s.handleDomainError(w, err)
		return
	}
	report, err := s.usage.GetReport(r.Context(), jobID)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ResumeJob handles POST /api/v1/jobs/{jobID}/resume.
func (s *Server) ResumeJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Resume(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobToResponse(j))
}

// CancelJob handles POST /api/v1/jobs/{jobID}/cancel.
func (s *Server) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.jobs.Cancel(r.Context(), jobID); err != nil {
		s.handleDomainError(w, err)
		return
	}
	j, err := s.jobs.Status(r.Context(), jobID)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobToResponse(j))
}

// SearchRequest is the POST /search body.
type SearchRequest struct {
	Query  string `json:"query"`
	RepoID string `json:"repo_id"`
	Commit string `json:"commit"`
	TopN   int    `json:"top_n"`
}

// SearchResultItem is one cited hit.
type SearchResultItem struct {
	DocID    string          `json:"doc_id"`
	Score    float64         `json:"score"`
	Source   string          `json:"source"`
	Content  string          `json:"content"`
	Citation result.Citation `json:"citation"`
}

// SearchDiagnostics reports how the ranking was fused.
type SearchDiagnostics struct {
	LexicalCount int  `json:"lexical_count"`
	VectorCount  int  `json:"vector_count"`
	KConst       int  `json:"k_const"`
	Degraded     bool `json:"degraded"`
	Dropped      int  `json:"dropped"`
}

// SearchResponse is the POST /search reply.
type SearchResponse struct {
	Items       []SearchResultItem `json:"items"`
	Total       int                `json:"total"`
	Mode        string             `json:"mode"`
	Tokens      int                `json:"tokens"`
	Diagnostics SearchDiagnostics  `json:"diagnostics"`
}

// Search handles POST /api/v1/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	resp, err := s.search.Search(r.Context(), searchuc.Request{
		Query:  req.Query,
		RepoID: req.RepoID,
		Commit: req.Commit,
		TopN:   req.TopN,
	})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]SearchResultItem, len(resp.Results))
	for i := range resp.Results {
		res := &resp.Results[i]
		items[i] = SearchResultItem{
			DocID:    res.DocID(),
			Score:    res.Score(),
			Source:   string(res.Source()),
			Content:  res.Content(),
			Citation: res.Citation(),
		}
	}
	writeJSON(w, http.StatusOK, SearchResponse{
		Items:  items,
		Total:  len(items),
		Mode:   string(resp.Mode),
		Tokens: resp.Tokens,
		Diagnostics: SearchDiagnostics{
			LexicalCount: resp.Diagnostics.LexicalCount,
			VectorCount:  resp.Diagnostics.VectorCount,
			KConst:       resp.Diagnostics.KConst,
			Degraded:     resp.Diagnostics.Degraded,
			Dropped:      resp.Diagnostics.Dropped,
		},
	})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != health.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}

func jobToResponse(j *job.IndexJob) JobResponse {
	return JobResponse{
		ID:            j.ID,
		RepositoryRef: j.RepositoryRef,
		RepoID:        j.RepoID,
		Commit:        j.Commit,
		Status:        string(j.Status),
		TotalFiles:    j.TotalFiles,
		Processed:     j.Processed(),
		Succeeded:     j.Succeeded,
		Errored:       j.Errored,
		Skipped:       j.Skipped,
		LastError:     j.LastError,
		CreatedAt:     j.CreatedAt,
		CompletedAt:   j.CompletedAt,
	}
}
