package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	dispute "github.com/goliatone/go-dispute"
	"github.com/goliatone/go-dispute/flow"
	"github.com/goliatone/go-dispute/generation"
)

const maxBodyBytes = 1 << 20

// Engine is the run control surface the API serves.
type Engine interface {
	Start(ctx context.Context, caseID, customerID string) (string, error)
	Resume(ctx context.Context, runID string) (*dispute.Run, error)
	Get(ctx context.Context, runID string) (*dispute.Run, error)
	ListByCase(ctx context.Context, caseID string) ([]*dispute.Run, error)
	ListPending(ctx context.Context) ([]*dispute.Run, error)
	CaseCosts(ctx context.Context, caseID string) (dispute.CostSummary, error)
	SubmitDecision(ctx context.Context, decision dispute.HumanReviewDecision) (*flow.DecisionResult, error)
}

// Generation exposes proposal gateway health and cache controls.
type Generation interface {
	Stats() generation.Stats
	ClearCache() int
}

type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type Option func(*Server)

func WithGeneration(g Generation) Option {
	return func(s *Server) { s.generation = g }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func WithLogger(l Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRequestTimeout bounds every request. Runs that are still executing
// when it fires are left in their last persisted state.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Server exposes the engine over HTTP.
type Server struct {
	engine     Engine
	generation Generation
	metrics    http.Handler
	logger     Logger
	timeout    time.Duration
	router     chi.Router
}

func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{engine: engine, timeout: 60 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.health)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.timeout))

		r.Post("/workflows", s.startWorkflow)
		r.Get("/workflows/{runID}", s.getWorkflow)
		r.Post("/workflows/{runID}/resume", s.resumeWorkflow)

		r.Get("/cases/{caseID}/workflows", s.caseWorkflows)
		r.Get("/cases/{caseID}/costs", s.caseCosts)

		r.Post("/reviews/decision", s.submitDecision)
		r.Get("/reviews/pending", s.pendingReviews)

		r.Get("/cache/stats", s.cacheStats)
		r.Post("/cache/clear", s.clearCache)
	})
	return r
}

type startRequest struct {
	CaseID     string `json:"case_id"`
	CustomerID string `json:"customer_id"`
}

type startResponse struct {
	RunID       string         `json:"run_id"`
	Status      dispute.Status `json:"status"`
	CurrentStep dispute.Step   `json:"current_step"`
	Error       string         `json:"error_message,omitempty"`
}

func (s *Server) startWorkflow(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	runID, err := s.engine.Start(r.Context(), req.CaseID, req.CustomerID)
	if err != nil {
		// a run halted on persistence still has an id the caller can resume
		env := envelopeFor(err)
		env.RunID = runID
		writeJSON(w, HTTPStatusForError(err), env)
		return
	}
	run, err := s.engine.Get(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{
		RunID:       run.RunID,
		Status:      run.Status,
		CurrentStep: run.CurrentStep,
		Error:       run.ErrorMessage,
	})
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	run, err := s.engine.Get(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) resumeWorkflow(w http.ResponseWriter, r *http.Request) {
	run, err := s.engine.Resume(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type runList struct {
	Runs  []*dispute.Run `json:"runs"`
	Count int            `json:"count"`
}

func (s *Server) caseWorkflows(w http.ResponseWriter, r *http.Request) {
	runs, err := s.engine.ListByCase(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRunList(runs))
}

func (s *Server) caseCosts(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.CaseCosts(r.Context(), chi.URLParam(r, "caseID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) submitDecision(w http.ResponseWriter, r *http.Request) {
	var decision dispute.HumanReviewDecision
	if err := decodeJSON(r, &decision); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.engine.SubmitDecision(r.Context(), decision)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if result.Status == flow.DecisionPartialSuccess {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

func (s *Server) pendingReviews(w http.ResponseWriter, r *http.Request) {
	runs, err := s.engine.ListPending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRunList(runs))
}

func (s *Server) cacheStats(w http.ResponseWriter, _ *http.Request) {
	if s.generation == nil {
		writeJSON(w, http.StatusOK, generation.Stats{})
		return
	}
	writeJSON(w, http.StatusOK, s.generation.Stats())
}

func (s *Server) clearCache(w http.ResponseWriter, _ *http.Request) {
	cleared := 0
	if s.generation != nil {
		cleared = s.generation.ClearCache()
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.generation != nil {
		stats := s.generation.Stats()
		body["generation_healthy"] = stats.Healthy
		body["fallback_rate"] = stats.FallbackRate
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.logger == nil {
			next.ServeHTTP(w, r)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status >= http.StatusInternalServerError {
			s.logger.Error("%s %s -> %d (%s) request_id=%s", r.Method, r.URL.Path, status, time.Since(start), middleware.GetReqID(r.Context()))
			return
		}
		s.logger.Info("%s %s -> %d (%s)", r.Method, r.URL.Path, status, time.Since(start))
	})
}

func newRunList(runs []*dispute.Run) runList {
	if runs == nil {
		runs = []*dispute.Run{}
	}
	return runList{Runs: runs, Count: len(runs)}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := "invalid request body"
		if err == io.EOF {
			msg = "request body required"
		}
		return dispute.NewError(dispute.ErrValidation, msg+": "+strings.TrimSpace(err.Error()), nil, nil)
	}
	return nil
}
