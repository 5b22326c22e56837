package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwbudde/landscape/internal/config"
)

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	resources  Resources
	defaults   config.RunConfig
	addr       string
	server     *http.Server

	// jobs are cancelled when the server shuts down
	jobCtx    context.Context
	cancelAll context.CancelFunc
}

// NewServer creates a new HTTP server. defaults is the configuration job requests are
// decoded over.
func NewServer(addr string, defaults config.RunConfig, res Resources) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		jobManager: NewJobManager(),
		resources:  res,
		defaults:   defaults,
		addr:       addr,
		jobCtx:     ctx,
		cancelAll:  cancel,
	}
}

// Handler returns the routed and wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Register API routes
	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)
	mux.HandleFunc("/api/v1/minima", s.handleMinima)
	mux.HandleFunc("/api/v1/transition-states", s.handleTransitionStates)
	mux.HandleFunc("/api/v1/checkpoints", s.handleCheckpoints)
	mux.Handle("/metrics", promhttp.Handler())

	// Wrap with middleware
	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown cancels running jobs and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	s.cancelAll()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	// Parse job ID from path
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]

	// Route based on subpath
	switch {
	case len(parts) == 1 || parts[1] == "status":
		s.handleGetJobStatus(w, r, jobID)
	case parts[1] == "stream":
		s.handleJobStream(w, r, jobID)
	case parts[1] == "minima":
		s.handleJobMinima(w, r, jobID)
	case parts[1] == "cancel":
		s.handleCancelJob(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	req := JobRequest{Kind: KindHop, Config: s.defaults}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	// Validate request
	if err := req.Config.Validate(); err != nil {
		http.Error(w, fmt.Sprintf("Invalid config: %v", err), http.StatusBadRequest)
		return
	}
	switch req.Kind {
	case KindHop:
	case KindRefine:
		if len(req.Guess) == 0 {
			http.Error(w, "guess is required for refine jobs", http.StatusBadRequest)
			return
		}
	default:
		http.Error(w, fmt.Sprintf("Unknown job kind: %s", req.Kind), http.StatusBadRequest)
		return
	}

	// Create job
	job := s.jobManager.CreateJob(req)
	ctx, cancel := context.WithCancel(s.jobCtx)
	s.jobManager.setCancel(job.ID, cancel)
	created, _ := s.jobManager.GetJob(job.ID)

	// Start worker in background
	go func() {
		defer cancel()
		runJob(ctx, s.jobManager, s.resources, job.ID)
	}()

	writeJSON(w, http.StatusCreated, created)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// handleGetJobStatus handles GET /api/v1/jobs/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	var elapsed time.Duration
	if job.EndTime != nil {
		elapsed = job.EndTime.Sub(job.StartTime)
	} else {
		elapsed = time.Since(job.StartTime)
	}

	response := map[string]any{
		"id":             job.ID,
		"kind":           job.Kind,
		"state":          job.State,
		"config":         job.Config,
		"stepnum":        job.StepNum,
		"naccepted":      job.NAccepted,
		"lowestEnergy":   job.LowestEnergy,
		"elapsed":        elapsed.Seconds(),
		"stepsPerSecond": stepsPerSecond(job.StepNum, elapsed),
		"startTime":      job.StartTime,
		"endTime":        job.EndTime,
		"error":          job.Error,
	}
	if job.Refinement != nil {
		response["refinement"] = job.Refinement
	}

	writeJSON(w, http.StatusOK, response)
}

// handleJobMinima handles GET /api/v1/jobs/:id/minima
func (s *Server) handleJobMinima(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if job.State != StateCompleted && job.State != StateCancelled {
		http.Error(w, "No results yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Minima)
}

// handleCancelJob handles POST /api/v1/jobs/:id/cancel
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, exists := s.jobManager.GetJob(jobID); !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if !s.jobManager.CancelJob(jobID) {
		http.Error(w, "Job is not running", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleMinima handles GET /api/v1/minima?limit=n
func (s *Server) handleMinima(w http.ResponseWriter, r *http.Request) {
	if s.resources.Database == nil {
		http.Error(w, "No database configured", http.StatusNotFound)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	minima, err := s.resources.Database.Minima(limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list minima: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, minima)
}

// handleTransitionStates handles GET /api/v1/transition-states
func (s *Server) handleTransitionStates(w http.ResponseWriter, r *http.Request) {
	if s.resources.Database == nil {
		http.Error(w, "No database configured", http.StatusNotFound)
		return
	}
	states, err := s.resources.Database.TransitionStates()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list transition states: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

// handleCheckpoints handles GET /api/v1/checkpoints
func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	if s.resources.Checkpoints == nil {
		http.Error(w, "No checkpoint store configured", http.StatusNotFound)
		return
	}
	infos, err := s.resources.Checkpoints.ListCheckpoints()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list checkpoints: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
