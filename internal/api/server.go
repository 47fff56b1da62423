package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mirrorlab/sitemirror/internal/config"
	"github.com/mirrorlab/sitemirror/internal/crawler"
	"github.com/mirrorlab/sitemirror/internal/dispatcher"
	"github.com/mirrorlab/sitemirror/internal/metrics"
	"github.com/mirrorlab/sitemirror/internal/middleware"
	"github.com/mirrorlab/sitemirror/internal/store"
)

const (
	requestTimeout = 60 * time.Second
	enqueueTimeout = 5 * time.Second
)

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router     chi.Router
	jobStore   crawler.JobStore
	dispatcher *dispatcher.Dispatcher
	idGen      crawler.IDGenerator
	clock      crawler.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes. A nil
// progressRepo leaves the run progress endpoints mounted but answering
// 503.
func NewServer(
	jobStore crawler.JobStore,
	disp *dispatcher.Dispatcher,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	progressRepo store.ProgressRepository,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobStore:   jobStore,
		dispatcher: disp,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	progress := NewProgressHandler(progressRepo, logger)

	r.Route("/v1", func(r chi.Router) {
		if cfg.Server.APIKey != "" {
			r.Use(middleware.APIKey(cfg.Server.APIKey))
		}
		r.Route("/crawls", func(r chi.Router) {
			r.Post("/", s.submitCrawl)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/status", s.getJobStatus)
				r.Get("/result", s.getJobResult)
				r.Post("/cancel", s.cancelJob)
			})
		})
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", progress.ListRuns)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", progress.GetRun)
				r.Get("/sites", progress.ListRunSites)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// The queue and stores are wired in-process; readiness matches
	// liveness until an external backend grows a health probe.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequest struct {
	RootURL        string            `json:"root_url"`
	MaxDepth       *int              `json:"max_depth"`
	MaxPages       *int              `json:"max_pages"`
	Concurrency    *int              `json:"concurrency"`
	SameDomainOnly *bool             `json:"same_domain_only"`
	WaitSeconds    *float64          `json:"wait_seconds"`
	Tags           map[string]string `json:"tags"`
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := s.toParams(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, err := s.enqueueJob(r.Context(), params)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	result, err := s.jobStore.GetResult(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "result not available")
		return
	}
	writeJSON(w, http.StatusOK, crawler.JobResult{
		Job:     job,
		Summary: result.Summary,
		Records: result.Records,
	})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	switch job.Status {
	case crawler.JobStatusSucceeded, crawler.JobStatusFailed, crawler.JobStatusCanceled:
		writeError(w, http.StatusConflict, "job already finished")
	case crawler.JobStatusRunning:
		if !s.dispatcher.Cancel(jobID) {
			// The worker finished between the lookup and the cancel.
			writeError(w, http.StatusConflict, "job already finished")
			return
		}
		// The worker records the terminal canceled status once the run
		// unwinds.
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "canceling"})
	default:
		if err := s.jobStore.UpdateJobStatus(
			r.Context(),
			jobID,
			crawler.JobStatusCanceled,
			"canceled before start",
			crawler.JobCounters{},
		); err != nil {
			writeError(w, http.StatusInternalServerError, "cancel failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(crawler.JobStatusCanceled)})
	}
}

func (s *Server) enqueueJob(ctx context.Context, params crawler.Params) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := crawler.Job{
		ID:        jobID,
		Status:    crawler.JobStatusQueued,
		Submitted: now,
		Params:    params,
		Counters:  crawler.JobCounters{},
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := crawler.QueueItem{
		JobID:     jobID,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		// The job row exists but nothing will ever run it; fail it so
		// status polling terminates.
		if uerr := s.jobStore.UpdateJobStatus(
			ctx, jobID, crawler.JobStatusFailed, "enqueue failed: "+err.Error(), crawler.JobCounters{},
		); uerr != nil {
			s.logger.Error("mark unenqueued job failed", zap.String("job_id", jobID), zap.Error(uerr))
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

func (s *Server) toParams(req crawlRequest) (crawler.Params, error) {
	if req.RootURL == "" {
		return crawler.Params{}, errors.New("root_url required")
	}
	if _, err := crawler.ValidateRootURL(req.RootURL); err != nil {
		return crawler.Params{}, err
	}

	params := crawler.Params{
		RootURL:        req.RootURL,
		MaxDepth:       valueOrDefault(req.MaxDepth, s.cfg.Crawler.MaxDepth),
		MaxPages:       valueOrDefault(req.MaxPages, s.cfg.Crawler.MaxPages),
		Concurrency:    valueOrDefault(req.Concurrency, s.cfg.Crawler.Concurrency),
		SameDomainOnly: valueOrDefault(req.SameDomainOnly, s.cfg.Crawler.SameDomainOnly),
		WaitSeconds:    valueOrDefault(req.WaitSeconds, s.cfg.Crawler.WaitSeconds),
		Tags:           req.Tags,
	}

	switch {
	case params.MaxDepth < 0:
		return crawler.Params{}, errors.New("max_depth must be >= 0")
	case params.MaxPages <= 0:
		return crawler.Params{}, errors.New("max_pages must be > 0")
	case params.Concurrency <= 0:
		return crawler.Params{}, errors.New("concurrency must be > 0")
	case params.WaitSeconds < 0:
		return crawler.Params{}, errors.New("wait_seconds must be >= 0")
	}
	return params, nil
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encode failures here mean the client went away mid-response.
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
