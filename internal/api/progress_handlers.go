package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mirrorlab/sitemirror/internal/store"
)

// Pagination bounds and the per-query deadline for the progress endpoints.
const (
	defaultRunLimit   = 50
	maxRunLimit       = 500
	defaultSitesLimit = 100
	maxSitesLimit     = 1000
	progressTimeout   = 3 * time.Second
)

// runStatusAliases maps the spellings accepted by the status filter onto
// stored run statuses.
var runStatusAliases = map[string]store.RunStatus{
	"running":   store.RunRunning,
	"success":   store.RunSuccess,
	"succeeded": store.RunSuccess,
	"error":     store.RunError,
	"failed":    store.RunError,
	"failure":   store.RunError,
}

// runDTO is the wire form of a stored run row.
type runDTO struct {
	RunID      string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Error      *string    `json:"error,omitempty"`
}

func newRunDTO(run store.JobRun) runDTO {
	return runDTO{
		RunID:      run.RunID.String(),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Error:      run.ErrorMessage,
	}
}

// siteDTO aggregates one site's counters within a run.
type siteDTO struct {
	Site               string    `json:"site"`
	LastUpdate         time.Time `json:"last_update"`
	Visits             int64     `json:"visits"`
	BytesTotal         int64     `json:"bytes_total"`
	Pages2xx           int64     `json:"pages_2xx"`
	Pages3xx           int64     `json:"pages_3xx"`
	Pages4xx           int64     `json:"pages_4xx"`
	Pages5xx           int64     `json:"pages_5xx"`
	AssetsStored       int64     `json:"assets_stored"`
	AssetsDeduplicated int64     `json:"assets_deduplicated"`
}

func newSiteDTO(s store.SiteStats) siteDTO {
	return siteDTO{
		Site:               s.Site,
		LastUpdate:         s.LastUpdate,
		Visits:             s.Visits,
		BytesTotal:         s.BytesTotal,
		Pages2xx:           s.Pages2xx,
		Pages3xx:           s.Pages3xx,
		Pages4xx:           s.Pages4xx,
		Pages5xx:           s.Pages5xx,
		AssetsStored:       s.AssetsStored,
		AssetsDeduplicated: s.AssetsDeduplicated,
	}
}

// ProgressHandler serves the read-only run progress endpoints backed by the
// progress repository. With no repository configured every endpoint answers
// 503, so deployments without a database still route cleanly.
type ProgressHandler struct {
	repo    store.ProgressRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the repository and logger.
func NewProgressHandler(repo store.ProgressRepository, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		repo:    repo,
		timeout: progressTimeout,
		logger:  logger,
	}
}

// ready answers the 503 on behalf of handlers that cannot serve without a
// repository.
func (h *ProgressHandler) ready(w http.ResponseWriter) bool {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return false
	}
	return true
}

// ListRuns serves GET /v1/runs. The optional status, limit, and offset
// query parameters filter and page the listing.
func (h *ProgressHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	limit, offset, err := pageParams(r.URL.Query(), defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := statusFilter(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	runs, err := h.repo.ListRuns(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("progress run listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	out := make([]runDTO, 0, len(runs))
	for _, run := range runs {
		out = append(out, newRunDTO(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

// GetRun serves GET /v1/runs/{run_id}. Unknown runs answer 404, malformed
// ids 400.
func (h *ProgressHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	runID, err := runIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	run, err := h.repo.GetRun(ctx, runID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case err != nil:
		h.logger.Error("progress run lookup failed", zap.String("run_id", runID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"run": newRunDTO(run)})
	}
}

// ListRunSites serves GET /v1/runs/{run_id}/sites with limit and offset
// paging.
func (h *ProgressHandler) ListRunSites(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	runID, err := runIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := pageParams(r.URL.Query(), defaultSitesLimit, maxSitesLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	sites, err := h.repo.ListRunSites(ctx, runID, limit, offset)
	if err != nil {
		h.logger.Error("progress site listing failed", zap.String("run_id", runID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list run sites")
		return
	}

	out := make([]siteDTO, 0, len(sites))
	for _, s := range sites {
		out = append(out, newSiteDTO(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": out})
}

// runIDParam extracts and validates the run id path parameter.
func runIDParam(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return uuid.Nil, errors.New("run_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.New("invalid run_id")
	}
	return id, nil
}

// statusFilter resolves the optional status query parameter. An empty value
// means no filtering.
func statusFilter(raw string) (*store.RunStatus, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return nil, nil
	}
	status, ok := runStatusAliases[raw]
	if !ok {
		return nil, errors.New("invalid status")
	}
	return &status, nil
}

// pageParams reads limit and offset, applying the default and clamping the
// limit to ceiling.
func pageParams(q url.Values, def, ceiling int) (int, int, error) {
	limit, err := intParam(q, "limit", def)
	if err != nil || limit <= 0 {
		return 0, 0, errors.New("invalid limit")
	}
	if limit > ceiling {
		limit = ceiling
	}
	offset, err := intParam(q, "offset", 0)
	if err != nil || offset < 0 {
		return 0, 0, errors.New("invalid offset")
	}
	return limit, offset, nil
}

func intParam(q url.Values, name string, def int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
