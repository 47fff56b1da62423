package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mirrorlab/sitemirror/internal/store"
)

func TestProgressHandlerListRuns(t *testing.T) {
	t.Parallel()

	repo := &mockProgressRepo{
		runs: []store.JobRun{
			{
				RunID:     uuid.New(),
				Status:    store.RunSuccess,
				StartedAt: time.Now().Add(-time.Hour),
			},
		},
	}
	handler := NewProgressHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs?status=success&limit=10", nil)
	rec := httptest.NewRecorder()

	handler.ListRuns(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "runs")
}

func TestProgressHandlerListRunsInvalidStatus(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(&mockProgressRepo{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs?status=exploded", nil)
	rec := httptest.NewRecorder()

	handler.ListRuns(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressHandlerGetRunNotFound(t *testing.T) {
	t.Parallel()

	repo := &mockProgressRepo{err: store.ErrNotFound}
	handler := NewProgressHandler(repo, zap.NewNop())

	runID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String(), nil)
	req = withRunIDParam(req, runID.String())
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProgressHandlerGetRunMalformedID(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(&mockProgressRepo{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/not-a-uuid", nil)
	req = withRunIDParam(req, "not-a-uuid")
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressHandlerListRunSitesInvalidLimit(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(&mockProgressRepo{}, zap.NewNop())
	runID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String()+"/sites?limit=-1", nil)
	req = withRunIDParam(req, runID.String())
	rec := httptest.NewRecorder()

	handler.ListRunSites(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressHandlerNilRepo(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	rec := httptest.NewRecorder()

	handler.ListRuns(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type mockProgressRepo struct {
	runs  []store.JobRun
	sites []store.SiteStats
	err   error
}

func (m *mockProgressRepo) UpsertRunStart(context.Context, uuid.UUID, time.Time) error {
	return m.err
}

func (m *mockProgressRepo) CompleteRun(context.Context, uuid.UUID, time.Time, store.RunStatus, *string) error {
	return m.err
}

func (m *mockProgressRepo) UpsertSiteStats(context.Context, uuid.UUID, string, int64, int64, string, time.Time) error {
	return m.err
}

func (m *mockProgressRepo) UpsertAssetStats(context.Context, uuid.UUID, string, int64, int64, time.Time) error {
	return m.err
}

func (m *mockProgressRepo) GetRun(context.Context, uuid.UUID) (store.JobRun, error) {
	if len(m.runs) > 0 {
		return m.runs[0], nil
	}
	return store.JobRun{}, m.err
}

func (m *mockProgressRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.JobRun, error) {
	return m.runs, m.err
}

func (m *mockProgressRepo) ListRunSites(context.Context, uuid.UUID, int, int) ([]store.SiteStats, error) {
	return m.sites, m.err
}

func withRunIDParam(r *http.Request, runID string) *http.Request {
	ctx := chi.NewRouteContext()
	ctx.URLParams.Add("run_id", runID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, ctx))
}
