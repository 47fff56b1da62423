package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mirrorlab/sitemirror/internal/config"
	"github.com/mirrorlab/sitemirror/internal/crawler"
	"github.com/mirrorlab/sitemirror/internal/dispatcher"
	"github.com/mirrorlab/sitemirror/internal/metrics"
	queueMemory "github.com/mirrorlab/sitemirror/internal/queue/memory"
	"github.com/mirrorlab/sitemirror/internal/worker"
)

func TestServer_SubmitCrawl_Succeeds(t *testing.T) {
	t.Parallel()
	metrics.Init()

	jobStore := newAPIFakeJobStore()
	q := queueMemory.NewQueue(10)
	dispatch := dispatcher.New(q, nil, nil)
	server := NewServer(
		jobStore,
		dispatch,
		&fakeIDGen{ids: []string{"job-crawl"}},
		&fakeClock{now: time.Unix(100, 0)},
		nil,
		testConfig(),
		zap.NewNop(),
	)

	reqBody := []byte(`{"root_url":"https://example.com","tags":{"team":"mirror"}}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/crawls", bytes.NewReader(reqBody))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "job-crawl")

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "job-crawl", item.JobID)
	require.Equal(t, "https://example.com", item.Params.RootURL)
	// Defaults fill in what the request left out.
	require.Equal(t, 2, item.Params.MaxDepth)
	require.Equal(t, 10, item.Params.MaxPages)
	require.Equal(t, "mirror", item.Params.Tags["team"])

	job, err := jobStore.GetJob(context.Background(), "job-crawl")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusQueued, job.Status)
}

func TestServer_SubmitCrawl_InvalidJSON(t *testing.T) {
	t.Parallel()

	server := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/v1/crawls", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SubmitCrawl_MissingRootURL(t *testing.T) {
	t.Parallel()

	server := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/v1/crawls", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "root_url required")
}

func TestServer_SubmitCrawl_RejectsBadParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "NonHTTPScheme",
			body: `{"root_url":"ftp://example.com/files"}`,
			want: "http or https",
		},
		{
			name: "ZeroMaxPages",
			body: `{"root_url":"https://example.com","max_pages":0}`,
			want: "max_pages",
		},
		{
			name: "NegativeDepth",
			body: `{"root_url":"https://example.com","max_depth":-1}`,
			want: "max_depth",
		},
		{
			name: "NegativeWait",
			body: `{"root_url":"https://example.com","wait_seconds":-2}`,
			want: "wait_seconds",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			server := newTestServer()
			req := httptest.NewRequest(http.MethodPost, "/v1/crawls", bytes.NewBufferString(tc.body))
			rec := httptest.NewRecorder()

			server.Handler().ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tc.want)
		})
	}
}

func TestServer_GetJobStatus_ReturnsJob(t *testing.T) {
	t.Parallel()

	jobStore := newAPIFakeJobStore()
	jobStore.jobs["job-status"] = crawler.Job{ID: "job-status", Status: crawler.JobStatusSucceeded}
	server := newTestServerWithStore(jobStore)

	req := httptest.NewRequest(http.MethodGet, "/v1/crawls/job-status/status", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "succeeded")
}

func TestServer_GetJobStatus_NotFound(t *testing.T) {
	t.Parallel()

	server := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/v1/crawls/missing/status", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetJobResult_ReturnsRecords(t *testing.T) {
	t.Parallel()

	jobStore := newAPIFakeJobStore()
	jobStore.jobs["job-result"] = crawler.Job{ID: "job-result", Status: crawler.JobStatusSucceeded}
	jobStore.results["job-result"] = crawler.Result{
		RunID:   "job-result",
		Summary: crawler.RunSummary{StartURL: "https://example.com", PagesFetched: 1},
		Records: []crawler.PageRecord{{URL: "https://example.com"}},
	}
	server := newTestServerWithStore(jobStore)

	req := httptest.NewRequest(http.MethodGet, "/v1/crawls/job-result/result", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "example.com")
}

func TestServer_GetJobResult_NotReady(t *testing.T) {
	t.Parallel()

	jobStore := newAPIFakeJobStore()
	jobStore.jobs["job-pending"] = crawler.Job{ID: "job-pending", Status: crawler.JobStatusRunning}
	server := newTestServerWithStore(jobStore)

	req := httptest.NewRequest(http.MethodGet, "/v1/crawls/job-pending/result", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "result not available")
}

func TestServer_CancelJob_QueuedMarksCanceled(t *testing.T) {
	t.Parallel()

	jobStore := newAPIFakeJobStore()
	jobStore.jobs["job-cancel"] = crawler.Job{ID: "job-cancel", Status: crawler.JobStatusQueued}
	server := newTestServerWithStore(jobStore)

	req := httptest.NewRequest(http.MethodPost, "/v1/crawls/job-cancel/cancel", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, crawler.JobStatusCanceled, jobStore.lastStatus("job-cancel"))
}

func TestServer_CancelJob_RunningUsesRegistry(t *testing.T) {
	t.Parallel()
	metrics.Init()

	jobStore := newAPIFakeJobStore()
	jobStore.jobs["job-running"] = crawler.Job{ID: "job-running", Status: crawler.JobStatusRunning}

	cancels := worker.NewCancels()
	runCtx, cancel := context.WithCancel(context.Background())
	cancels.Add("job-running", cancel)

	q := queueMemory.NewQueue(1)
	dispatch := dispatcher.New(q, nil, cancels)
	server := NewServer(
		jobStore,
		dispatch,
		&fakeIDGen{},
		&fakeClock{now: time.Unix(100, 0)},
		nil,
		testConfig(),
		zap.NewNop(),
	)

	req := httptest.NewRequest(http.MethodPost, "/v1/crawls/job-running/cancel", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "canceling")
	select {
	case <-runCtx.Done():
	default:
		t.Fatal("cancel endpoint did not stop the running job")
	}
}

func TestServer_CancelJob_AlreadyFinished(t *testing.T) {
	t.Parallel()

	jobStore := newAPIFakeJobStore()
	jobStore.jobs["job-done"] = crawler.Job{ID: "job-done", Status: crawler.JobStatusSucceeded}
	server := newTestServerWithStore(jobStore)

	req := httptest.NewRequest(http.MethodPost, "/v1/crawls/job-done/cancel", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_APIKeyProtectsV1Only(t *testing.T) {
	t.Parallel()
	metrics.Init()

	jobStore := newAPIFakeJobStore()
	q := queueMemory.NewQueue(1)
	dispatch := dispatcher.New(q, nil, nil)
	cfg := testConfig()
	cfg.Server.APIKey = "secret"
	server := NewServer(
		jobStore,
		dispatch,
		&fakeIDGen{},
		&fakeClock{now: time.Unix(100, 0)},
		nil,
		cfg,
		zap.NewNop(),
	)

	// Probes stay open for the scheduler.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/crawls/job/status", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/crawls/job/status", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RequestIDHeaderSet(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	newTestServer().Handler().ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_MetricsEndpointServes(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	newTestServer().Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

// --- helpers/fakes ---

func testConfig() config.Config {
	return config.Config{
		Crawler: config.CrawlerConfig{
			MaxDepth:       2,
			MaxPages:       10,
			Concurrency:    2,
			SameDomainOnly: true,
			WaitSeconds:    0,
		},
		Server: config.ServerConfig{Port: 8080},
	}
}

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return "id-default", nil
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type apiJobStore struct {
	mu      sync.Mutex
	jobs    map[string]crawler.Job
	results map[string]crawler.Result
}

func newAPIFakeJobStore() *apiJobStore {
	return &apiJobStore{
		jobs:    make(map[string]crawler.Job),
		results: make(map[string]crawler.Result),
	}
}

func (s *apiJobStore) CreateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *apiJobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[jobID]
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	s.jobs[jobID] = job
	return nil
}

func (s *apiJobStore) SaveResult(_ context.Context, jobID string, result crawler.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[jobID] = result
	return nil
}

func (s *apiJobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, errors.New("not found")
	}
	return job, nil
}

func (s *apiJobStore) GetResult(_ context.Context, jobID string) (crawler.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.results[jobID]
	if !ok {
		return crawler.Result{}, errors.New("result not found")
	}
	return result, nil
}

func (s *apiJobStore) lastStatus(jobID string) crawler.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[jobID].Status
}

func newTestServer() *Server {
	return newTestServerWithStore(newAPIFakeJobStore())
}

func newTestServerWithStore(jobStore crawler.JobStore) *Server {
	metrics.Init()
	q := queueMemory.NewQueue(10)
	dispatch := dispatcher.New(q, nil, nil)
	return NewServer(
		jobStore,
		dispatch,
		&fakeIDGen{},
		&fakeClock{now: time.Unix(100, 0)},
		nil,
		testConfig(),
		zap.NewNop(),
	)
}
