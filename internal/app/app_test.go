package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mirrorlab/sitemirror/internal/config"
	"github.com/mirrorlab/sitemirror/internal/crawler"
	"github.com/mirrorlab/sitemirror/internal/database"
	memorypublisher "github.com/mirrorlab/sitemirror/internal/publisher/memory"
	queueMemory "github.com/mirrorlab/sitemirror/internal/queue/memory"
	"github.com/mirrorlab/sitemirror/internal/snapshot"
	memoryStorage "github.com/mirrorlab/sitemirror/internal/storage/memory"
)

func minimalConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Crawler: config.CrawlerConfig{
			MaxDepth:       1,
			MaxPages:       10,
			Concurrency:    2,
			SameDomainOnly: true,
			UserAgent:      "sitemirror-test/1.0",
		},
		Assets:   config.AssetsConfig{MaxBytes: 1 << 20, TimeoutSeconds: 5, Concurrency: 2},
		Output:   config.OutputConfig{Dir: t.TempDir()},
		Enrich:   config.EnrichConfig{DefaultLanguage: "en"},
		Headless: config.HeadlessConfig{Enabled: false, PromotionThreshold: 200},
		Server:   config.ServerConfig{Port: 0},
		Queue:    config.QueueConfig{Backend: "memory", Depth: 4, Workers: 1},
		Mirror:   config.MirrorConfig{Backend: "none"},
	}
}

// Progress stays enabled in exactly one test because the prometheus sink
// registers its collectors against the default registerer, which rejects
// a second registration within the same test binary.
func TestBuild_MinimalConfig(t *testing.T) {
	cfg := minimalConfig(t)
	cfg.Progress = config.ProgressConfig{
		Enabled:       true,
		BufferSize:    16,
		Batch:         config.ProgressBatchConfig{MaxEvents: 16, MaxWaitMS: 10},
		SinkTimeoutMS: 1000,
	}

	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)

	require.Nil(t, a.blobStore, "mirroring should be off without a backend")
	require.IsType(t, &database.NoOpProvider{}, a.index)
	require.IsType(t, &memorypublisher.Publisher{}, a.publisher, "no pubsub project falls back to the in-process publisher")
	require.Nil(t, a.progressRepo, "no database means no progress repo")
	require.NotNil(t, a.progressHub)

	require.NotNil(t, a.pipeline.fetcher)
	require.NotNil(t, a.pipeline.headless)
	require.NotNil(t, a.pipeline.detector)
	require.NotNil(t, a.pipeline.resolver)
	require.NotNil(t, a.pipeline.cleaner)
	require.NotNil(t, a.pipeline.enricher)
	require.NotNil(t, a.pipeline.policy)
	require.NotNil(t, a.pipeline.ids)

	require.NoError(t, a.Close(context.Background()))
}

func TestBuild_LocalMirror(t *testing.T) {
	cfg := minimalConfig(t)
	cfg.Mirror = config.MirrorConfig{Backend: "local", LocalDir: t.TempDir(), Prefix: "mirrors"}

	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close(context.Background())) }()

	require.NotNil(t, a.blobStore)
	require.Equal(t, "mirrors", a.workerConfig().BlobPrefix)
}

func TestBuild_MemoryMirror(t *testing.T) {
	cfg := minimalConfig(t)
	cfg.Mirror = config.MirrorConfig{Backend: "memory"}

	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close(context.Background())) }()

	require.IsType(t, &memoryStorage.BlobStore{}, a.blobStore)
}

func TestRunOnce_CrawlsSite(t *testing.T) {
	server := newSiteServer(t)
	cfg := minimalConfig(t)

	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close(context.Background())) }()

	job, result, err := a.RunOnce(context.Background(), crawler.Params{
		RootURL:        server.URL,
		MaxDepth:       1,
		MaxPages:       10,
		Concurrency:    2,
		SameDomainOnly: true,
	})
	require.NoError(t, err)

	require.Equal(t, crawler.JobStatusSucceeded, job.Status)
	require.Equal(t, 2, job.Counters.PagesFetched)
	require.Zero(t, job.Counters.PagesFailed)
	require.Equal(t, job.ID, result.RunID, "one-shot runs reuse the job id as run id")
	require.Equal(t, 2, result.Summary.TotalPages)
	require.Len(t, result.Records, 2)

	base := filepath.Join(cfg.Output.Dir, snapshot.SiteLabel(server.URL))
	require.FileExists(t, filepath.Join(base, "crawl_summary.json"))
	require.DirExists(t, filepath.Join(base, "pages"))
}

func TestRunOnce_UnreachableSite(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	rootURL := server.URL
	server.Close()

	cfg := minimalConfig(t)
	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close(context.Background())) }()

	job, _, err := a.RunOnce(context.Background(), crawler.Params{
		RootURL:     rootURL,
		MaxDepth:    1,
		MaxPages:    5,
		Concurrency: 1,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no pages were fetched")
	require.Equal(t, crawler.JobStatusFailed, job.Status)
}

func TestBuildQueue_Backends(t *testing.T) {
	cfg := minimalConfig(t)
	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close(context.Background())) }()

	q, closeQueue, err := a.buildQueue(context.Background())
	require.NoError(t, err)
	require.IsType(t, &queueMemory.Queue{}, q)
	closeQueue()

	a.cfg.Queue.Backend = "pubsub"
	_, _, err = a.buildQueue(context.Background())
	require.Error(t, err, "pubsub backend without a project id must not come up")
}

func TestCollectRunAssets_DedupesInOrder(t *testing.T) {
	store := &stubAssetStore{assets: map[string]crawler.Asset{
		"h1": {Hash: "h1", Filename: "a.png"},
		"h2": {Hash: "h2", Filename: "b.png"},
		"h3": {Hash: "h3", Filename: "c.pdf"},
		"h4": {Hash: "h4", Filename: "d.zip"},
	}}
	records := []crawler.PageRecord{
		{ImageHashes: []string{"h1", "h2"}, FileHashes: []string{"h3"}},
		{ImageHashes: []string{"h2"}, FileHashes: []string{"h4", "missing"}},
	}

	assets := collectRunAssets(store, records)

	require.Len(t, assets, 4)
	for i, want := range []string{"h1", "h2", "h3", "h4"} {
		require.Equal(t, want, assets[i].Hash)
	}
}

// --- helpers/fakes ---

const (
	siteRootPage = `<html><head><title>Home</title></head><body>
<h1>Welcome</h1>
<p>Everything you need to operate the service in production.</p>
<a href="/about">About</a>
</body></html>`
	siteAboutPage = `<html><head><title>About</title></head><body>
<h1>About</h1>
<p>A short history of the team and the project behind it.</p>
<a href="/">Home</a>
</body></html>`
)

func newSiteServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(siteRootPage))
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(siteAboutPage))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

type stubAssetStore struct {
	assets map[string]crawler.Asset
}

func (s *stubAssetStore) Ensure(_ context.Context, _ crawler.AssetRef) (crawler.Asset, error) {
	return crawler.Asset{}, nil
}

func (s *stubAssetStore) Lookup(hash string) (crawler.Asset, bool) {
	asset, ok := s.assets[hash]
	return asset, ok
}

func (s *stubAssetStore) SetAltText(string, string, crawler.AltTextOrigin) error {
	return nil
}
