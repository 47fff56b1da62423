package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mirrorlab/sitemirror/internal/progress"
)

const testRoot = "https://example.com/"

func TestNewEngineValidatesDependencies(t *testing.T) {
	t.Parallel()

	deps := newTestDeps(newFakeFetcher())
	deps.Fetcher = nil
	_, err := NewEngine(Config{}, deps)
	require.ErrorContains(t, err, "fetcher is required")

	deps = newTestDeps(newFakeFetcher())
	deps.Snapshots = nil
	_, err = NewEngine(Config{}, deps)
	require.ErrorContains(t, err, "snapshot writer is required")
}

func TestEngineRunCrawlsBreadthFirst(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.addPage(testRoot, "Home", []string{
		"https://example.com/a",
		"https://example.com/b",
	})
	fetcher.addPage("https://example.com/a", "Page A", []string{
		"https://example.com/c",
	})
	fetcher.addPage("https://example.com/b", "Page B", nil)
	fetcher.addPage("https://example.com/c", "Page C", nil)

	engine, deps := newTestEngine(t, fetcher)
	result, err := engine.Run(context.Background(), Params{
		RootURL:        testRoot,
		MaxDepth:       1,
		SameDomainOnly: true,
		Concurrency:    2,
	})
	require.NoError(t, err)

	require.Len(t, result.Pages, 3, "depth-2 target must not become a node")
	byURL := pagesByURL(result.Pages)
	require.Equal(t, 0, byURL[testRoot].Depth)
	require.Equal(t, 1, byURL["https://example.com/a"].Depth)
	require.Equal(t, 1, byURL["https://example.com/b"].Depth)
	for _, node := range result.Pages {
		require.Equal(t, PageStatusFetched, node.Status)
	}

	// The final-depth page still records its outbound target.
	require.Equal(t, []string{"https://example.com/c"}, byURL["https://example.com/a"].Links)

	require.Equal(t, 3, result.Summary.TotalPages)
	require.Equal(t, 3, result.Summary.PagesFetched)
	require.Equal(t, 0, result.Summary.PagesFailed)
	require.Len(t, result.Records, 3)
	require.Equal(t, testRoot, result.Records[0].URL, "records must be depth ordered")

	require.Equal(t, 1, fetcher.callCount("https://example.com/a"))
	require.Zero(t, fetcher.callCount("https://example.com/c"))
	require.Len(t, deps.snapshots.Summaries(), 1)
}

func TestEngineRunDepthLimitedChain(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.addPage(testRoot, "Home", []string{"https://example.com/a"})
	fetcher.addPage("https://example.com/a", "Page A", []string{
		"https://example.com/b",
	})
	fetcher.addPage("https://example.com/b", "Page B", nil)

	engine, _ := newTestEngine(t, fetcher)
	result, err := engine.Run(context.Background(), Params{
		RootURL:        testRoot,
		MaxDepth:       1,
		SameDomainOnly: true,
		Concurrency:    2,
	})
	require.NoError(t, err)

	require.Len(t, result.Pages, 2)
	byURL := pagesByURL(result.Pages)
	require.Equal(t, 0, byURL[testRoot].Depth)
	require.Equal(t, 1, byURL["https://example.com/a"].Depth)
	require.NotContains(t, byURL, "https://example.com/b")
	require.Zero(t, fetcher.callCount("https://example.com/b"))
}

func TestEngineRunVisitsEachURLOnce(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.addPage(testRoot, "Home", []string{
		"https://example.com/a",
		"https://example.com/a#fragment",
		"https://example.com/a/",
	})
	fetcher.addPage("https://example.com/a", "Page A", []string{testRoot})

	engine, _ := newTestEngine(t, fetcher)
	result, err := engine.Run(context.Background(), Params{
		RootURL:        testRoot,
		MaxDepth:       3,
		SameDomainOnly: true,
		Concurrency:    2,
	})
	require.NoError(t, err)

	require.Len(t, result.Pages, 2)
	require.Equal(t, 1, fetcher.callCount("https://example.com/a"))
	require.Equal(t, 1, fetcher.callCount(testRoot))

	// Equivalent spellings collapse to one recorded link.
	byURL := pagesByURL(result.Pages)
	require.Equal(t, []string{"https://example.com/a"}, byURL[testRoot].Links)
}

func TestEngineRunFetchFailureContinues(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.addPage(testRoot, "Home", []string{
		"https://example.com/bad",
		"https://example.com/good",
	})
	fetcher.failPage("https://example.com/bad", &FetchError{URL: "https://example.com/bad", Status: 404})
	fetcher.addPage("https://example.com/good", "Good", nil)

	engine, deps := newTestEngine(t, fetcher)
	result, err := engine.Run(context.Background(), Params{
		RootURL:        testRoot,
		MaxDepth:       1,
		SameDomainOnly: true,
		Concurrency:    2,
	})
	require.NoError(t, err, "page failures must not abort the run")

	byURL := pagesByURL(result.Pages)
	require.Equal(t, PageStatusFailed, byURL["https://example.com/bad"].Status)
	require.Contains(t, byURL["https://example.com/bad"].Failure, "status 404")
	require.Equal(t, PageStatusFetched, byURL["https://example.com/good"].Status)

	require.Equal(t, 2, result.Summary.PagesFetched)
	require.Equal(t, 1, result.Summary.PagesFailed)
	require.Len(t, result.Records, 2, "failed pages produce no record")

	var pageErrors int
	for _, evt := range deps.emitter.Events() {
		if evt.Stage == progress.StagePageError {
			pageErrors++
		}
	}
	require.Equal(t, 1, pageErrors)
}

func TestEngineRunMaxPagesCapsFrontier(t *testing.T) {
	t.Parallel()

	links := make([]string, 5)
	fetcher := newFakeFetcher()
	for i := range links {
		links[i] = fmt.Sprintf("https://example.com/p%d", i)
		fetcher.addPage(links[i], fmt.Sprintf("P%d", i), nil)
	}
	fetcher.addPage(testRoot, "Home", links)

	engine, _ := newTestEngine(t, fetcher)
	result, err := engine.Run(context.Background(), Params{
		RootURL:        testRoot,
		MaxDepth:       2,
		MaxPages:       3,
		SameDomainOnly: true,
		Concurrency:    2,
	})
	require.NoError(t, err)

	require.Equal(t, 3, result.Summary.TotalPages)
	require.Len(t, result.Pages, 3)
	require.Equal(t, 3, fetcher.totalCalls())
}

func TestEngineRunAssetAccounting(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.addPage(testRoot, "Home", nil)

	resolver := &fakeResolver{refs: map[string][]AssetRef{
		testRoot: {
			{URL: "https://example.com/images/one.png", Kind: AssetKindImage, AltText: "one"},
			{URL: "https://example.com/images/copy-of-one.png", Kind: AssetKindImage},
			{URL: "https://example.com/files/broken.pdf", Kind: AssetKindFile},
		},
	}}
	store := newFakeStore()
	store.addAsset("https://example.com/images/one.png", Asset{Hash: "aaaa", Kind: AssetKindImage, ByteSize: 10})
	store.addAsset("https://example.com/images/copy-of-one.png", Asset{Hash: "aaaa", Kind: AssetKindImage, ByteSize: 10})
	store.failAsset("https://example.com/files/broken.pdf", &DownloadError{
		URL: "https://example.com/files/broken.pdf",
		Err: errors.New("status 500"),
	})

	engine, deps := newTestEngine(t, fetcher, func(d *Dependencies) {
		d.Resolver = resolver
		d.Store = store
	})
	result, err := engine.Run(context.Background(), Params{
		RootURL:     testRoot,
		Concurrency: 1,
	})
	require.NoError(t, err)

	require.Equal(t, 1, result.Summary.AssetsDownloaded)
	require.Equal(t, 1, result.Summary.AssetsDeduplicated)
	require.Equal(t, 1, result.Summary.AssetsSkipped)

	require.Len(t, result.Records, 1)
	require.Equal(t, []string{"aaaa"}, result.Records[0].ImageHashes)
	require.Empty(t, result.Records[0].FileHashes)

	stages := map[progress.Stage]int{}
	for _, evt := range deps.emitter.Events() {
		stages[evt.Stage]++
	}
	require.Equal(t, 1, stages[progress.StageAssetStored])
	require.Equal(t, 1, stages[progress.StageAssetDedup])
	require.Equal(t, 1, stages[progress.StageAssetSkipped])
}

func TestEngineRunHeadlessPromotion(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.addPage(testRoot, "Shell", nil)

	headless := newFakeFetcher()
	headless.addPage(testRoot, "Rendered", nil)
	headless.setVia(FetchViaHeadless)

	engine, _ := newTestEngine(t, fetcher, func(d *Dependencies) {
		d.Headless = headless
		d.Detector = promoteAll{}
	})
	result, err := engine.Run(context.Background(), Params{RootURL: testRoot, Concurrency: 1})
	require.NoError(t, err)

	require.Len(t, result.Pages, 1)
	require.Equal(t, FetchViaHeadless, result.Pages[0].FetchedVia)
	require.Equal(t, "Rendered", result.Pages[0].Title)
	require.Equal(t, 1, headless.callCount(testRoot))
}

func TestEngineRunHeadlessFailureFallsBack(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.addPage(testRoot, "Shell", nil)

	headless := newFakeFetcher()
	headless.failPage(testRoot, errors.New("browser crashed"))

	engine, _ := newTestEngine(t, fetcher, func(d *Dependencies) {
		d.Headless = headless
		d.Detector = promoteAll{}
	})
	result, err := engine.Run(context.Background(), Params{RootURL: testRoot, Concurrency: 1})
	require.NoError(t, err)

	require.Len(t, result.Pages, 1)
	require.Equal(t, PageStatusFetched, result.Pages[0].Status)
	require.Equal(t, "Shell", result.Pages[0].Title)
	require.Equal(t, FetchViaStatic, result.Pages[0].FetchedVia)
}

func TestEngineRunCancellation(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.addPage(testRoot, "Home", nil)

	engine, _ := newTestEngine(t, fetcher)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := engine.Run(ctx, Params{RootURL: testRoot, Concurrency: 1})
	require.ErrorIs(t, err, ErrCanceled)
	require.Len(t, result.Pages, 1)
	require.Equal(t, PageStatusPending, result.Pages[0].Status)
	require.Zero(t, result.Summary.PagesFetched)
}

func TestEngineRunEmitsLifecycleEvents(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.addPage(testRoot, "Home", []string{"https://example.com/a"})
	fetcher.addPage("https://example.com/a", "A", nil)

	engine, deps := newTestEngine(t, fetcher)
	_, err := engine.Run(context.Background(), Params{
		RootURL:        testRoot,
		MaxDepth:       1,
		SameDomainOnly: true,
		Concurrency:    1,
	})
	require.NoError(t, err)

	events := deps.emitter.Events()
	require.NotEmpty(t, events)
	require.Equal(t, progress.StageRunStart, events[0].Stage)
	require.Equal(t, progress.StageRunDone, events[len(events)-1].Stage)

	stages := map[progress.Stage]int{}
	for _, evt := range events {
		require.NotEmpty(t, evt.RunID)
		require.Equal(t, "example.com", evt.Site)
		stages[evt.Stage]++
	}
	require.Equal(t, 2, stages[progress.StagePageStart])
	require.Equal(t, 2, stages[progress.StagePageDone])
	require.Equal(t, 2, stages[progress.StageEnrichDone])
}

func TestEngineRunPersistsCleanedMarkdown(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.addPage(testRoot, "Home", nil)

	engine, deps := newTestEngine(t, fetcher)
	result, err := engine.Run(context.Background(), Params{RootURL: testRoot, Concurrency: 1})
	require.NoError(t, err)

	written := deps.snapshots.Page(testRoot)
	require.NotNil(t, written)
	require.Equal(t, "cleaned: md "+testRoot, written.cleaned)
	require.Equal(t, "Home", written.record.Title, "record title comes from the fetched page")
	require.Equal(t, result.Records[0], written.record)
}

// --- fakes ---

type testDeps struct {
	emitter   *captureEmitter
	snapshots *fakeSnapshots
}

func newTestDeps(fetcher *fakeFetcher) Dependencies {
	return Dependencies{
		Fetcher:   fetcher,
		Resolver:  &fakeResolver{},
		Store:     newFakeStore(),
		Cleaner:   fakeCleaner{},
		Enricher:  fakeEnricher{},
		Snapshots: newFakeSnapshots(),
		Clock:     frozenClock{at: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		IDs:       fakeIDs{},
	}
}

func newTestEngine(t *testing.T, fetcher *fakeFetcher, mutate ...func(*Dependencies)) (*Engine, testDeps) {
	t.Helper()
	deps := newTestDeps(fetcher)
	emitter := &captureEmitter{}
	deps.Emitter = emitter
	for _, fn := range mutate {
		fn(&deps)
	}
	engine, err := NewEngine(Config{AssetConcurrency: 2}, deps)
	if err != nil {
		t.Fatalf("NewEngine error = %v", err)
	}
	return engine, testDeps{
		emitter:   emitter,
		snapshots: deps.Snapshots.(*fakeSnapshots),
	}
}

func pagesByURL(pages []PageNode) map[string]PageNode {
	out := make(map[string]PageNode, len(pages))
	for _, p := range pages {
		out[p.URL] = p
	}
	return out
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]FetchResponse
	errs  map[string]error
	calls map[string]int
	via   FetchVia
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages: make(map[string]FetchResponse),
		errs:  make(map[string]error),
		calls: make(map[string]int),
		via:   FetchViaStatic,
	}
}

func (f *fakeFetcher) setVia(via FetchVia) {
	f.via = via
}

func (f *fakeFetcher) addPage(url, title string, links []string) {
	f.pages[url] = FetchResponse{
		URL:         url,
		StatusCode:  200,
		HTML:        "<html><body>" + title + "</body></html>",
		Markdown:    "md " + url,
		Title:       title,
		Links:       links,
		ContentHTML: "<div>" + title + "</div>",
		Duration:    5 * time.Millisecond,
	}
}

func (f *fakeFetcher) failPage(url string, err error) {
	f.errs[url] = err
}

func (f *fakeFetcher) Fetch(_ context.Context, request FetchRequest) (FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[request.URL]++
	if err, ok := f.errs[request.URL]; ok {
		return FetchResponse{}, err
	}
	resp, ok := f.pages[request.URL]
	if !ok {
		return FetchResponse{}, &FetchError{URL: request.URL, Status: 404}
	}
	resp.Via = f.via
	return resp, nil
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

type fakeResolver struct {
	refs map[string][]AssetRef
}

func (r *fakeResolver) Discover(_ string, baseURL string) ([]AssetRef, error) {
	if r.refs == nil {
		return nil, nil
	}
	return r.refs[baseURL], nil
}

type fakeStore struct {
	mu     sync.Mutex
	assets map[string]Asset
	errs   map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		assets: make(map[string]Asset),
		errs:   make(map[string]error),
	}
}

func (s *fakeStore) addAsset(url string, asset Asset) {
	asset.SourceURL = url
	s.assets[url] = asset
}

func (s *fakeStore) failAsset(url string, err error) {
	s.errs[url] = err
}

func (s *fakeStore) Ensure(_ context.Context, ref AssetRef) (Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.errs[ref.URL]; ok {
		return Asset{}, err
	}
	asset, ok := s.assets[ref.URL]
	if !ok {
		return Asset{}, &DownloadError{URL: ref.URL, Err: errors.New("unknown url")}
	}
	return asset, nil
}

func (s *fakeStore) Lookup(hash string) (Asset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, asset := range s.assets {
		if asset.Hash == hash {
			return asset, true
		}
	}
	return Asset{}, false
}

func (s *fakeStore) SetAltText(string, string, AltTextOrigin) error {
	return nil
}

type fakeCleaner struct{}

func (fakeCleaner) Clean(raw string) string {
	return "cleaned: " + raw
}

type fakeEnricher struct{}

func (fakeEnricher) Enrich(_ context.Context, pageURL string, cleanedMarkdown string, _ string) (PageRecord, error) {
	return PageRecord{
		CrawledAt:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		URL:             pageURL,
		ContentHash:     fmt.Sprintf("%08x", len(cleanedMarkdown)),
		Language:        "en",
		EstimatedTokens: 42,
	}, nil
}

type writtenPage struct {
	node    PageNode
	cleaned string
	record  PageRecord
}

type fakeSnapshots struct {
	mu        sync.Mutex
	pages     map[string]writtenPage
	summaries []RunSummary
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{pages: make(map[string]writtenPage)}
}

func (s *fakeSnapshots) WritePage(node PageNode, cleanedMarkdown string, record PageRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[node.URL] = writtenPage{node: node, cleaned: cleanedMarkdown, record: record}
	return "pages/" + HostLabel(node.URL), nil
}

func (s *fakeSnapshots) WriteSummary(summary RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, summary)
	return nil
}

func (s *fakeSnapshots) Page(url string) *writtenPage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if page, ok := s.pages[url]; ok {
		return &page
	}
	return nil
}

func (s *fakeSnapshots) Summaries() []RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RunSummary(nil), s.summaries...)
}

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *captureEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) Events() []progress.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]progress.Event(nil), c.events...)
}

type frozenClock struct {
	at time.Time
}

func (c frozenClock) Now() time.Time {
	return c.at
}

type fakeIDs struct{}

func (fakeIDs) NewID() (string, error) {
	return "0198c2f3-7b5a-7c4e-9d20-5b7f2a1c9e01", nil
}

type promoteAll struct{}

func (promoteAll) ShouldPromote(FetchResponse) bool {
	return true
}
