package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mirrorlab/sitemirror/internal/progress"
)

// Config controls process-level engine behavior that does not vary per run.
type Config struct {
	// AssetConcurrency bounds simultaneous asset downloads across all pages.
	AssetConcurrency int
	// BlockedDomains lists hosts never entered into the frontier. Entries
	// may be exact hosts or suffix wildcards ("*.example.com").
	BlockedDomains []string
}

// Dependencies collects the collaborators a crawl run needs. Fetcher,
// Resolver, Store, Cleaner, Enricher, Snapshots, Clock, and IDs are
// required. Headless and Detector enable the render-promotion path when
// both are present; Policy, Retry, Emitter, and Logger degrade to no-ops
// when absent.
type Dependencies struct {
	Fetcher   Fetcher
	Headless  Fetcher
	Detector  HeadlessDetector
	Resolver  AssetResolver
	Store     AssetStore
	Cleaner   Cleaner
	Enricher  Enricher
	AltFiller AltTextFiller
	Snapshots SnapshotWriter
	Policy    Policy
	Retry     RetryPolicy
	Emitter   progress.Emitter
	Clock     Clock
	IDs       IDGenerator
	Logger    *zap.Logger
}

// Engine walks a site breadth-first and runs every fetched page through the
// snapshot pipeline: extract, resolve and store assets, clean, enrich,
// persist, emit progress.
type Engine struct {
	cfg       Config
	deps      Dependencies
	blocklist *domainBlocklist
	assetSem  chan struct{}
}

// NewEngine validates dependencies and builds an Engine.
func NewEngine(cfg Config, deps Dependencies) (*Engine, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Resolver == nil:
		return nil, errors.New("asset resolver is required")
	case deps.Store == nil:
		return nil, errors.New("asset store is required")
	case deps.Cleaner == nil:
		return nil, errors.New("cleaner is required")
	case deps.Enricher == nil:
		return nil, errors.New("enricher is required")
	case deps.Snapshots == nil:
		return nil, errors.New("snapshot writer is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	}
	if deps.Retry == nil {
		deps.Retry = NewExponentialRetryPolicy()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.AssetConcurrency <= 0 {
		cfg.AssetConcurrency = 4
	}
	return &Engine{
		cfg:       cfg,
		deps:      deps,
		blocklist: newDomainBlocklist(cfg.BlockedDomains),
		assetSem:  make(chan struct{}, cfg.AssetConcurrency),
	}, nil
}

// runState carries everything mutable for one crawl run.
type runState struct {
	runID   string
	params  Params
	rootURL string
	site    string
	filter  *linkFilter
	logger  *zap.Logger
	emitter progress.Emitter
	clock   Clock

	visited visitTracker

	// pages is appended to only between waves, on the scheduling
	// goroutine. Workers mutate their own node in place.
	pages []*PageNode

	mu      sync.Mutex
	records []PageRecord
	dirs    map[string]string

	seenHashes sync.Map

	pagesFetched  atomic.Int64
	pagesFailed   atomic.Int64
	assetsStored  atomic.Int64
	assetsDedup   atomic.Int64
	assetsSkipped atomic.Int64
}

func (s *runState) event(stage progress.Stage) progress.Event {
	return progress.Event{
		RunID: s.runID,
		TS:    s.clock.Now(),
		Stage: stage,
		Site:  s.site,
	}
}

func (s *runState) emit(evt progress.Event) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(evt)
}

func (s *runState) capReached() bool {
	return s.params.MaxPages > 0 && len(s.pages) >= s.params.MaxPages
}

func (s *runState) addRecord(url string, record PageRecord, dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	if dir != "" {
		s.dirs[url] = dir
	}
}

func (s *runState) addDir(url, dir string) {
	if dir == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirs[url] = dir
}

// Run executes one crawl. The returned Result is valid (possibly partial)
// even when err is non-nil; cancellation wraps ErrCanceled.
func (e *Engine) Run(ctx context.Context, params Params) (Result, error) {
	params = withRunDefaults(params)
	start := e.deps.Clock.Now()

	runID := params.RunID
	if runID == "" {
		var err error
		runID, err = e.deps.IDs.NewID()
		if err != nil {
			return Result{}, fmt.Errorf("allocate run id: %w", err)
		}
	}
	rootURL, err := ValidateRootURL(params.RootURL)
	if err != nil {
		return Result{}, err
	}
	filter, err := newLinkFilter(rootURL, params.SameDomainOnly, e.blocklist)
	if err != nil {
		return Result{}, fmt.Errorf("build link filter: %w", err)
	}

	site := HostLabel(rootURL)
	state := &runState{
		runID:   runID,
		params:  params,
		rootURL: rootURL,
		site:    site,
		filter:  filter,
		logger:  e.deps.Logger.With(zap.String("run_id", runID), zap.String("site", site)),
		emitter: e.deps.Emitter,
		clock:   e.deps.Clock,
		visited: newConcurrentVisitTracker(),
		dirs:    make(map[string]string),
	}

	state.logger.Info("crawl starting",
		zap.String("root_url", rootURL),
		zap.Int("max_depth", params.MaxDepth),
		zap.Int("concurrency", params.Concurrency),
	)
	evt := state.event(progress.StageRunStart)
	evt.URL = rootURL
	state.emit(evt)

	root := &PageNode{URL: rootURL, Depth: 0, Status: PageStatusPending}
	state.visited.MarkIfNew(rootURL)
	state.pages = append(state.pages, root)

	walkErr := e.walk(ctx, state, root)

	summary := e.buildSummary(state, start)
	if e.deps.Snapshots != nil {
		if err := e.deps.Snapshots.WriteSummary(summary); err != nil {
			state.logger.Error("write run summary failed", zap.Error(err))
			if walkErr == nil {
				walkErr = fmt.Errorf("write run summary: %w", err)
			}
		}
	}

	result := Result{
		RunID:   runID,
		Summary: summary,
		Pages:   snapshotPages(state.pages),
		Records: append([]PageRecord(nil), state.records...),
	}

	elapsed := e.deps.Clock.Now().Sub(start)
	if walkErr != nil {
		evt := state.event(progress.StageRunError)
		evt.Dur = elapsed
		evt.Note = walkErr.Error()
		state.emit(evt)
		state.logger.Warn("crawl aborted",
			zap.Int64("pages_fetched", state.pagesFetched.Load()),
			zap.Duration("elapsed", elapsed),
			zap.Error(walkErr),
		)
		return result, walkErr
	}

	evt = state.event(progress.StageRunDone)
	evt.Visits = state.pagesFetched.Load()
	evt.Dur = elapsed
	state.emit(evt)
	state.logger.Info("crawl finished",
		zap.Int("total_pages", summary.TotalPages),
		zap.Int("pages_fetched", summary.PagesFetched),
		zap.Int("pages_failed", summary.PagesFailed),
		zap.Int("assets_downloaded", summary.AssetsDownloaded),
		zap.Int("assets_deduplicated", summary.AssetsDeduplicated),
		zap.Duration("elapsed", elapsed),
	)
	return result, nil
}

// walk drives the breadth-first traversal, one bounded wave per depth level.
func (e *Engine) walk(ctx context.Context, state *runState, root *PageNode) error {
	level := []*PageNode{root}
	for depth := 0; len(level) > 0; depth++ {
		if err := e.crawlLevel(ctx, state, level); err != nil {
			return err
		}
		level = e.enqueueNextLevel(state, level, depth)
	}
	return nil
}

// crawlLevel fetches one depth level with bounded fan-out. Page failures are
// recorded on their nodes; only cancellation aborts the wave.
func (e *Engine) crawlLevel(ctx context.Context, state *runState, level []*PageNode) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(state.params.Concurrency)
	for _, node := range level {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e.processPage(gctx, state, node)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("crawl %s: %w", state.rootURL, ErrCanceled)
	}
	return nil
}

// enqueueNextLevel turns the links recorded on fetched nodes into the next
// depth level. Enqueueing is single-threaded so first-discovery depth
// assignment is deterministic within the wave structure.
func (e *Engine) enqueueNextLevel(state *runState, level []*PageNode, depth int) []*PageNode {
	if depth >= state.params.MaxDepth {
		return nil
	}
	var next []*PageNode
	for _, node := range level {
		if node.Status != PageStatusFetched {
			continue
		}
		for _, link := range node.Links {
			if state.capReached() {
				state.logger.Info("page cap reached, frontier closed",
					zap.Int("max_pages", state.params.MaxPages))
				return next
			}
			if !state.visited.MarkIfNew(link) {
				continue
			}
			child := &PageNode{URL: link, Depth: depth + 1, Status: PageStatusPending}
			state.pages = append(state.pages, child)
			next = append(next, child)
		}
	}
	return next
}

// processPage runs the full per-page pipeline and mutates node in place.
func (e *Engine) processPage(ctx context.Context, state *runState, node *PageNode) {
	evt := state.event(progress.StagePageStart)
	evt.URL = node.URL
	evt.Depth = node.Depth
	state.emit(evt)

	if e.deps.Policy != nil {
		if err := e.deps.Policy.Wait(ctx, node.URL); err != nil {
			// Canceled while throttled; the node stays pending.
			return
		}
	}

	resp, err := e.fetchPage(ctx, state, node.URL)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		node.Status = PageStatusFailed
		node.Failure = err.Error()
		state.pagesFailed.Add(1)
		evt := state.event(progress.StagePageError)
		evt.URL = node.URL
		evt.Depth = node.Depth
		evt.Note = err.Error()
		state.emit(evt)
		state.logger.Warn("page fetch failed",
			zap.String("url", node.URL),
			zap.Int("depth", node.Depth),
			zap.Error(err),
		)
		// Failed pages keep a snapshot dir so a partial mirror never
		// passes for a complete one. The empty content hash marks it.
		bare := PageRecord{CrawledAt: state.clock.Now(), URL: node.URL}
		dir, werr := e.deps.Snapshots.WritePage(*node, "", bare)
		if werr != nil {
			state.logger.Error("persist failed page",
				zap.String("url", node.URL),
				zap.Error(werr),
			)
			return
		}
		state.addDir(node.URL, dir)
		return
	}

	node.Status = PageStatusFetched
	node.Title = resp.Title
	node.RawHTML = resp.HTML
	node.RawMarkdown = resp.Markdown
	node.ContentHTML = resp.ContentHTML
	node.FetchedVia = resp.Via
	node.Links = admitLinks(state.filter, resp.Links)

	imageHashes, fileHashes := e.collectAssets(ctx, state, node)
	if e.deps.AltFiller != nil && len(imageHashes) > 0 {
		if err := e.deps.AltFiller.Backfill(ctx, imageHashes); err != nil {
			state.logger.Debug("alt text backfill incomplete",
				zap.String("url", node.URL),
				zap.Error(err),
			)
		}
	}

	cleaned := e.deps.Cleaner.Clean(node.RawMarkdown)

	record, err := e.deps.Enricher.Enrich(ctx, node.URL, cleaned, node.RawHTML)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		state.logger.Warn("enrichment failed, recording bare page",
			zap.String("url", node.URL),
			zap.Error(err),
		)
		record = PageRecord{CrawledAt: state.clock.Now(), URL: node.URL}
	} else {
		evt := state.event(progress.StageEnrichDone)
		evt.URL = node.URL
		state.emit(evt)
	}
	record.Title = node.Title
	record.ImageHashes = imageHashes
	record.FileHashes = fileHashes

	dir, err := e.deps.Snapshots.WritePage(*node, cleaned, record)
	if err != nil {
		state.logger.Error("persist page failed",
			zap.String("url", node.URL),
			zap.Error(err),
		)
	}
	state.addRecord(node.URL, record, dir)
	state.pagesFetched.Add(1)

	evt = state.event(progress.StagePageDone)
	evt.URL = node.URL
	evt.Depth = node.Depth
	evt.Bytes = int64(len(node.RawHTML))
	evt.Visits = 1
	evt.StatusClass = progress.ClassifyStatus(resp.StatusCode)
	evt.Dur = resp.Duration
	state.emit(evt)
}

// fetchPage runs the static fetcher with retry, then promotes to the
// headless fetcher when the detector flags the result. A failed headless
// refetch falls back to the static response.
func (e *Engine) fetchPage(ctx context.Context, state *runState, pageURL string) (FetchResponse, error) {
	request := FetchRequest{URL: pageURL, WaitSeconds: state.params.WaitSeconds}

	var resp FetchResponse
	var err error
	for attempt := 0; ; attempt++ {
		resp, err = e.deps.Fetcher.Fetch(ctx, request)
		if err == nil {
			break
		}
		if !e.deps.Retry.ShouldRetry(err, attempt+1) {
			return FetchResponse{}, err
		}
		backoff := e.deps.Retry.Backoff(attempt)
		state.logger.Debug("retrying fetch",
			zap.String("url", pageURL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return FetchResponse{}, ctx.Err()
		case <-time.After(backoff):
		}
	}

	if e.deps.Headless == nil || e.deps.Detector == nil || !e.deps.Detector.ShouldPromote(resp) {
		return resp, nil
	}
	rendered, rerr := e.deps.Headless.Fetch(ctx, request)
	if rerr != nil {
		state.logger.Warn("headless refetch failed, keeping static response",
			zap.String("url", pageURL),
			zap.Error(rerr),
		)
		return resp, nil
	}
	return rendered, nil
}

// collectAssets resolves references out of the content subtree and ensures
// each one in the store, bounded by the engine-wide asset semaphore. Hash
// lists come back in document order, deduplicated per page.
func (e *Engine) collectAssets(ctx context.Context, state *runState, node *PageNode) ([]string, []string) {
	refs, err := e.deps.Resolver.Discover(node.ContentHTML, node.URL)
	if err != nil {
		state.logger.Warn("asset discovery failed",
			zap.String("url", node.URL),
			zap.Error(err),
		)
		return nil, nil
	}
	if len(refs) == 0 {
		return nil, nil
	}

	type outcome struct {
		asset Asset
		err   error
	}
	results := make([]outcome, len(refs))
	var wg sync.WaitGroup
	for i, ref := range refs {
		wg.Add(1)
		go func(i int, ref AssetRef) {
			defer wg.Done()
			select {
			case e.assetSem <- struct{}{}:
			case <-ctx.Done():
				results[i] = outcome{err: ctx.Err()}
				return
			}
			defer func() { <-e.assetSem }()
			asset, err := e.deps.Store.Ensure(ctx, ref)
			results[i] = outcome{asset: asset, err: err}
		}(i, ref)
	}
	wg.Wait()

	var imageHashes, fileHashes []string
	pageSeen := make(map[string]struct{}, len(refs))
	for i, ref := range refs {
		res := results[i]
		if res.err != nil {
			if errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded) {
				continue
			}
			state.assetsSkipped.Add(1)
			evt := state.event(progress.StageAssetSkipped)
			evt.URL = ref.URL
			evt.Note = res.err.Error()
			state.emit(evt)
			state.logger.Debug("asset skipped",
				zap.String("url", ref.URL),
				zap.Error(res.err),
			)
			continue
		}
		hash := res.asset.Hash
		if _, dup := state.seenHashes.LoadOrStore(hash, struct{}{}); dup {
			state.assetsDedup.Add(1)
			evt := state.event(progress.StageAssetDedup)
			evt.URL = ref.URL
			evt.Note = hash
			state.emit(evt)
		} else {
			state.assetsStored.Add(1)
			evt := state.event(progress.StageAssetStored)
			evt.URL = ref.URL
			evt.Bytes = res.asset.ByteSize
			evt.Note = hash
			state.emit(evt)
		}
		if _, onPage := pageSeen[hash]; onPage {
			continue
		}
		pageSeen[hash] = struct{}{}
		if res.asset.Kind == AssetKindImage {
			imageHashes = append(imageHashes, hash)
		} else {
			fileHashes = append(fileHashes, hash)
		}
	}
	return imageHashes, fileHashes
}

func (e *Engine) buildSummary(state *runState, start time.Time) RunSummary {
	state.mu.Lock()
	defer state.mu.Unlock()
	pages := make([]PageSummary, 0, len(state.pages))
	for _, node := range state.pages {
		pages = append(pages, PageSummary{
			URL:    node.URL,
			Depth:  node.Depth,
			Status: node.Status,
			Title:  node.Title,
			Dir:    state.dirs[node.URL],
		})
	}
	return RunSummary{
		StartURL:           state.rootURL,
		CrawledAt:          start,
		MaxDepth:           state.params.MaxDepth,
		TotalPages:         len(state.pages),
		PagesFetched:       int(state.pagesFetched.Load()),
		PagesFailed:        int(state.pagesFailed.Load()),
		AssetsDownloaded:   int(state.assetsStored.Load()),
		AssetsDeduplicated: int(state.assetsDedup.Load()),
		AssetsSkipped:      int(state.assetsSkipped.Load()),
		Pages:              pages,
	}
}

// admitLinks normalizes and filters discovered links, deduplicating while
// preserving document order. The visited set is consulted later, at enqueue
// time, so a page's record still lists targets that were already crawled.
func admitLinks(filter *linkFilter, raw []string) []string {
	var links []string
	seen := make(map[string]struct{}, len(raw))
	for _, link := range raw {
		if !filter.Admit(link) {
			continue
		}
		normalized, err := NormalizeURL(link)
		if err != nil {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		links = append(links, normalized)
	}
	return links
}

func snapshotPages(pages []*PageNode) []PageNode {
	out := make([]PageNode, len(pages))
	for i, node := range pages {
		out[i] = *node
	}
	return out
}

func withRunDefaults(params Params) Params {
	if params.Concurrency <= 0 {
		params.Concurrency = 1
	}
	if params.MaxDepth < 0 {
		params.MaxDepth = 0
	}
	if params.MaxPages < 0 {
		params.MaxPages = 0
	}
	if params.WaitSeconds < 0 {
		params.WaitSeconds = 0
	}
	return params
}
