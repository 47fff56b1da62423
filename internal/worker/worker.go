// Package worker implements the crawl job execution loop: dequeue a job,
// run the crawl, mirror the snapshot, index the run, and report back.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	gopath "path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mirrorlab/sitemirror/internal/crawler"
	"github.com/mirrorlab/sitemirror/internal/database"
	"github.com/mirrorlab/sitemirror/internal/metrics"
	"github.com/mirrorlab/sitemirror/internal/queue"
)

// RunOutput couples an engine result with where its snapshot landed and
// which assets the run stored.
type RunOutput struct {
	Result crawler.Result
	// Dir is the snapshot site root on local disk.
	Dir string
	// Assets lists the distinct assets the run stored or reused.
	Assets []crawler.Asset
}

// Runner executes one crawl run. Implementations return whatever partial
// output exists even when err is non-nil, matching the engine contract.
type Runner interface {
	Run(ctx context.Context, params crawler.Params) (RunOutput, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, params crawler.Params) (RunOutput, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, params crawler.Params) (RunOutput, error) {
	return f(ctx, params)
}

// Cancels tracks cancel functions for running jobs so the cancel endpoint
// can stop a crawl mid-flight. One instance is shared by every worker.
type Cancels struct {
	m sync.Map
}

// NewCancels constructs an empty registry.
func NewCancels() *Cancels {
	return &Cancels{}
}

// Add registers the cancel function for a job that just started running.
func (c *Cancels) Add(jobID string, cancel context.CancelFunc) {
	c.m.Store(jobID, cancel)
}

// Remove drops a finished job from the registry.
func (c *Cancels) Remove(jobID string) {
	c.m.Delete(jobID)
}

// Cancel stops a running job. It reports whether the job was running.
func (c *Cancels) Cancel(jobID string) bool {
	value, ok := c.m.LoadAndDelete(jobID)
	if !ok {
		return false
	}
	value.(context.CancelFunc)()
	return true
}

// Config controls Worker behavior.
type Config struct {
	// BlobPrefix namespaces mirrored objects inside the blob store.
	BlobPrefix string
	// Topic carries job completion notices. Empty disables publishing.
	Topic string
	// FallbackContentType is used for mirrored files whose extension is
	// not recognized.
	FallbackContentType string
}

// Worker consumes queue items and executes the crawl pipeline for each.
// A nil blobStore disables mirroring, a nil index disables the run
// catalog, and a nil publisher disables completion notices.
type Worker struct {
	queue     crawler.Queue
	jobStore  crawler.JobStore
	blobStore crawler.BlobStore
	publisher crawler.Publisher
	index     database.Provider
	runner    Runner
	cancels   *Cancels
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	q crawler.Queue,
	jobStore crawler.JobStore,
	blobStore crawler.BlobStore,
	publisher crawler.Publisher,
	index database.Provider,
	runner Runner,
	cancels *Cancels,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cancels == nil {
		cancels = NewCancels()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FallbackContentType == "" {
		cfg.FallbackContentType = "application/octet-stream"
	}
	return &Worker{
		queue:     q,
		jobStore:  jobStore,
		blobStore: blobStore,
		publisher: publisher,
		index:     index,
		runner:    runner,
		cancels:   cancels,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the
// queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item crawler.QueueItem) {
	logger := w.logger.With(zap.String("job_id", item.JobID))

	job, err := w.jobStore.GetJob(ctx, item.JobID)
	if err != nil {
		logger.Error("load job failed", zap.Error(err))
		return
	}
	if job.Status == crawler.JobStatusCanceled {
		logger.Info("skipping canceled job")
		return
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, crawler.JobStatusRunning, "", crawler.JobCounters{}); err != nil {
		logger.Error("mark job running failed", zap.Error(err))
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	w.cancels.Add(item.JobID, cancel)
	defer func() {
		w.cancels.Remove(item.JobID)
		cancel()
	}()

	// The job id doubles as the run id so progress events, the run index,
	// and the API all name the same thing.
	params := item.Params
	params.RunID = item.JobID

	started := w.clock.Now()
	out, runErr := w.runner.Run(jobCtx, params)

	counters := countersFromSummary(out.Result.Summary)
	status, errText := deriveFinalStatus(jobCtx, counters, runErr)

	mirrorURI := ""
	if status == crawler.JobStatusSucceeded && w.blobStore != nil {
		uri, mirrorErr := w.mirrorSnapshot(ctx, item.JobID, out)
		if mirrorErr != nil {
			// The local snapshot is intact, but serve mode promises a
			// durable archive; surface the gap as a failure.
			status = crawler.JobStatusFailed
			errText = mirrorErr.Error()
			logger.Error("mirror snapshot failed", zap.Error(mirrorErr))
		} else {
			mirrorURI = uri
		}
	}

	if status == crawler.JobStatusSucceeded {
		if err := w.jobStore.SaveResult(ctx, item.JobID, out.Result); err != nil {
			status = crawler.JobStatusFailed
			errText = err.Error()
			logger.Error("save result failed", zap.Error(err))
		}
	}

	w.recordRunIndex(ctx, logger, item, out, started, status, mirrorURI)

	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, status, errText, counters); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
	}
	metrics.ObserveJob(string(status))

	w.publishCompletion(ctx, logger, item.JobID, status, counters, mirrorURI, out)

	logger.Info("job finished",
		zap.String("status", string(status)),
		zap.Int("pages_fetched", counters.PagesFetched),
		zap.Int("pages_failed", counters.PagesFailed),
		zap.Int("assets_stored", counters.AssetsStored),
		zap.Duration("elapsed", w.clock.Now().Sub(started)),
	)
}

// mirrorSnapshot uploads the snapshot tree to the blob store and returns
// the URI of the mirrored run summary, the mirror's entry point.
func (w *Worker) mirrorSnapshot(ctx context.Context, runID string, out RunOutput) (string, error) {
	if out.Dir == "" {
		return "", errors.New("run produced no snapshot directory")
	}
	site := crawler.HostLabel(out.Result.Summary.StartURL)

	summaryURI := ""
	walkErr := filepath.WalkDir(out.Dir, func(fullPath string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(out.Dir, fullPath)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", fullPath, err)
		}
		rel = filepath.ToSlash(rel)

		file, err := os.Open(fullPath) // #nosec G304 -- paths come from walking our own snapshot tree
		if err != nil {
			return fmt.Errorf("open %s: %w", rel, err)
		}
		uri, putErr := w.blobStore.PutObject(ctx, w.blobPath(runID, site, rel), contentTypeFor(rel, w.cfg.FallbackContentType), file)
		closeErr := file.Close()
		if putErr != nil {
			return fmt.Errorf("upload %s: %w", rel, putErr)
		}
		if closeErr != nil {
			return fmt.Errorf("close %s: %w", rel, closeErr)
		}
		if rel == "crawl_summary.json" {
			summaryURI = uri
		}
		return nil
	})
	if walkErr != nil {
		return "", fmt.Errorf("mirror snapshot: %w", walkErr)
	}
	return summaryURI, nil
}

func (w *Worker) blobPath(runID, site, rel string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	parts := make([]string, 0, 4)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, site, runID, rel)
	return gopath.Join(parts...)
}

func (w *Worker) recordRunIndex(
	ctx context.Context,
	logger *zap.Logger,
	item crawler.QueueItem,
	out RunOutput,
	started time.Time,
	status crawler.JobStatus,
	mirrorURI string,
) {
	if w.index == nil {
		return
	}
	summary := out.Result.Summary

	run := database.RunRow{
		RunID:        item.JobID,
		RootURL:      item.Params.RootURL,
		StartedAt:    started,
		FinishedAt:   w.clock.Now(),
		Status:       string(status),
		PagesFetched: summary.PagesFetched,
		PagesFailed:  summary.PagesFailed,
		AssetsStored: summary.AssetsDownloaded,
		OutputDir:    out.Dir,
		MirrorURI:    mirrorURI,
	}
	if _, err := w.index.SaveRun(ctx, run); err != nil {
		logger.Error("index run failed", zap.Error(err))
		return
	}

	dirs := make(map[string]string, len(summary.Pages))
	for _, page := range summary.Pages {
		dirs[page.URL] = page.Dir
	}

	firstSeen, changed := 0, 0
	for _, record := range out.Result.Records {
		prevHash, err := w.index.PageByContentHash(ctx, record.URL)
		switch {
		case err != nil:
			logger.Warn("page history lookup failed", zap.String("url", record.URL), zap.Error(err))
		case prevHash == "":
			firstSeen++
		case prevHash != record.ContentHash:
			changed++
		}

		row := database.PageRow{
			RunID:           item.JobID,
			URL:             record.URL,
			Title:           record.Title,
			ContentHash:     record.ContentHash,
			Language:        record.Language,
			EstimatedTokens: record.EstimatedTokens,
			Description:     record.Description,
			Keywords:        record.Keywords,
			SnapshotDir:     dirs[record.URL],
			CrawledAt:       record.CrawledAt,
		}
		if err := w.index.SavePage(ctx, row); err != nil {
			logger.Warn("index page failed", zap.String("url", record.URL), zap.Error(err))
		}
	}

	for _, asset := range out.Assets {
		row := database.AssetRow{
			RunID:     item.JobID,
			Hash:      asset.Hash,
			Kind:      string(asset.Kind),
			SourceURL: asset.SourceURL,
			MimeType:  asset.MimeType,
			ByteSize:  asset.ByteSize,
			Filename:  asset.Filename,
		}
		if err := w.index.SaveAsset(ctx, row); err != nil {
			logger.Warn("index asset failed", zap.String("hash", asset.Hash), zap.Error(err))
		}
	}

	logger.Info("run indexed",
		zap.Int("pages", len(out.Result.Records)),
		zap.Int("pages_first_seen", firstSeen),
		zap.Int("pages_changed", changed),
		zap.Int("assets", len(out.Assets)),
	)
}

func (w *Worker) publishCompletion(
	ctx context.Context,
	logger *zap.Logger,
	jobID string,
	status crawler.JobStatus,
	counters crawler.JobCounters,
	mirrorURI string,
	out RunOutput,
) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"job_id":        jobID,
		"status":        string(status),
		"root_url":      out.Result.Summary.StartURL,
		"pages_fetched": counters.PagesFetched,
		"pages_failed":  counters.PagesFailed,
		"assets_stored": counters.AssetsStored,
		"output_dir":    out.Dir,
		"timestamp":     w.clock.Now().Format(time.RFC3339),
	}
	if mirrorURI != "" {
		payload["mirror_uri"] = mirrorURI
	}
	// The job is already terminal; a lost notice is not worth failing it.
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		logger.Warn("publish completion failed", zap.Error(err))
		return
	}
	logger.Debug("job completion published", zap.String("status", string(status)))
}

func countersFromSummary(summary crawler.RunSummary) crawler.JobCounters {
	return crawler.JobCounters{
		PagesFetched:  summary.PagesFetched,
		PagesFailed:   summary.PagesFailed,
		AssetsStored:  summary.AssetsDownloaded,
		AssetsSkipped: summary.AssetsSkipped,
	}
}

func deriveFinalStatus(ctx context.Context, counters crawler.JobCounters, runErr error) (crawler.JobStatus, string) {
	switch {
	case runErr != nil && (errors.Is(runErr, crawler.ErrCanceled) || ctx.Err() != nil):
		return crawler.JobStatusCanceled, runErr.Error()
	case runErr != nil:
		return crawler.JobStatusFailed, runErr.Error()
	case counters.PagesFetched == 0:
		return crawler.JobStatusFailed, "no pages were fetched"
	default:
		return crawler.JobStatusSucceeded, ""
	}
}

func contentTypeFor(rel string, fallback string) string {
	ext := strings.ToLower(gopath.Ext(rel))
	switch ext {
	case ".html":
		return "text/html; charset=utf-8"
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".json":
		return "application/json"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return fallback
}
