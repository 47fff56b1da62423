package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches one page and returns its rendered forms plus links.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a static fetch result warrants a
// headless refetch.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// AssetResolver discovers asset references inside a content subtree.
type AssetResolver interface {
	Discover(contentHTML string, baseURL string) ([]AssetRef, error)
}

// AssetStore downloads, deduplicates, and persists assets by content digest.
// Ensure is idempotent and safe to call concurrently for the same or
// different URLs.
type AssetStore interface {
	Ensure(ctx context.Context, ref AssetRef) (Asset, error)
	Lookup(hash string) (Asset, bool)
	SetAltText(hash string, text string, origin AltTextOrigin) error
}

// Cleaner normalizes raw markdown into cleaned content.
type Cleaner interface {
	Clean(raw string) string
}

// AltTextFiller generates alt text for stored images that lack a usable
// one. Invoked after a page's assets are ensured.
type AltTextFiller interface {
	Backfill(ctx context.Context, hashes []string) error
}

// Enricher derives page metadata from cleaned content.
type Enricher interface {
	Enrich(ctx context.Context, pageURL string, cleanedMarkdown string, rawHTML string) (PageRecord, error)
}

// SnapshotWriter persists page directories and the run summary. WritePage
// returns the page directory relative to the snapshot root.
type SnapshotWriter interface {
	WritePage(node PageNode, cleanedMarkdown string, record PageRecord) (string, error)
	WriteSummary(summary RunSummary) error
}

// JobStore persists job metadata and per-job results.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	SaveResult(ctx context.Context, jobID string, result Result) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	GetResult(ctx context.Context, jobID string) (Result, error)
}

// BlobStore mirrors snapshot artifacts and returns a location URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes run completion events to a message bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Policy throttles outbound requests per domain.
type Policy interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes content digests for deduplication and integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
	Short(data []byte) (string, error)
}

// Clock returns the current time (swappable for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
