package crawler

import (
	"time"
)

// PageStatus represents the lifecycle state of a page node.
type PageStatus string

// Page status values recorded on each node.
const (
	PageStatusPending PageStatus = "pending"
	PageStatusFetched PageStatus = "fetched"
	PageStatusFailed  PageStatus = "failed"
)

// FetchVia identifies which fetch path produced a page.
type FetchVia string

// Fetch paths.
const (
	FetchViaStatic   FetchVia = "static"
	FetchViaHeadless FetchVia = "headless"
)

// PageNode is one visited (or failed) page in the traversal. Created when a
// URL is enqueued, mutated once on fetch completion, immutable afterwards.
// Links holds discovered same-document targets in document order, including
// targets beyond the depth limit, which are recorded but never fetched.
type PageNode struct {
	URL         string     `json:"url"`
	Depth       int        `json:"depth"`
	Status      PageStatus `json:"status"`
	Title       string     `json:"title,omitempty"`
	RawHTML     string     `json:"-"`
	RawMarkdown string     `json:"-"`
	ContentHTML string     `json:"-"`
	Links       []string   `json:"links,omitempty"`
	FetchedVia  FetchVia   `json:"fetched_via,omitempty"`
	Failure     string     `json:"failure,omitempty"`
}

// AssetKind distinguishes image assets from document assets.
type AssetKind string

// Asset kinds.
const (
	AssetKindImage AssetKind = "image"
	AssetKindFile  AssetKind = "file"
)

// AltTextOrigin records where an image's alt text came from.
type AltTextOrigin string

// Alt text origins.
const (
	AltTextOriginal  AltTextOrigin = "original"
	AltTextGenerated AltTextOrigin = "generated"
	AltTextMissing   AltTextOrigin = "missing"
)

// AssetRef is a discovery-time reference to an in-page asset, produced by
// the resolver before any download happens.
type AssetRef struct {
	URL     string
	Kind    AssetKind
	AltText string
}

// Asset is the persisted record for one distinct content digest. Two URLs
// serving identical bytes collapse to one Asset. The struct doubles as the
// sidecar JSON schema.
type Asset struct {
	Hash          string        `json:"hash"`
	Kind          AssetKind     `json:"kind"`
	Filename      string        `json:"filename"`
	SourceURL     string        `json:"original_url"`
	LocalPath     string        `json:"-"`
	ByteSize      int64         `json:"size"`
	MimeType      string        `json:"mime_type"`
	DownloadedAt  time.Time     `json:"downloaded_at"`
	Width         int           `json:"width,omitempty"`
	Height        int           `json:"height,omitempty"`
	AltText       string        `json:"alt_text,omitempty"`
	AltTextOrigin AltTextOrigin `json:"alt_text_origin,omitempty"`
}

// PageRecord is the final persisted metadata for one page. Field order is
// part of the on-disk format and must not be rearranged.
type PageRecord struct {
	CrawledAt       time.Time `json:"crawled_at"`
	URL             string    `json:"url"`
	Title           string    `json:"title"`
	ContentHash     string    `json:"content_hash"`
	Language        string    `json:"language"`
	EstimatedTokens int       `json:"estimated_tokens"`
	Description     string    `json:"description"`
	Keywords        []string  `json:"keywords"`
	ImageHashes     []string  `json:"image_hashes"`
	FileHashes      []string  `json:"file_hashes"`
}

// Params captures one crawl run's configuration.
type Params struct {
	// RunID, when set, is adopted as the run identifier instead of a
	// freshly allocated one. Serve mode sets it to the job id so the job
	// and its run share a name.
	RunID          string            `json:"run_id,omitempty"`
	RootURL        string            `json:"root_url"`
	MaxDepth       int               `json:"max_depth"`
	MaxPages       int               `json:"max_pages"`
	SameDomainOnly bool              `json:"same_domain_only"`
	Concurrency    int               `json:"concurrency"`
	WaitSeconds    float64           `json:"wait_seconds"`
	Tags           map[string]string `json:"tags,omitempty"`
}

// PageSummary is the per-page entry in the run summary.
type PageSummary struct {
	URL    string     `json:"url"`
	Depth  int        `json:"depth"`
	Status PageStatus `json:"status"`
	Title  string     `json:"title,omitempty"`
	Dir    string     `json:"dir,omitempty"`
}

// RunSummary reports what one crawl run produced.
type RunSummary struct {
	StartURL           string        `json:"start_url"`
	CrawledAt          time.Time     `json:"crawled_at"`
	MaxDepth           int           `json:"max_depth"`
	TotalPages         int           `json:"total_pages"`
	PagesFetched       int           `json:"pages_fetched"`
	PagesFailed        int           `json:"pages_failed"`
	AssetsDownloaded   int           `json:"assets_downloaded"`
	AssetsDeduplicated int           `json:"assets_deduplicated"`
	AssetsSkipped      int           `json:"assets_skipped"`
	Pages              []PageSummary `json:"pages"`
}

// Result is everything a finished run hands back to its caller.
type Result struct {
	RunID   string       `json:"run_id"`
	Summary RunSummary   `json:"summary"`
	Pages   []PageNode   `json:"pages"`
	Records []PageRecord `json:"records"`
}

// FetchRequest captures everything needed to fetch one page.
type FetchRequest struct {
	URL         string  `json:"url"`
	WaitSeconds float64 `json:"wait_seconds"`
}

// FetchResponse is the result returned by a Fetcher implementation.
// ContentHTML is the readability-extracted content subtree; the asset
// resolver never sees the full document.
type FetchResponse struct {
	URL         string        `json:"url"`
	StatusCode  int           `json:"status_code"`
	HTML        string        `json:"-"`
	Markdown    string        `json:"-"`
	Title       string        `json:"title"`
	Links       []string      `json:"links"`
	ContentHTML string        `json:"-"`
	Via         FetchVia      `json:"via"`
	Duration    time.Duration `json:"-"`
}

// JobStatus represents the lifecycle state of a submitted crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// JobCounters tracks per-job page and asset outcomes.
type JobCounters struct {
	PagesFetched  int `json:"pages_fetched"`
	PagesFailed   int `json:"pages_failed"`
	AssetsStored  int `json:"assets_stored"`
	AssetsSkipped int `json:"assets_skipped"`
}

// Job is the metadata persisted for each submitted crawl request.
type Job struct {
	ID        string      `json:"id"`
	Status    JobStatus   `json:"status"`
	Submitted time.Time   `json:"submitted_at"`
	Started   *time.Time  `json:"started_at,omitempty"`
	Finished  *time.Time  `json:"finished_at,omitempty"`
	ErrorText string      `json:"error_text,omitempty"`
	Params    Params      `json:"params"`
	Counters  JobCounters `json:"counters"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string `json:"job_id"`
	Params    Params `json:"params"`
	Attempt   int    `json:"attempt"`
	Submitted int64  `json:"submitted"`
}

// JobResult is returned by the API result endpoint.
type JobResult struct {
	Job     Job          `json:"job"`
	Summary RunSummary   `json:"summary"`
	Records []PageRecord `json:"records"`
}
