// Package database defines the run index: a queryable catalog of completed
// crawl runs, their pages, and their stored assets. The catalog is what makes
// cross-run change detection possible (same URL, changed content hash).
package database

import (
	"context"
	"time"
)

// RunRow captures one completed crawl run.
type RunRow struct {
	RunID        string    `db:"run_id"`
	RootURL      string    `db:"root_url"`
	StartedAt    time.Time `db:"started_at"`
	FinishedAt   time.Time `db:"finished_at"`
	Status       string    `db:"status"`
	PagesFetched int       `db:"pages_fetched"`
	PagesFailed  int       `db:"pages_failed"`
	AssetsStored int       `db:"assets_stored"`
	OutputDir    string    `db:"output_dir"`
	MirrorURI    string    `db:"mirror_uri"`
}

// PageRow captures one archived page within a run.
type PageRow struct {
	RunID           string    `db:"run_id"`
	URL             string    `db:"url"`
	Title           string    `db:"title"`
	ContentHash     string    `db:"content_hash"`
	Language        string    `db:"language"`
	EstimatedTokens int       `db:"estimated_tokens"`
	Description     string    `db:"description"`
	Keywords        []string  `db:"keywords"`
	SnapshotDir     string    `db:"snapshot_dir"`
	CrawledAt       time.Time `db:"crawled_at"`
}

// AssetRow captures one stored asset within a run.
type AssetRow struct {
	RunID     string `db:"run_id"`
	Hash      string `db:"hash"`
	Kind      string `db:"kind"`
	SourceURL string `db:"source_url"`
	MimeType  string `db:"mime_type"`
	ByteSize  int64  `db:"byte_size"`
	Filename  string `db:"filename"`
}

// Provider is the common interface for the run index backend.
type Provider interface {
	// SaveRun upserts the run row and returns its ID.
	SaveRun(ctx context.Context, run RunRow) (string, error)

	// SavePage records one archived page. Replays of the same (run, url) are ignored.
	SavePage(ctx context.Context, page PageRow) error

	// SaveAsset records one stored asset. Replays of the same (run, hash) are ignored.
	SaveAsset(ctx context.Context, asset AssetRow) error

	// PageByContentHash returns the most recent content hash recorded for the
	// URL across all runs, or "" when the URL has never been archived.
	PageByContentHash(ctx context.Context, url string) (string, error)

	// Close terminates the database connection and releases any resources.
	Close() error
}

// NoOpProvider satisfies Provider without persisting anything. It is used
// when the service runs without a configured database.
type NoOpProvider struct{}

// SaveRun for NoOpProvider echoes the run ID and stores nothing.
func (n *NoOpProvider) SaveRun(_ context.Context, run RunRow) (string, error) {
	return run.RunID, nil
}

// SavePage for NoOpProvider does nothing.
func (n *NoOpProvider) SavePage(_ context.Context, _ PageRow) error { return nil }

// SaveAsset for NoOpProvider does nothing.
func (n *NoOpProvider) SaveAsset(_ context.Context, _ AssetRow) error { return nil }

// PageByContentHash for NoOpProvider reports no history.
func (n *NoOpProvider) PageByContentHash(_ context.Context, _ string) (string, error) {
	return "", nil
}

// Close for NoOpProvider does nothing and returns no error.
func (n *NoOpProvider) Close() error { return nil }
