package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("progress record not found")

// RunStatus mirrors the job_runs status column.
type RunStatus string

// Run statuses persisted in job_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// JobRun models one row of job_runs. A job executes exactly one crawl run,
// so the run ID doubles as the job identifier everywhere.
type JobRun struct {
	// RunID is the crawl identifier shared with workers and progress events.
	RunID uuid.UUID
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time
	// Status is running/success/error.
	Status RunStatus
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// SiteStats captures per-site aggregation for one run.
type SiteStats struct {
	// RunID is the owning crawl.
	RunID uuid.UUID
	// Site is the normalized host label (e.g., example.com).
	Site string
	// LastUpdate captures the timestamp of the most recent aggregate.
	LastUpdate time.Time
	// Visits counts completed pages for the site.
	Visits int64
	// BytesTotal accumulates page response bytes.
	BytesTotal int64
	// Pages2xx-5xx hold per-status-class page counts for diagnostics.
	Pages2xx int64
	Pages3xx int64
	Pages4xx int64
	Pages5xx int64
	// AssetsStored counts distinct assets persisted for the site.
	AssetsStored int64
	// AssetsDeduplicated counts downloads collapsed onto an existing digest.
	AssetsDeduplicated int64
}

// ProgressRepository persists incremental run progress.
type ProgressRepository interface {
	// UpsertRunStart inserts (or idempotently updates) the started_at timestamp.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// UpsertSiteStats applies page visit/byte deltas per (run, site, statusClass).
	UpsertSiteStats(
		ctx context.Context,
		runID uuid.UUID,
		site string,
		deltaVisits int64,
		deltaBytes int64,
		statusClass string,
		at time.Time,
	) error
	// UpsertAssetStats applies stored/deduplicated asset deltas per (run, site).
	UpsertAssetStats(
		ctx context.Context,
		runID uuid.UUID,
		site string,
		deltaStored int64,
		deltaDeduplicated int64,
		at time.Time,
	) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (JobRun, error)
	// ListRuns returns runs filtered by optional status plus limit/offset.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]JobRun, error)
	// ListRunSites returns aggregated site stats for one run.
	ListRunSites(ctx context.Context, runID uuid.UUID, limit, offset int) ([]SiteStats, error)
}
