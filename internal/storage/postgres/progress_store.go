// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mirrorlab/sitemirror/internal/store"
)

// ProgressStoreConfig controls the Postgres connection pool used for run progress.
type ProgressStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// ProgressStore implements store.ProgressRepository on top of Postgres.
type ProgressStore struct {
	pool pgxPool
}

// NewProgressStore creates a Postgres-backed ProgressStore using the provided config.
func NewProgressStore(ctx context.Context, cfg ProgressStoreConfig) (*ProgressStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ProgressStore{pool: pool}, nil
}

// NewProgressStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewProgressStoreWithPool(pool pgxPool) (*ProgressStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProgressStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ProgressStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertRunStart records the run as running. Replays of the start event are ignored.
func (s *ProgressStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO job_runs (run_id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks the run finished with the provided status and optional error message.
func (s *ProgressStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE job_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE run_id = $4;
	`
	if _, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, runID); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// UpsertSiteStats applies page visit/byte deltas for one (run, site) row. The
// status class routes the visit delta into its per-class column; unrecognized
// classes still count toward visits and bytes.
func (s *ProgressStore) UpsertSiteStats(
	ctx context.Context,
	runID uuid.UUID,
	site string,
	deltaVisits,
	deltaBytes int64,
	statusClass string,
	at time.Time,
) error {
	var pages2xx, pages3xx, pages4xx, pages5xx int64
	switch statusClass {
	case "2xx":
		pages2xx = deltaVisits
	case "3xx":
		pages3xx = deltaVisits
	case "4xx":
		pages4xx = deltaVisits
	case "5xx":
		pages5xx = deltaVisits
	}

	query := `
		INSERT INTO site_stats (
			run_id, site, last_update, visits, bytes_total,
			pages_2xx, pages_3xx, pages_4xx, pages_5xx,
			assets_stored, assets_deduplicated
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, 0)
		ON CONFLICT (run_id, site) DO UPDATE SET
			visits = site_stats.visits + EXCLUDED.visits,
			bytes_total = site_stats.bytes_total + EXCLUDED.bytes_total,
			pages_2xx = site_stats.pages_2xx + EXCLUDED.pages_2xx,
			pages_3xx = site_stats.pages_3xx + EXCLUDED.pages_3xx,
			pages_4xx = site_stats.pages_4xx + EXCLUDED.pages_4xx,
			pages_5xx = site_stats.pages_5xx + EXCLUDED.pages_5xx,
			last_update = GREATEST(site_stats.last_update, EXCLUDED.last_update);
	`
	_, err := s.pool.Exec(ctx, query, runID, site, at, deltaVisits, deltaBytes,
		pages2xx, pages3xx, pages4xx, pages5xx)
	if err != nil {
		return fmt.Errorf("upsert site stats: %w", err)
	}
	return nil
}

// UpsertAssetStats applies stored/deduplicated asset deltas for one (run, site) row.
func (s *ProgressStore) UpsertAssetStats(
	ctx context.Context,
	runID uuid.UUID,
	site string,
	deltaStored,
	deltaDeduplicated int64,
	at time.Time,
) error {
	query := `
		INSERT INTO site_stats (
			run_id, site, last_update, visits, bytes_total,
			pages_2xx, pages_3xx, pages_4xx, pages_5xx,
			assets_stored, assets_deduplicated
		)
		VALUES ($1, $2, $3, 0, 0, 0, 0, 0, 0, $4, $5)
		ON CONFLICT (run_id, site) DO UPDATE SET
			assets_stored = site_stats.assets_stored + EXCLUDED.assets_stored,
			assets_deduplicated = site_stats.assets_deduplicated + EXCLUDED.assets_deduplicated,
			last_update = GREATEST(site_stats.last_update, EXCLUDED.last_update);
	`
	_, err := s.pool.Exec(ctx, query, runID, site, at, deltaStored, deltaDeduplicated)
	if err != nil {
		return fmt.Errorf("upsert asset stats: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *ProgressStore) GetRun(ctx context.Context, runID uuid.UUID) (store.JobRun, error) {
	query := `
		SELECT run_id, started_at, finished_at, status, error_message
		FROM job_runs
		WHERE run_id = $1;
	`
	var run store.JobRun
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.RunID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.JobRun{}, store.ErrNotFound
		}
		return store.JobRun{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
func (s *ProgressStore) ListRuns(
	ctx context.Context,
	status *store.RunStatus,
	limit,
	offset int,
) ([]store.JobRun, error) {
	query := `
		SELECT run_id, started_at, finished_at, status, error_message
		FROM job_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.JobRun
	for rows.Next() {
		var run store.JobRun
		err := rows.Scan(
			&run.RunID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

// ListRunSites retrieves aggregated site statistics for one run.
func (s *ProgressStore) ListRunSites(
	ctx context.Context,
	runID uuid.UUID,
	limit,
	offset int,
) ([]store.SiteStats, error) {
	query := `
		SELECT run_id, site, last_update, visits, bytes_total,
			pages_2xx, pages_3xx, pages_4xx, pages_5xx,
			assets_stored, assets_deduplicated
		FROM site_stats
		WHERE run_id = $1
		ORDER BY last_update DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list run sites: %w", err)
	}
	defer rows.Close()

	var stats []store.SiteStats
	for rows.Next() {
		var stat store.SiteStats
		err := rows.Scan(
			&stat.RunID,
			&stat.Site,
			&stat.LastUpdate,
			&stat.Visits,
			&stat.BytesTotal,
			&stat.Pages2xx,
			&stat.Pages3xx,
			&stat.Pages4xx,
			&stat.Pages5xx,
			&stat.AssetsStored,
			&stat.AssetsDeduplicated,
		)
		if err != nil {
			return nil, fmt.Errorf("scan site stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate site stats rows: %w", err)
	}
	return stats, nil
}
