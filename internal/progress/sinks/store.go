package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mirrorlab/sitemirror/internal/progress"
	"github.com/mirrorlab/sitemirror/internal/store"
)

// StoreSink persists progress deltas via a store.ProgressRepository. It
// collapses page and asset counters per site to reduce write amplification.
type StoreSink struct {
	repo   store.ProgressRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ProgressRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume collapses site deltas and forwards them to the repository. It
// respects ctx deadlines and returns any repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	pages := make(map[statsKey]*pageDelta)
	assets := make(map[statsKey]*assetDelta)

	for _, evt := range batch {
		runID, err := uuid.Parse(evt.RunID)
		if err != nil {
			s.logger.Warn("progress event with malformed run id", zap.String("run_id", evt.RunID))
			continue
		}
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
			if err := s.handleRunEvent(ctx, runID, evt); err != nil {
				return err
			}
		case progress.StagePageDone:
			s.recordPageStats(pages, runID, evt)
		case progress.StageAssetStored, progress.StageAssetDedup:
			s.recordAssetStats(assets, runID, evt)
		}
	}

	for key, delta := range pages {
		if delta.visits == 0 && delta.bytes == 0 {
			continue
		}
		if err := s.repo.UpsertSiteStats(
			ctx,
			key.runID,
			key.site,
			delta.visits,
			delta.bytes,
			key.statusClass,
			delta.at,
		); err != nil {
			return fmt.Errorf("upsert site stats: %w", err)
		}
	}
	for key, delta := range assets {
		if delta.stored == 0 && delta.deduplicated == 0 {
			continue
		}
		if err := s.repo.UpsertAssetStats(
			ctx,
			key.runID,
			key.site,
			delta.stored,
			delta.deduplicated,
			delta.at,
		); err != nil {
			return fmt.Errorf("upsert asset stats: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) handleRunEvent(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.repo.UpsertRunStart(ctx, runID, evt.TS); err != nil {
			return fmt.Errorf("upsert run start: %w", err)
		}
	case progress.StageRunDone:
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunSuccess, nil); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case progress.StageRunError:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunError, note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) recordPageStats(pages map[statsKey]*pageDelta, runID uuid.UUID, evt progress.Event) {
	if evt.Site == "" {
		return
	}
	key := statsKey{
		runID:       runID,
		site:        evt.Site,
		statusClass: string(evt.StatusClass),
	}
	delta := pages[key]
	if delta == nil {
		delta = &pageDelta{}
		pages[key] = delta
	}
	delta.visits += evt.Visits
	delta.bytes += evt.Bytes
	if evt.TS.After(delta.at) {
		delta.at = evt.TS
	}
}

func (s *StoreSink) recordAssetStats(assets map[statsKey]*assetDelta, runID uuid.UUID, evt progress.Event) {
	if evt.Site == "" {
		return
	}
	key := statsKey{runID: runID, site: evt.Site}
	delta := assets[key]
	if delta == nil {
		delta = &assetDelta{}
		assets[key] = delta
	}
	if evt.Stage == progress.StageAssetStored {
		delta.stored++
	} else {
		delta.deduplicated++
	}
	if evt.TS.After(delta.at) {
		delta.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type statsKey struct {
	runID       uuid.UUID
	site        string
	statusClass string
}

type pageDelta struct {
	visits int64
	bytes  int64
	at     time.Time
}

type assetDelta struct {
	stored       int64
	deduplicated int64
	at           time.Time
}
