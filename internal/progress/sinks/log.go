package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/mirrorlab/sitemirror/internal/progress"
)

// LogSink writes progress events to the process logger. It backs the
// progress.log_events toggle, which operators flip on to tail a crawl
// without attaching a database or a metrics scraper.
//
// Run milestones land at info level; per-page and per-asset events go to
// debug so a large crawl does not flood the log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink adapts a Zap logger to the progress.Sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs every event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		write := s.logger.Debug
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
			write = s.logger.Info
		}
		write("crawl progress", eventFields(evt)...)
	}
	return nil
}

// Close satisfies progress.Sink; there is nothing to release.
func (s *LogSink) Close(context.Context) error {
	return nil
}

// eventFields renders an event as structured fields, leaving out the
// optional ones an event did not set.
func eventFields(evt progress.Event) []zap.Field {
	fields := make([]zap.Field, 0, 10)
	fields = append(fields,
		zap.String("run_id", evt.RunID),
		zap.String("stage", string(evt.Stage)),
		zap.String("site", evt.Site),
	)
	if evt.URL != "" {
		fields = append(fields,
			zap.String("url", evt.URL),
			zap.Int("depth", evt.Depth),
		)
	}
	if evt.Bytes > 0 {
		fields = append(fields, zap.Int64("bytes", evt.Bytes))
	}
	if evt.Visits > 0 {
		fields = append(fields, zap.Int64("visits", evt.Visits))
	}
	if evt.StatusClass != "" {
		fields = append(fields, zap.String("status_class", string(evt.StatusClass)))
	}
	if evt.Dur > 0 {
		fields = append(fields, zap.Duration("dur", evt.Dur))
	}
	if evt.Note != "" {
		fields = append(fields, zap.String("note", evt.Note))
	}
	return fields
}
