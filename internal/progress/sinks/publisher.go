package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/mirrorlab/sitemirror/internal/crawler"
	"github.com/mirrorlab/sitemirror/internal/progress"
)

// PublisherSink forwards run lifecycle events to a message bus so external
// systems can follow long crawls without polling. Page and asset events are
// deliberately not forwarded; the bus carries milestones, not firehose.
type PublisherSink struct {
	pub   crawler.Publisher
	topic string
}

// RunNotice is the published payload for one run lifecycle event.
type RunNotice struct {
	RunID string    `json:"run_id"`
	Stage string    `json:"stage"`
	Site  string    `json:"site,omitempty"`
	TS    time.Time `json:"ts"`
	Note  string    `json:"note,omitempty"`
}

// NewPublisherSink constructs a PublisherSink for the provided publisher.
func NewPublisherSink(pub crawler.Publisher, topic string) *PublisherSink {
	return &PublisherSink{pub: pub, topic: topic}
}

// Consume publishes each run lifecycle event in the batch.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
		default:
			continue
		}
		notice := RunNotice{
			RunID: evt.RunID,
			Stage: string(evt.Stage),
			Site:  evt.Site,
			TS:    evt.TS,
			Note:  evt.Note,
		}
		if _, err := s.pub.Publish(ctx, s.topic, notice); err != nil {
			return fmt.Errorf("publish %s: %w", evt.Stage, err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
