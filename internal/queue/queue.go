// Package queue provides crawl job queues over a message bus.
//
// The serve-mode dispatcher consumes crawler.QueueItem values from a
// queue. This package implements the Google Cloud Pub/Sub variant; the
// memory subpackage holds the in-process variant used for local
// development and tests.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mirrorlab/sitemirror/internal/crawler"
)

// ErrClosed is returned by Dequeue once the queue has been closed,
// letting dispatch loops tell shutdown apart from real failures.
var ErrClosed = errors.New("queue closed")

// encodeItem serializes a queue item for the wire.
func encodeItem(item crawler.QueueItem) ([]byte, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("marshal queue item: %w", err)
	}
	return data, nil
}

// decodeItem parses a wire payload back into a queue item. Payloads
// without a job id are rejected so a poisoned message cannot dispatch an
// anonymous job.
func decodeItem(data []byte) (crawler.QueueItem, error) {
	var item crawler.QueueItem
	if err := json.Unmarshal(data, &item); err != nil {
		return crawler.QueueItem{}, fmt.Errorf("unmarshal queue item: %w", err)
	}
	if item.JobID == "" {
		return crawler.QueueItem{}, errors.New("queue item missing job id")
	}
	return item, nil
}
