package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart     Stage = "RUN_START"
	StageRunDone      Stage = "RUN_DONE"
	StageRunError     Stage = "RUN_ERROR"
	StagePageStart    Stage = "PAGE_START"
	StagePageDone     Stage = "PAGE_DONE"
	StagePageError    Stage = "PAGE_ERROR"
	StageAssetStored  Stage = "ASSET_STORED"
	StageAssetDedup   Stage = "ASSET_DEDUP"
	StageAssetSkipped Stage = "ASSET_SKIPPED"
	StageEnrichDone   Stage = "ENRICH_DONE"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for page completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single milestone of crawl progress.
type Event struct {
	// RunID uniquely identifies the crawl run the event belongs to.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle, page, or asset milestone occurred.
	Stage Stage
	// Site scopes the event to a host label.
	Site string
	// URL is the optional page or asset URL; it should not contain credentials.
	URL string
	// Depth is the traversal depth for page events.
	Depth int
	// Bytes carries the payload size for page and asset events.
	Bytes int64
	// Visits increments by one for each successful page completion.
	Visits int64
	// StatusClass groups HTTP response codes (2xx, 3xx, etc).
	StatusClass StatusClass
	// Dur captures execution latency for fetches and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StageEnrichDone:
	case StagePageStart, StagePageError:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	case StagePageDone:
		if e.URL == "" {
			return errors.New("page done requires url")
		}
		if e.StatusClass == "" {
			return errors.New("page done requires status class")
		}
	case StageAssetStored, StageAssetDedup, StageAssetSkipped:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Depth < 0 {
		return errors.New("depth must be >= 0")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for page events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
