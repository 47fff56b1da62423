package crawler

import (
	"errors"
	"fmt"
)

// ErrAssetNotFound signals a hash lookup against the store missed.
var ErrAssetNotFound = errors.New("asset not found")

// ErrCanceled signals the run was canceled before completing.
var ErrCanceled = errors.New("crawl canceled")

// FetchError reports a failed page fetch. It is recorded on the page node;
// traversal continues.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DownloadError reports a failed asset download. The reference is dropped;
// page processing continues.
type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// IntegrityError reports a digest mismatch while finalizing an asset write.
// The partial write is discarded, never promoted.
type IntegrityError struct {
	Hash     string
	Expected string
	Computed string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check for %s: expected %s, computed %s", e.Hash, e.Expected, e.Computed)
}
