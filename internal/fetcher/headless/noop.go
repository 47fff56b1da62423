package headless

import (
	"context"
	"errors"

	"github.com/mirrorlab/sitemirror/internal/crawler"
)

// ErrNotConfigured is returned by the noop fetcher for every request.
var ErrNotConfigured = errors.New("headless fetcher not configured")

// Noop satisfies crawler.Fetcher without a browser. It lets the engine run
// with headless promotion disabled while keeping the wiring uniform.
type Noop struct{}

// NewNoop creates a disabled headless fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with ErrNotConfigured.
func (n *Noop) Fetch(_ context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{}, &crawler.FetchError{URL: request.URL, Err: ErrNotConfigured}
}
