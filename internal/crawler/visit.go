package crawler

import (
	"sync"
	"sync/atomic"
)

// visitTracker provides thread-safe visited URL tracking to prevent
// revisits. Keys are normalized URLs.
type visitTracker interface {
	MarkIfNew(url string) bool
	Count() int64
}

type concurrentVisitTracker struct {
	seen  sync.Map
	count atomic.Int64
}

func newConcurrentVisitTracker() *concurrentVisitTracker {
	return &concurrentVisitTracker{}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
// First caller wins; the depth recorded by that caller sticks.
func (t *concurrentVisitTracker) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := t.seen.LoadOrStore(url, struct{}{})
	if !loaded {
		t.count.Add(1)
	}
	return !loaded
}

// Count returns how many distinct URLs have been marked.
func (t *concurrentVisitTracker) Count() int64 {
	return t.count.Load()
}
