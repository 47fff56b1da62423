package crawler

import (
	"fmt"
	"sync"
	"testing"
)

func TestVisitTrackerMarkIfNew(t *testing.T) {
	t.Parallel()

	tracker := newConcurrentVisitTracker()
	if !tracker.MarkIfNew("https://example.com/a") {
		t.Fatal("first mark should report new")
	}
	if tracker.MarkIfNew("https://example.com/a") {
		t.Fatal("second mark should report seen")
	}
	if tracker.MarkIfNew("") {
		t.Fatal("empty URL should never be marked")
	}
	if got := tracker.Count(); got != 1 {
		t.Fatalf("Count() = %d, want 1", got)
	}
}

func TestVisitTrackerConcurrentFirstWins(t *testing.T) {
	t.Parallel()

	tracker := newConcurrentVisitTracker()
	const goroutines = 32
	const urls = 10

	var wg sync.WaitGroup
	wins := make(chan string, goroutines*urls)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < urls; i++ {
				u := fmt.Sprintf("https://example.com/page-%d", i)
				if tracker.MarkIfNew(u) {
					wins <- u
				}
			}
		}()
	}
	wg.Wait()
	close(wins)

	seen := make(map[string]int)
	for u := range wins {
		seen[u]++
	}
	if len(seen) != urls {
		t.Fatalf("expected %d distinct winners, got %d", urls, len(seen))
	}
	for u, n := range seen {
		if n != 1 {
			t.Fatalf("url %s won %d times, want exactly 1", u, n)
		}
	}
	if got := tracker.Count(); got != urls {
		t.Fatalf("Count() = %d, want %d", got, urls)
	}
}
