package static

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestRobotsCacheAllowsAndDenies(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	cache := newRobotsCache(server.Client(), "sitemirror")

	allowed, err := cache.Allowed(context.Background(), server.URL+"/public/page")
	if err != nil {
		t.Fatalf("Allowed() error = %v", err)
	}
	if !allowed {
		t.Fatal("public path should be allowed")
	}

	allowed, err = cache.Allowed(context.Background(), server.URL+"/private/page")
	if err != nil {
		t.Fatalf("Allowed() error = %v", err)
	}
	if allowed {
		t.Fatal("private path should be disallowed")
	}
}

func TestRobotsCacheFetchesOncePerOrigin(t *testing.T) {
	t.Parallel()

	var probes atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		probes.Add(1)
		_, _ = w.Write([]byte("User-agent: *\nAllow: /\n"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	cache := newRobotsCache(server.Client(), "sitemirror")
	for i := 0; i < 5; i++ {
		if _, err := cache.Allowed(context.Background(), server.URL+"/a"); err != nil {
			t.Fatalf("Allowed() error = %v", err)
		}
	}
	if got := probes.Load(); got != 1 {
		t.Fatalf("robots.txt fetched %d times, want 1", got)
	}
}

func TestRobotsCacheMissingFileAllowsAll(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(server.Close)

	cache := newRobotsCache(server.Client(), "sitemirror")
	allowed, err := cache.Allowed(context.Background(), server.URL+"/anything")
	if err != nil {
		t.Fatalf("Allowed() error = %v", err)
	}
	if !allowed {
		t.Fatal("missing robots.txt should allow all paths")
	}
}

func TestRobotsCacheUnreachableHostAllowsAll(t *testing.T) {
	t.Parallel()

	cache := newRobotsCache(&http.Client{}, "sitemirror")
	allowed, err := cache.Allowed(context.Background(), "http://127.0.0.1:1/page")
	if err != nil {
		t.Fatalf("Allowed() error = %v", err)
	}
	if !allowed {
		t.Fatal("unreachable robots.txt should fall back to allow-all")
	}
}
