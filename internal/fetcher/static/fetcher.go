// Package static implements the plain-HTTP fetch adapter on a Colly collector.
package static

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/mirrorlab/sitemirror/internal/crawler"
	"github.com/mirrorlab/sitemirror/internal/extract"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher implements crawler.Fetcher using the Colly collector. Robots
// gating happens before the request; the collector itself never consults
// robots.txt so the policy is applied exactly once.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	extractor     *extract.Extractor
	robots        *robotsCache
}

// New builds a Fetcher.
func New(cfg Config, extractor *extract.Extractor) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	transport := newHTTPTransport()
	c.WithTransport(transport)

	var robots *robotsCache
	if cfg.RespectRobots {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 15 * time.Second
		}
		robots = newRobotsCache(&http.Client{Transport: transport, Timeout: timeout}, cfg.UserAgent)
	}

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		extractor:     extractor,
		robots:        robots,
	}
}

// Fetch executes a single HTTP GET and extracts the page's structured forms.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if f.robots != nil {
		allowed, err := f.robots.Allowed(ctx, request.URL)
		if err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("robots probe: %w", err)
		}
		if !allowed {
			return crawler.FetchResponse{}, &crawler.FetchError{URL: request.URL, Err: ErrRobotsDisallowed}
		}
	}

	var (
		status   int
		body     []byte
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(&status, &body, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawler.FetchResponse{}, fmt.Errorf("static fetch canceled: %w", ctxErr)
		}
		return crawler.FetchResponse{}, &crawler.FetchError{URL: request.URL, Status: status, Err: err}
	}
	if fetchErr != nil {
		return crawler.FetchResponse{}, &crawler.FetchError{URL: request.URL, Status: status, Err: fetchErr}
	}
	if status < 200 || status >= 300 {
		return crawler.FetchResponse{}, &crawler.FetchError{URL: request.URL, Status: status}
	}

	html := string(body)
	extraction, err := f.extractor.Extract(html, request.URL)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("extract page: %w", err)
	}
	return crawler.FetchResponse{
		URL:         request.URL,
		StatusCode:  status,
		HTML:        html,
		Markdown:    extraction.Markdown,
		Title:       extraction.Title,
		Links:       extraction.Links,
		ContentHTML: extraction.ContentHTML,
		Via:         crawler.FetchViaStatic,
		Duration:    time.Since(start),
	}, nil
}

func (f *Fetcher) buildCollector(status *int, body *[]byte, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)

	collector.OnResponse(func(r *colly.Response) {
		*status = r.StatusCode
		*body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			*status = r.StatusCode
		}
		*fetchErr = err
	})
	return collector
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
