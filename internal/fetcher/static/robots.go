package static

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

// ErrRobotsDisallowed marks a URL the site's robots.txt excludes.
var ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

// robotsCache fetches and caches one robots.txt ruleset per origin. A probe
// failure caches an allow-all group, matching the usual crawler convention
// that an unreachable robots.txt does not block the site.
type robotsCache struct {
	client    *http.Client
	userAgent string

	mu     sync.Mutex
	groups map[string]*robotstxt.Group
}

func newRobotsCache(client *http.Client, userAgent string) *robotsCache {
	if userAgent == "" {
		userAgent = "sitemirror"
	}
	return &robotsCache{
		client:    client,
		userAgent: userAgent,
		groups:    make(map[string]*robotstxt.Group),
	}
}

// Allowed reports whether rawURL may be fetched under the origin's
// robots.txt rules.
func (c *robotsCache) Allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("parse url: %w", err)
	}
	group, err := c.group(ctx, u.Scheme+"://"+u.Host)
	if err != nil {
		return false, err
	}
	return group.Test(u.EscapedPath()), nil
}

func (c *robotsCache) group(ctx context.Context, origin string) (*robotstxt.Group, error) {
	c.mu.Lock()
	if group, ok := c.groups[origin]; ok {
		c.mu.Unlock()
		return group, nil
	}
	c.mu.Unlock()

	group := c.probe(ctx, origin)

	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.groups[origin]; ok {
		return cached, nil
	}
	c.groups[origin] = group
	return group, nil
}

func (c *robotsCache) probe(ctx context.Context, origin string) *robotstxt.Group {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return allowAllGroup(c.userAgent)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return allowAllGroup(c.userAgent)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return allowAllGroup(c.userAgent)
	}
	return data.FindGroup(c.userAgent)
}

func allowAllGroup(userAgent string) *robotstxt.Group {
	data, _ := robotstxt.FromString("User-agent: *\nAllow: /")
	return data.FindGroup(userAgent)
}
