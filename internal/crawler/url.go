package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL so the visited set treats equivalent
// spellings as one page. It lowercases the scheme and host, removes default
// ports, strips the fragment and any trailing slash, and sorts query
// parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// ValidateRootURL normalizes a crawl root and rejects URLs that cannot
// anchor a crawl: non-HTTP schemes and empty hosts.
func ValidateRootURL(rawURL string) (string, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid root url: %w", err)
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return "", fmt.Errorf("invalid root url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return "", fmt.Errorf("root url %q must use http or https", rawURL)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("root url %q has no host", rawURL)
	}
	return normalized, nil
}

// SameHost reports whether two URLs share a host, treating www. as
// equivalent to the bare domain.
func SameHost(a, b string) bool {
	return hostLabel(a) != "" && hostLabel(a) == hostLabel(b)
}

// SameHostLabel compares two bare hostnames the same way SameHost compares
// full URLs.
func SameHostLabel(a, b string) bool {
	a = strings.TrimPrefix(strings.ToLower(a), "www.")
	b = strings.TrimPrefix(strings.ToLower(b), "www.")
	return a != "" && a == b
}

// hostLabel extracts the lowercased host with any www. prefix removed.
func hostLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// HostLabel is the exported form used for progress events and metrics.
func HostLabel(rawURL string) string {
	if label := hostLabel(rawURL); label != "" {
		return label
	}
	return "unknown"
}
