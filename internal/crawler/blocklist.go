package crawler

import "strings"

// domainBlocklist rejects hosts the crawl must never touch. Patterns come
// from configuration: a bare host blocks exactly that host, while "*.host"
// or ".host" also block every subdomain.
type domainBlocklist struct {
	exact    map[string]struct{}
	suffixes map[string]struct{}
}

// newDomainBlocklist parses patterns, returning nil when none survive so
// callers can skip the check entirely.
func newDomainBlocklist(patterns []string) *domainBlocklist {
	bl := &domainBlocklist{
		exact:    make(map[string]struct{}),
		suffixes: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		pattern := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case pattern == "":
		case strings.HasPrefix(pattern, "*."), strings.HasPrefix(pattern, "."):
			if suffix := strings.TrimLeft(pattern, "*."); suffix != "" {
				bl.suffixes[suffix] = struct{}{}
			}
		default:
			bl.exact[pattern] = struct{}{}
		}
	}
	if len(bl.exact)+len(bl.suffixes) == 0 {
		return nil
	}
	return bl
}

// IsBlocked reports whether host matches any pattern. A nil blocklist
// blocks nothing.
func (b *domainBlocklist) IsBlocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return false
	}
	if _, hit := b.exact[host]; hit {
		return true
	}
	for suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
