package crawler

import (
	"net/url"
	"path"
	"strings"
)

// binaryExtensions are document and media suffixes that never lead to
// crawlable HTML. Links carrying them are handed to the asset pipeline
// instead of the frontier.
var binaryExtensions = map[string]struct{}{
	".pdf":  {},
	".doc":  {},
	".docx": {},
	".xls":  {},
	".xlsx": {},
	".zip":  {},
	".rar":  {},
	".txt":  {},
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".svg":  {},
	".webp": {},
	".mp3":  {},
	".mp4":  {},
}

// authPathTokens mark account pages that produce session noise rather
// than content.
var authPathTokens = []string{
	"login",
	"logout",
	"signin",
	"signout",
	"signup",
	"register",
}

// linkFilter decides which discovered hyperlinks enter the frontier.
type linkFilter struct {
	rootHost       string
	sameDomainOnly bool
	blocklist      *domainBlocklist
}

func newLinkFilter(rootURL string, sameDomainOnly bool, blocklist *domainBlocklist) (*linkFilter, error) {
	parsed, err := url.Parse(rootURL)
	if err != nil {
		return nil, err
	}
	return &linkFilter{
		rootHost:       strings.ToLower(parsed.Hostname()),
		sameDomainOnly: sameDomainOnly,
		blocklist:      blocklist,
	}, nil
}

// Admit reports whether link belongs in the crawl frontier. Links it
// rejects are either noise (scripts, fragments, auth pages) or binary
// payloads that the asset store handles separately.
func (f *linkFilter) Admit(link string) bool {
	link = strings.TrimSpace(link)
	if link == "" {
		return false
	}
	if strings.HasPrefix(link, "#") {
		return false
	}
	parsed, err := url.Parse(link)
	if err != nil {
		return false
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	case "":
		return false
	default:
		// javascript:, mailto:, tel:, data: and friends.
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return false
	}
	if f.blocklist.IsBlocked(host) {
		return false
	}
	if f.sameDomainOnly && !SameHostLabel(f.rootHost, host) {
		return false
	}
	lowerPath := strings.ToLower(parsed.Path)
	if isBinaryPath(lowerPath) {
		return false
	}
	for _, token := range authPathTokens {
		if pathContainsSegment(lowerPath, token) {
			return false
		}
	}
	return true
}

func isBinaryPath(lowerPath string) bool {
	ext := path.Ext(lowerPath)
	if ext == "" {
		return false
	}
	_, binary := binaryExtensions[ext]
	return binary
}

func pathContainsSegment(lowerPath, token string) bool {
	for _, segment := range strings.Split(lowerPath, "/") {
		if segment == token {
			return true
		}
	}
	return false
}
