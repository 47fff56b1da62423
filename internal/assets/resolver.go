// Package assets discovers in-page asset references and maintains the
// content-addressed asset store.
package assets

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mirrorlab/sitemirror/internal/crawler"
)

// documentExtensions are the link targets treated as downloadable files.
var documentExtensions = map[string]struct{}{
	".pdf":  {},
	".doc":  {},
	".docx": {},
	".xls":  {},
	".xlsx": {},
	".zip":  {},
	".rar":  {},
	".txt":  {},
}

// decorationTokens mark images that belong to page chrome rather than
// content. Matched as substrings of the URL or the alt text.
var decorationTokens = []string{
	"icon",
	"logo",
	"menu",
	"nav",
	"button",
	"arrow",
	"sprite",
	"header",
	"footer",
}

// Resolver extracts asset references from a page's content subtree.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Discover returns the image and file references found in contentHTML, in
// document order, resolved against baseURL and deduplicated per page. It
// never sees the full document, so chrome imagery outside the content
// subtree is excluded structurally; decoration-named images inside it are
// excluded by token filter.
func (r *Resolver) Discover(contentHTML string, baseURL string) ([]crawler.AssetRef, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(contentHTML))
	if err != nil {
		return nil, fmt.Errorf("parse content html: %w", err)
	}

	var refs []crawler.AssetRef
	seen := make(map[string]struct{})
	admit := func(ref crawler.AssetRef) {
		if _, dup := seen[ref.URL]; dup {
			return
		}
		seen[ref.URL] = struct{}{}
		refs = append(refs, ref)
	}

	doc.Find("img, a[href]").Each(func(_ int, sel *goquery.Selection) {
		switch goquery.NodeName(sel) {
		case "img":
			candidate := strings.TrimSpace(sel.AttrOr("src", ""))
			if srcset := strings.TrimSpace(sel.AttrOr("srcset", "")); srcset != "" {
				if best := bestSrcsetCandidate(srcset); best != "" {
					candidate = best
				}
			}
			alt := strings.TrimSpace(sel.AttrOr("alt", ""))
			abs, ok := resolveAssetURL(base, candidate)
			if !ok {
				return
			}
			if isDecoration(abs, alt) {
				return
			}
			admit(crawler.AssetRef{URL: abs, Kind: crawler.AssetKindImage, AltText: alt})
		case "a":
			href := strings.TrimSpace(sel.AttrOr("href", ""))
			abs, ok := resolveAssetURL(base, href)
			if !ok {
				return
			}
			parsed, err := url.Parse(abs)
			if err != nil {
				return
			}
			ext := strings.ToLower(path.Ext(parsed.Path))
			if _, isDoc := documentExtensions[ext]; !isDoc {
				return
			}
			admit(crawler.AssetRef{URL: abs, Kind: crawler.AssetKindFile})
		}
	})

	return refs, nil
}

// resolveAssetURL turns a raw attribute value into an absolute http(s) URL.
func resolveAssetURL(base *url.URL, raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	if strings.HasPrefix(strings.ToLower(raw), "data:") {
		return "", false
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(parsed)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if abs.Host == "" {
		return "", false
	}
	return abs.String(), true
}

func isDecoration(assetURL string, altText string) bool {
	loweredURL := strings.ToLower(assetURL)
	loweredAlt := strings.ToLower(altText)
	for _, token := range decorationTokens {
		if strings.Contains(loweredURL, token) || strings.Contains(loweredAlt, token) {
			return true
		}
	}
	return false
}

// bestSrcsetCandidate picks the URL with the largest resolution descriptor.
// Width descriptors (NNNw) count as-is; density descriptors (N.Nx) scale by
// 1000. Ties favor the last-listed candidate.
func bestSrcsetCandidate(srcset string) string {
	best := ""
	bestScore := -1
	for _, part := range strings.Split(srcset, ",") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) == 0 {
			continue
		}
		score := 0
		if len(fields) > 1 {
			score = descriptorScore(fields[1])
		}
		if score >= bestScore {
			best = fields[0]
			bestScore = score
		}
	}
	return best
}

func descriptorScore(descriptor string) int {
	descriptor = strings.ToLower(strings.TrimSpace(descriptor))
	switch {
	case strings.HasSuffix(descriptor, "w"):
		if n, err := strconv.Atoi(strings.TrimSuffix(descriptor, "w")); err == nil {
			return n
		}
	case strings.HasSuffix(descriptor, "x"):
		if f, err := strconv.ParseFloat(strings.TrimSuffix(descriptor, "x"), 64); err == nil {
			return int(f * 1000)
		}
	}
	return 0
}
