// Package detector decides when to promote crawls to headless renderers.
package detector

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mirrorlab/sitemirror/internal/crawler"
)

// scriptDensityMin is the percent of script bytes at which a thin page is
// assumed to render client side.
const scriptDensityMin = 25

// Heuristic promotes pages that look like JavaScript shells: little visible
// text combined with framework markers or heavy script payloads.
type Heuristic struct {
	TextLengthThreshold int
}

// NewHeuristic creates a detector. Pages whose visible text is shorter than
// threshold characters count as thin and become promotion candidates.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = 200
	}
	return &Heuristic{TextLengthThreshold: threshold}
}

// spaMarkers are mount points and attributes the common client side
// frameworks leave in their bootstrap HTML.
var spaMarkers = []string{
	"__next",
	`id="root"`,
	`id="app"`,
	"data-reactroot",
	"data-v-app",
	"ng-version",
}

// ShouldPromote decides whether a headless refetch is required.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode != 200 {
		return false
	}
	html := resp.HTML
	if strings.TrimSpace(html) == "" {
		return true
	}
	if visibleTextLength(html) >= h.TextLengthThreshold {
		return false
	}
	lower := strings.ToLower(html)
	for _, marker := range spaMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return scriptDensity(lower) >= scriptDensityMin
}

// visibleTextLength measures the text a reader would see, with script,
// style, and noscript subtrees removed.
func visibleTextLength(html string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0
	}
	doc.Find("script, style, noscript").Remove()
	return len(strings.TrimSpace(doc.Text()))
}

// scriptDensity returns the share of the document, in percent, covered by
// script elements and their payloads. Unterminated scripts count through to
// the end of the document.
func scriptDensity(lower string) int {
	const (
		scriptOpen  = "<script"
		scriptClose = "</script>"
	)
	if len(lower) == 0 {
		return 0
	}
	covered := 0
	for cursor := 0; cursor < len(lower); {
		idx := strings.Index(lower[cursor:], scriptOpen)
		if idx < 0 {
			break
		}
		start := cursor + idx
		end := len(lower)
		if gt := strings.IndexByte(lower[start:], '>'); gt >= 0 {
			if rest := strings.Index(lower[start+gt+1:], scriptClose); rest >= 0 {
				end = start + gt + 1 + rest + len(scriptClose)
			}
		}
		covered += end - start
		cursor = end
	}
	return covered * 100 / len(lower)
}
