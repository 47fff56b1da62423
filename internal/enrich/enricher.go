// Package enrich derives page metadata from cleaned content, using an AI
// generator when credentials are configured and heuristics otherwise.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/mirrorlab/sitemirror/internal/crawler"
)

const defaultLanguage = "en"

// Enricher implements crawler.Enricher. Both the AI path and the heuristic
// path produce the same record shape; callers never branch on which ran.
type Enricher struct {
	gen          Generator
	hasher       crawler.Hasher
	clock        crawler.Clock
	language     string
	logger       *zap.Logger
	degradedOnce sync.Once
}

// NewEnricher creates an Enricher. gen may be nil, which pins the heuristic
// path. language is the fallback when the document declares none.
func NewEnricher(gen Generator, hasher crawler.Hasher, clk crawler.Clock, language string, logger *zap.Logger) (*Enricher, error) {
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if clk == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if strings.TrimSpace(language) == "" {
		language = defaultLanguage
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		gen:      gen,
		hasher:   hasher,
		clock:    clk,
		language: language,
		logger:   logger,
	}, nil
}

// Enrich derives the metadata record for one page. The hash arrays are
// appended by the caller once assets are resolved.
func (e *Enricher) Enrich(ctx context.Context, pageURL string, cleanedMarkdown string, rawHTML string) (crawler.PageRecord, error) {
	contentHash, err := e.hasher.Hash([]byte(cleanedMarkdown))
	if err != nil {
		return crawler.PageRecord{}, fmt.Errorf("hash content: %w", err)
	}

	language, title := documentFacts(rawHTML, e.language)
	description, keywords := e.describe(ctx, cleanedMarkdown, title)

	return crawler.PageRecord{
		CrawledAt:       e.clock.Now(),
		URL:             pageURL,
		Title:           title,
		ContentHash:     contentHash,
		Language:        language,
		EstimatedTokens: estimateTokens(cleanedMarkdown),
		Description:     description,
		Keywords:        keywords,
	}, nil
}

func (e *Enricher) describe(ctx context.Context, cleanedMarkdown string, title string) (string, []string) {
	if e.gen != nil && e.gen.Available() {
		desc, err := e.gen.Describe(ctx, cleanedMarkdown)
		if err == nil {
			keywords := desc.Keywords
			if len(keywords) > maxKeywords {
				keywords = keywords[:maxKeywords]
			}
			return desc.Description, keywords
		}
		e.logger.Warn("ai description failed, falling back to heuristic", zap.Error(err))
	} else {
		e.degradedOnce.Do(func() {
			e.logger.Warn("ai enrichment unavailable, using heuristic metadata")
		})
	}
	return heuristicDescription(cleanedMarkdown), heuristicKeywords(cleanedMarkdown, title)
}

// documentFacts reads the declared language and title out of the raw HTML.
// Language resolution: html lang attribute, og:locale meta, fallback.
func documentFacts(rawHTML string, fallback string) (string, string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return fallback, ""
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if lang := strings.TrimSpace(doc.Find("html").AttrOr("lang", "")); lang != "" {
		return primarySubtag(lang), title
	}
	if locale := strings.TrimSpace(doc.Find(`meta[property="og:locale"]`).AttrOr("content", "")); locale != "" {
		return primarySubtag(locale), title
	}
	return fallback, title
}

// primarySubtag reduces a language tag like de-DE or en_US to its primary
// subtag.
func primarySubtag(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		return tag[:i]
	}
	return tag
}

func estimateTokens(text string) int {
	return int(float64(len(strings.Fields(text))) * 1.3)
}
