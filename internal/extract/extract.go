// Package extract derives structure from fetched HTML: the document title,
// outbound links, the readability content subtree, and its markdown form.
package extract

import (
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

// Extraction is the structured view of one fetched page. ContentHTML is the
// subtree the asset resolver operates on; Links come from the full document.
type Extraction struct {
	Title       string
	Markdown    string
	Links       []string
	ContentHTML string
}

// Extractor parses fetched HTML and derives every downstream form. Safe for
// concurrent use.
type Extractor struct {
	converter *md.Converter
}

// New builds an Extractor with GitHub Flavored markdown rules.
func New() *Extractor {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	return &Extractor{converter: converter}
}

// Extract parses html and returns the page's structured forms. A readability
// failure falls back to the full document so downstream stages always have
// content to work with.
func (e *Extractor) Extract(htmlContent string, pageURL string) (Extraction, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return Extraction{}, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return Extraction{}, fmt.Errorf("parse html: %w", err)
	}

	out := Extraction{
		Title:       documentTitle(doc),
		Links:       documentLinks(doc, base),
		ContentHTML: e.contentSubtree(htmlContent, base),
	}

	markdown, err := e.converter.ConvertString(out.ContentHTML)
	if err != nil {
		return Extraction{}, fmt.Errorf("convert markdown: %w", err)
	}
	out.Markdown = strings.TrimSpace(markdown)
	return out, nil
}

func (e *Extractor) contentSubtree(htmlContent string, base *url.URL) string {
	article, err := readability.FromReader(strings.NewReader(htmlContent), base)
	if err != nil || strings.TrimSpace(article.Content) == "" {
		return htmlContent
	}
	return article.Content
}

// documentTitle prefers the <title> element, then the first h1.
func documentTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

// documentLinks returns every hyperlink target in document order, resolved
// against base with fragments stripped. Fragment-only and unparseable hrefs
// are dropped.
func documentLinks(doc *goquery.Document, base *url.URL) []string {
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		resolved.Fragment = ""
		links = append(links, resolved.String())
	})
	return links
}
