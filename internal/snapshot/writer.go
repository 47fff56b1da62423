// Package snapshot writes the on-disk layout for one crawl run: per-page
// directories under pages/ and the run summary at the site root.
package snapshot

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/mirrorlab/sitemirror/internal/crawler"
)

const summaryFilename = "crawl_summary.json"

// Writer persists page directories and the run summary under one site root.
// The asset store shares the same root with its images/ and files/ areas.
type Writer struct {
	root string
}

// NewWriter creates the site root and its pages/ area.
func NewWriter(root string) (*Writer, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("snapshot root is required")
	}
	if err := os.MkdirAll(filepath.Join(root, "pages"), 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot root: %w", err)
	}
	return &Writer{root: root}, nil
}

// Root returns the site root directory.
func (w *Writer) Root() string {
	return w.root
}

// WritePage persists one page directory: the raw fetch output, the raw and
// cleaned markdown, and the metadata record. Failed pages are written too,
// with whatever content they carry. Returns the page directory relative to
// the site root.
func (w *Writer) WritePage(node crawler.PageNode, cleanedMarkdown string, record crawler.PageRecord) (string, error) {
	relDir := path.Join("pages", PageDir(node.URL))
	dir := filepath.Join(w.root, filepath.FromSlash(relDir))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create page directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "raw.html"), []byte(node.RawHTML), 0o600); err != nil {
		return "", fmt.Errorf("write raw html: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "raw.md"), []byte(node.RawMarkdown), 0o600); err != nil {
		return "", fmt.Errorf("write raw markdown: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "content.md"), []byte(cleanedMarkdown), 0o600); err != nil {
		return "", fmt.Errorf("write cleaned markdown: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, "metadata.json"), record); err != nil {
		return "", err
	}
	return relDir, nil
}

// WriteSummary persists the run summary at the site root.
func (w *Writer) WriteSummary(summary crawler.RunSummary) error {
	return writeJSON(filepath.Join(w.root, summaryFilename), summary)
}

func writeJSON(filename string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(filename), err)
	}
	if err := os.WriteFile(filename, payload, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(filename), err)
	}
	return nil
}

// SiteLabel is the directory name for one site's snapshots: the lowercased
// host without its www. prefix.
func SiteLabel(rawURL string) string {
	label := sanitizeSegment(crawler.HostLabel(rawURL))
	if label == "" {
		return "unknown"
	}
	return label
}

// PageDir maps a page URL to its directory below pages/. Path segments
// become nested directories, the root path becomes index, and a query
// string adds a query_<digest> child so distinct queries get distinct
// directories.
func PageDir(pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "index"
	}

	var segments []string
	for _, segment := range strings.Split(parsed.Path, "/") {
		if cleaned := sanitizeSegment(segment); cleaned != "" {
			segments = append(segments, cleaned)
		}
	}
	if len(segments) == 0 {
		segments = []string{"index"}
	}

	if parsed.RawQuery != "" {
		sum := md5.Sum([]byte(parsed.RawQuery))
		segments = append(segments, "query_"+hex.EncodeToString(sum[:])[:8])
	}
	return path.Join(segments...)
}

// sanitizeSegment keeps letters, digits, dots, underscores and hyphens,
// replacing everything else with a hyphen. Segments that reduce to nothing
// (including . and ..) are dropped by the caller.
func sanitizeSegment(segment string) string {
	var b strings.Builder
	for _, r := range segment {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-.")
}
