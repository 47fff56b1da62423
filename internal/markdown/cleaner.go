// Package markdown cleans converted page markdown for persistence.
package markdown

import (
	"regexp"
	"strings"
)

// Cleaner strips navigation debris, pagination controls, and duplicated
// blocks from raw markdown. Clean is pure and idempotent.
type Cleaner struct{}

// NewCleaner creates a Cleaner.
func NewCleaner() *Cleaner {
	return &Cleaner{}
}

const maxCleanRounds = 8

// Clean applies the pass sequence until the output is stable, so
// Clean(Clean(x)) == Clean(x).
func (c *Cleaner) Clean(raw string) string {
	current := raw
	for i := 0; i < maxCleanRounds; i++ {
		next := cleanOnce(current)
		if next == current {
			break
		}
		current = next
	}
	return current
}

func cleanOnce(raw string) string {
	lines := strings.Split(raw, "\n")
	lines = dropMatching(lines, navigationPatterns)
	lines = dropMatching(lines, paginationPatterns)
	lines = collapseDuplicateBlocks(lines)
	lines = collapseRepeatedLines(lines)
	lines = removeOrphanSeparators(lines)
	return collapseBlankRuns(strings.Join(lines, "\n"))
}

// navigationPatterns match menu clusters, skip links, and the bare symbol
// lines sliders and collapse controls leave behind. Matched against the
// lowercased line.
var navigationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*\[[^\]]*menu[^\]]*\]`),
	regexp.MustCompile(`^\s*\[[^\]]*nav[^\]]*\]`),
	regexp.MustCompile(`^\s*open submenu`),
	regexp.MustCompile(`^\s*close submenu`),
	regexp.MustCompile(`^\s*\+\s*$`),
	regexp.MustCompile(`^\s*-\s*$`),
	regexp.MustCompile(`^\s*×\s*$`),
	regexp.MustCompile(`^\s*zoom`),
	regexp.MustCompile(`^\s*slider`),
	regexp.MustCompile(`gehe zum`),
	regexp.MustCompile(`zur startseite`),
	regexp.MustCompile(`^\s*\[alle [^\]]*aufrufen`),
}

// paginationPatterns match pager link lines and numeric run lines. A line
// must consist entirely of numbers and pipes to count as a run, which keeps
// table rows with leading numeric cells intact.
var paginationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*\[\d+\]\(`),
	regexp.MustCompile(`^\s*\d+(\s*\|\s*\d+)+\s*\|?\s*$`),
	regexp.MustCompile(`^\s*\[prev\]`),
	regexp.MustCompile(`^\s*\[next\]`),
	regexp.MustCompile(`^\s*\[start\]`),
	regexp.MustCompile(`^\s*\[stop\]`),
	regexp.MustCompile(`^\s*\[zur.{0,2}ck\]`),
	regexp.MustCompile(`^\s*\[weiter\]`),
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

func dropMatching(lines []string, patterns []*regexp.Regexp) []string {
	out := lines[:0:0]
	for _, line := range lines {
		lowered := strings.ToLower(line)
		matched := false
		for _, pattern := range patterns {
			if pattern.MatchString(lowered) {
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		out = append(out, line)
	}
	return out
}

// collapseDuplicateBlocks drops lines whose 5-line window repeats a window
// seen earlier in the document. Only windows over 50 characters count, so
// short structural repetition survives. First occurrence wins.
func collapseDuplicateBlocks(lines []string) []string {
	const (
		window   = 5
		minChunk = 50
	)
	seen := make(map[string]struct{})
	out := lines[:0:0]
	for i := 0; i < len(lines); i++ {
		if i+window <= len(lines) {
			chunk := strings.TrimSpace(strings.Join(lines[i:i+window], "\n"))
			if len(chunk) > minChunk {
				if _, dup := seen[chunk]; dup {
					continue
				}
				seen[chunk] = struct{}{}
			}
		}
		out = append(out, lines[i])
	}
	return out
}

func collapseRepeatedLines(lines []string) []string {
	out := lines[:0:0]
	prev := ""
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && trimmed == prev {
			continue
		}
		out = append(out, line)
		prev = trimmed
	}
	return out
}

// removeOrphanSeparators drops table separator rows that do not directly
// follow a header row.
func removeOrphanSeparators(lines []string) []string {
	out := lines[:0:0]
	for _, line := range lines {
		if isSeparatorRow(line) && !attachedToHeader(out) {
			continue
		}
		out = append(out, line)
	}
	return out
}

func isSeparatorRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.Contains(trimmed, "-") || !strings.Contains(trimmed, "|") {
		return false
	}
	for _, r := range trimmed {
		switch r {
		case '-', '|', ':', ' ':
		default:
			return false
		}
	}
	return true
}

func attachedToHeader(kept []string) bool {
	if len(kept) == 0 {
		return false
	}
	prev := kept[len(kept)-1]
	return strings.Contains(prev, "|") && !isSeparatorRow(prev)
}

func collapseBlankRuns(text string) string {
	return strings.TrimSpace(blankRuns.ReplaceAllString(text, "\n\n"))
}
