package enrich

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxKeywords        = 10
	keywordCandidates  = 15
	minKeywordsKept    = 3
	descriptionMaxLen  = 200
	descriptionWindow  = 197
	noDescription      = "No description available"
	minDescriptionLen  = 50
	minLetterCount     = 40
	accumulatedMinimum = 100
)

var (
	imageMarkdown    = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	linkMarkdown     = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	headingMarks     = regexp.MustCompile(`(?m)^#+\s+`)
	bareURLs         = regexp.MustCompile(`https?://\S+`)
	emailAddresses   = regexp.MustCompile(`\S+@\S+`)
	emphasisStripper = strings.NewReplacer("*", "", "_", "", "`", "")
	keywordNoise     = strings.NewReplacer("#", " ", "*", " ", "`", " ", "[", " ", "]", " ", "(", " ", ")", " ")
)

// descriptionSkips match filler lines that never make a good description.
// Matched against the lowercased line.
var descriptionSkips = []*regexp.Regexp{
	regexp.MustCompile(`^mehr\s*\.{0,3}\s*$`),
	regexp.MustCompile(`^\d+\s*$`),
	regexp.MustCompile(`^weiter$`),
	regexp.MustCompile(`^zur.{0,2}ck$`),
}

// stopwords are dropped from keyword candidates. The set mixes markup
// debris with high-frequency German and English function words.
var stopwords = map[string]struct{}{
	"http": {}, "https": {}, "html": {}, "href": {}, "link": {}, "site": {}, "page": {},
	"mehr": {}, "weiter": {}, "zurück": {}, "next": {}, "prev": {}, "navigation": {},
	"menu": {}, "header": {}, "footer": {}, "mail": {}, "email": {}, "info": {},
	"alle": {}, "dieser": {}, "diese": {}, "dieses": {}, "haben": {}, "wird": {},
	"sind": {}, "sein": {}, "auch": {}, "sich": {}, "nach": {}, "oder": {}, "kann": {},
	"über": {}, "beim": {}, "muss": {}, "etwa": {}, "dass": {}, "noch": {}, "hier": {},
	"dann": {}, "ihnen": {}, "seine": {}, "ihre": {}, "ihrer": {}, "einen": {}, "einem": {},
	"einer": {}, "werden": {}, "wurde": {}, "wurden": {}, "worden": {}, "damit": {},
}

// heuristicDescription picks the first substantial line of the stripped
// markdown. When no single line qualifies, consecutive lines accumulate
// until they carry enough text.
func heuristicDescription(markdown string) string {
	text := stripMarkdown(markdown)

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if matchesAny(descriptionSkips, strings.ToLower(line)) {
			continue
		}
		if strings.HasSuffix(line, "»") || strings.HasSuffix(line, "...") {
			continue
		}
		lines = append(lines, line)
	}

	for _, line := range lines {
		if len(line) >= minDescriptionLen && letterCount(line) >= minLetterCount {
			return truncateDescription(line)
		}
	}

	var accumulated []string
	total := 0
	for _, line := range lines {
		accumulated = append(accumulated, line)
		total += utf8.RuneCountInString(line)
		if total >= accumulatedMinimum {
			return truncateDescription(strings.Join(accumulated, " "))
		}
	}
	return noDescription
}

// heuristicKeywords ranks the non-stopword terms of title plus content by
// frequency, count descending then alphabetical. The top candidates are
// kept when they repeat; when almost nothing repeats the best three stand.
func heuristicKeywords(markdown string, title string) []string {
	text := strings.ToLower(title + " " + markdown)
	text = keywordNoise.Replace(text)
	text = bareURLs.ReplaceAllString(text, " ")
	text = emailAddresses.ReplaceAllString(text, " ")

	freq := make(map[string]int)
	for _, word := range strings.FieldsFunc(text, notLetter) {
		if utf8.RuneCountInString(word) < 4 {
			continue
		}
		if _, stop := stopwords[word]; stop {
			continue
		}
		freq[word]++
	}

	type wordCount struct {
		word  string
		count int
	}
	ranked := make([]wordCount, 0, len(freq))
	for word, count := range freq {
		ranked = append(ranked, wordCount{word: word, count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})
	if len(ranked) > keywordCandidates {
		ranked = ranked[:keywordCandidates]
	}

	var keywords []string
	for _, wc := range ranked {
		if wc.count >= 2 || len(keywords) < minKeywordsKept {
			keywords = append(keywords, wc.word)
		}
		if len(keywords) >= maxKeywords {
			break
		}
	}
	return keywords
}

func stripMarkdown(markdown string) string {
	text := imageMarkdown.ReplaceAllString(markdown, "")
	text = linkMarkdown.ReplaceAllString(text, "$1")
	text = headingMarks.ReplaceAllString(text, "")
	text = emphasisStripper.Replace(text)
	text = bareURLs.ReplaceAllString(text, "")
	return emailAddresses.ReplaceAllString(text, "")
}

func truncateDescription(line string) string {
	if utf8.RuneCountInString(line) <= descriptionMaxLen {
		return line
	}
	truncated := string([]rune(line)[:descriptionWindow])
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > 0 {
		truncated = truncated[:lastSpace]
	}
	return truncated + "..."
}

func matchesAny(patterns []*regexp.Regexp, line string) bool {
	for _, pattern := range patterns {
		if pattern.MatchString(line) {
			return true
		}
	}
	return false
}

func letterCount(line string) int {
	count := 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			count++
		}
	}
	return count
}

func notLetter(r rune) bool {
	return !unicode.IsLetter(r)
}
