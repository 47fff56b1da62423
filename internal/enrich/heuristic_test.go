package enrich

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestHeuristicDescriptionFirstSubstantialLine(t *testing.T) {
	t.Parallel()

	markdown := `# Überschrift

[12](/archiv)
mehr ...

Die Stadtwerke Hürth versorgen rund 60.000 Menschen mit Strom, Gas und Trinkwasser aus regionalen Quellen.

Zweiter Absatz folgt hier.`

	got := heuristicDescription(markdown)
	require.Equal(t, "Die Stadtwerke Hürth versorgen rund 60.000 Menschen mit Strom, Gas und Trinkwasser aus regionalen Quellen.", got)
}

func TestHeuristicDescriptionStripsMarkdownStructure(t *testing.T) {
	t.Parallel()

	markdown := "![Turbine](turbine.jpg) Der [Netzbetreiber](https://netz.example) erweitert die *Kapazität* für über vierzigtausend Haushalte im Umland erheblich."
	got := heuristicDescription(markdown)
	require.Equal(t, "Der Netzbetreiber erweitert die Kapazität für über vierzigtausend Haushalte im Umland erheblich.", got)
}

func TestHeuristicDescriptionTruncatesLongLines(t *testing.T) {
	t.Parallel()

	line := strings.TrimSpace(strings.Repeat("Die Anlage liefert verlässlich Strom für die Region. ", 6))
	require.Greater(t, utf8.RuneCountInString(line), 200)

	got := heuristicDescription(line)
	require.LessOrEqual(t, utf8.RuneCountInString(got), 200)
	require.True(t, strings.HasSuffix(got, "..."))

	prefix := strings.TrimSuffix(got, "...")
	require.True(t, strings.HasPrefix(line, prefix))
	require.Equal(t, " ", string(line[len(prefix)]))
}

func TestHeuristicDescriptionAccumulatesShortLines(t *testing.T) {
	t.Parallel()

	markdown := strings.Join([]string{
		"Kurzer Hinweis zu den Zeiten.",
		"Geöffnet von acht bis zwölf Uhr.",
		"Nachmittags nur mit Termin.",
		"Samstags bleibt geschlossen.",
		"Diese Zeile wird nicht mehr gebraucht.",
	}, "\n")

	got := heuristicDescription(markdown)
	want := "Kurzer Hinweis zu den Zeiten. Geöffnet von acht bis zwölf Uhr. Nachmittags nur mit Termin. Samstags bleibt geschlossen."
	require.Equal(t, want, got)
}

func TestHeuristicDescriptionFallback(t *testing.T) {
	t.Parallel()

	require.Equal(t, "No description available", heuristicDescription("42\n\nmehr ...\nweiter"))
	require.Equal(t, "No description available", heuristicDescription(""))
}

func TestHeuristicKeywordsFrequencyRanking(t *testing.T) {
	t.Parallel()

	markdown := "Energie für die Region. Energie aus Wasser und Sonne. " +
		"Wasser speist das Netz, und das Netz wächst. Energie bleibt bezahlbar."

	got := heuristicKeywords(markdown, "Bericht")
	require.Equal(t, []string{"energie", "netz", "wasser"}, got)
}

func TestHeuristicKeywordsTopThreeWhenNothingRepeats(t *testing.T) {
	t.Parallel()

	got := heuristicKeywords("Vertrag Laufzeit Kündigung online verwalten", "")
	require.Equal(t, []string{"kündigung", "laufzeit", "online"}, got)
}

func TestHeuristicKeywordsStopwordsAndCap(t *testing.T) {
	t.Parallel()

	terms := []string{
		"anlage", "betrieb", "leitung", "messung", "prüfung", "speicher",
		"station", "tarif", "umspann", "verbrauch", "wartung", "zähler",
	}
	markdown := strings.Repeat(strings.Join(terms, " ")+" ", 2) + "werden werden werden über über"

	got := heuristicKeywords(markdown, "")
	require.Len(t, got, 10)
	require.Equal(t, terms[:10], got)
	require.NotContains(t, got, "werden")
	require.NotContains(t, got, "über")
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	require.Equal(t, 5, estimateTokens("eins zwei drei vier"))
	require.Equal(t, 0, estimateTokens(""))
	require.Equal(t, 1, estimateTokens("wort"))
}

func TestPrimarySubtag(t *testing.T) {
	t.Parallel()

	require.Equal(t, "de", primarySubtag("de-DE"))
	require.Equal(t, "en", primarySubtag("en_US"))
	require.Equal(t, "fr", primarySubtag("FR"))
	require.Equal(t, "", primarySubtag(""))
}
