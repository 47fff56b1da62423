package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func chatCompletionBody(t *testing.T, content string) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	require.NoError(t, err)
	return string(body)
}

func TestOpenAIGeneratorAvailability(t *testing.T) {
	t.Parallel()

	gen := NewOpenAIGenerator(GeneratorConfig{})
	require.False(t, gen.Available())

	_, err := gen.Describe(context.Background(), "Inhalt")
	require.ErrorContains(t, err, "no api key")

	gen = NewOpenAIGenerator(GeneratorConfig{APIKey: "  "})
	require.False(t, gen.Available())

	gen = NewOpenAIGenerator(GeneratorConfig{APIKey: "sk-test"})
	require.True(t, gen.Available())
}

func TestOpenAIGeneratorDescribe(t *testing.T) {
	t.Parallel()

	var captured struct {
		path      string
		auth      string
		model     string
		maxTokens int
		prompt    string
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.path = r.URL.Path
		captured.auth = r.Header.Get("Authorization")

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			MaxTokens int `json:"max_tokens"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		captured.model = req.Model
		captured.maxTokens = req.MaxTokens
		require.Len(t, req.Messages, 1)
		captured.prompt = req.Messages[0].Content

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletionBody(t, "```json\n{\"description\":\"Eine Seite über Energieversorgung.\",\"keywords\":[\"energie\",\"versorgung\"]}\n```")))
	}))
	defer server.Close()

	gen := NewOpenAIGenerator(GeneratorConfig{
		APIKey:  "sk-test",
		BaseURL: server.URL,
		Model:   "test-model",
		Timeout: 5 * time.Second,
	})

	desc, err := gen.Describe(context.Background(), "Die Stadtwerke versorgen die Region.")
	require.NoError(t, err)
	require.Equal(t, "Eine Seite über Energieversorgung.", desc.Description)
	require.Equal(t, []string{"energie", "versorgung"}, desc.Keywords)

	require.Equal(t, "/chat/completions", captured.path)
	require.Equal(t, "Bearer sk-test", captured.auth)
	require.Equal(t, "test-model", captured.model)
	require.Equal(t, 300, captured.maxTokens)
	require.True(t, strings.HasSuffix(captured.prompt, "Die Stadtwerke versorgen die Region."))
}

func TestOpenAIGeneratorDescribeRejectsBadJSON(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(chatCompletionBody(t, "Hier ist die Beschreibung, ganz ohne JSON.")))
	}))
	defer server.Close()

	gen := NewOpenAIGenerator(GeneratorConfig{APIKey: "sk-test", BaseURL: server.URL})
	_, err := gen.Describe(context.Background(), "Inhalt")
	require.ErrorContains(t, err, "parse generator response")
}

func TestOpenAIGeneratorAltText(t *testing.T) {
	t.Parallel()

	var parts []chatContentPart
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content []chatContentPart `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		parts = req.Messages[0].Content

		_, _ = w.Write([]byte(chatCompletionBody(t, "  Ein Backsteinturm am Flussufer.\n")))
	}))
	defer server.Close()

	gen := NewOpenAIGenerator(GeneratorConfig{APIKey: "sk-test", BaseURL: server.URL})
	alt, err := gen.AltText(context.Background(), []byte("GIF89a fake image bytes"))
	require.NoError(t, err)
	require.Equal(t, "Ein Backsteinturm am Flussufer.", alt)

	require.Len(t, parts, 2)
	require.Equal(t, "text", parts[0].Type)
	require.NotEmpty(t, parts[0].Text)
	require.Equal(t, "image_url", parts[1].Type)
	require.NotNil(t, parts[1].ImageURL)
	require.True(t, strings.HasPrefix(parts[1].ImageURL.URL, "data:"))
	require.Contains(t, parts[1].ImageURL.URL, ";base64,")
}

func TestOpenAIGeneratorErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusInternalServerError)
	}))
	defer server.Close()

	gen := NewOpenAIGenerator(GeneratorConfig{APIKey: "sk-test", BaseURL: server.URL})
	_, err := gen.Describe(context.Background(), "Inhalt")
	require.ErrorContains(t, err, "generator status 500")
	require.ErrorContains(t, err, "upstream down")
}

func TestOpenAIGeneratorEmptyChoices(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	gen := NewOpenAIGenerator(GeneratorConfig{APIKey: "sk-test", BaseURL: server.URL})
	_, err := gen.Describe(context.Background(), "Inhalt")
	require.ErrorContains(t, err, "no choices")
}

func TestStripCodeFences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"{\"a\":1}", "{\"a\":1}"},
		{"```json\n{\"a\":1}\n```", "{\"a\":1}"},
		{"```\n{\"a\":1}\n```", "{\"a\":1}"},
		{"  {\"a\":1}  ", "{\"a\":1}"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, stripCodeFences(tt.in))
	}
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()

	require.Equal(t, "abc", truncateRunes("abc", 5))
	require.Equal(t, "abc", truncateRunes("abcde", 3))
	require.Equal(t, "äöü", truncateRunes("äöüß", 3))
}
