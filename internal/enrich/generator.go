package enrich

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Description is the AI-produced page summary.
type Description struct {
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
}

// Generator is the AI capability behind enrichment. It may be unavailable,
// in which case callers fall back to heuristics.
type Generator interface {
	Available() bool
	Describe(ctx context.Context, text string) (Description, error)
	AltText(ctx context.Context, image []byte) (string, error)
}

// GeneratorConfig configures the OpenAI-compatible generator.
type GeneratorConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

const (
	defaultGeneratorBaseURL = "https://api.openai.com/v1"
	defaultGeneratorModel   = "gpt-4o-mini"
	defaultGeneratorTimeout = 30 * time.Second

	// describePreviewLimit bounds the content sent per describe call.
	describePreviewLimit = 8000
)

const describePrompt = `Analyze this website content and produce:
1. A concise description (1-2 sentences, max 200 characters) summarizing the main content
2. The 10 most important keywords (as an array)

Answer ONLY with a JSON object of this shape:
{"description": "...", "keywords": ["...", "..."]}

Content:
`

const altTextPrompt = "Describe this image in one or two concise sentences for use as alt text. " +
	"Focus on the subject and its context. Answer ONLY with the description."

// OpenAIGenerator talks to an OpenAI-compatible chat completions endpoint.
type OpenAIGenerator struct {
	cfg    GeneratorConfig
	client *http.Client
}

// NewOpenAIGenerator creates the generator. Without an API key it reports
// unavailable and never issues requests.
func NewOpenAIGenerator(cfg GeneratorConfig) *OpenAIGenerator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeneratorBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeneratorModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGeneratorTimeout
	}
	return &OpenAIGenerator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Available reports whether an API key is configured.
func (g *OpenAIGenerator) Available() bool {
	return strings.TrimSpace(g.cfg.APIKey) != ""
}

// Describe summarizes page text into a description and keyword list.
func (g *OpenAIGenerator) Describe(ctx context.Context, text string) (Description, error) {
	content, err := g.complete(ctx, chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "user", Content: describePrompt + truncateRunes(text, describePreviewLimit)},
		},
		MaxTokens: 300,
	})
	if err != nil {
		return Description{}, err
	}

	var desc Description
	if err := json.Unmarshal([]byte(stripCodeFences(content)), &desc); err != nil {
		return Description{}, fmt.Errorf("parse generator response: %w", err)
	}
	return desc, nil
}

// AltText describes an image for use as alt text.
func (g *OpenAIGenerator) AltText(ctx context.Context, image []byte) (string, error) {
	dataURL := "data:" + http.DetectContentType(image) + ";base64," + base64.StdEncoding.EncodeToString(image)
	content, err := g.complete(ctx, chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []chatContentPart{
					{Type: "text", Text: altTextPrompt},
					{Type: "image_url", ImageURL: &chatImageURL{URL: dataURL}},
				},
			},
		},
		MaxTokens: 200,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (g *OpenAIGenerator) complete(ctx context.Context, payload chatRequest) (string, error) {
	if !g.Available() {
		return "", fmt.Errorf("generator has no api key")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal generator request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call generator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("generator status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode generator response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("generator returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func stripCodeFences(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
