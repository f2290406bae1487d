package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/tamakara/bakabooru/internal/config"
	"github.com/tamakara/bakabooru/internal/models"
)

// QueryParser turns a natural-language query into tag constraints and,
// optionally, a text embedding for similarity ranking.
type QueryParser interface {
	ParseQuery(ctx context.Context, text string, wantEmbedding bool) (ParsedQuery, error)
}

// NewQueryParser prefers a direct LLM call when an API key is configured.
func NewQueryParser(client *Client, cfg config.LLMConfig) QueryParser {
	if cfg.APIKey == "" {
		return client
	}
	return NewLLMParser(cfg, client)
}

// LLMParser extracts tags with an OpenAI-compatible chat model. Embeddings
// still come from the AI service so they share the image embedding space.
type LLMParser struct {
	client   *openai.Client
	model    string
	embedder *Client
}

func NewLLMParser(cfg config.LLMConfig, embedder *Client) *LLMParser {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if embedder != nil {
		oc.HTTPClient = embedder.httpClient
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &LLMParser{
		client:   openai.NewClientWithConfig(oc),
		model:    model,
		embedder: embedder,
	}
}

const queryPrompt = `You convert image search requests into booru tags.
Reply with a JSON object {"positive": [...], "negative": [...]}.
Tags are lowercase, words joined by underscores, e.g. "long_hair".
"negative" holds things the user explicitly does not want.`

func (p *LLMParser) ParseQuery(ctx context.Context, text string, wantEmbedding bool) (ParsedQuery, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: queryPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return ParsedQuery{}, fmt.Errorf("%w: llm query: %v", models.ErrExternalService, err)
	}
	if len(resp.Choices) == 0 {
		return ParsedQuery{}, fmt.Errorf("%w: llm query: empty response", models.ErrExternalService)
	}

	var out struct {
		Positive []string `json:"positive"`
		Negative []string `json:"negative"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return ParsedQuery{}, fmt.Errorf("%w: llm query: parse response: %v", models.ErrExternalService, err)
	}

	parsed := ParsedQuery{Positive: normalizeTags(out.Positive), Negative: normalizeTags(out.Negative)}
	if wantEmbedding && p.embedder != nil {
		vec, err := p.embedder.EmbedText(ctx, text)
		if err != nil {
			return ParsedQuery{}, err
		}
		parsed.Embedding = vec
	}
	return parsed, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		t = strings.ReplaceAll(t, " ", "_")
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
