package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/tamakara/bakabooru/internal/config"
	"github.com/tamakara/bakabooru/internal/models"
)

// TagScore is one tag proposed by the tagger with its confidence.
type TagScore struct {
	Name  string
	Type  string
	Score float64
}

// ParsedQuery is the structured form of a natural-language search.
type ParsedQuery struct {
	Positive  []string
	Negative  []string
	Embedding []float32
}

// Client talks to the AI service over HTTP/JSON. Objects are referenced by
// their storage key; the service reads them from the object store itself.
type Client struct {
	baseURL    string
	httpClient *http.Client
	llm        config.LLMConfig
}

func NewClient(cfg config.AIConfig, llm config.LLMConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		llm:        llm,
	}
}

type tagImageRequest struct {
	ObjectName string  `json:"object_name"`
	Threshold  float64 `json:"threshold"`
}

type tagImageResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type embedImageRequest struct {
	ObjectName string `json:"object_name"`
}

type embeddingResponse struct {
	Success   bool      `json:"success"`
	Text      string    `json:"text,omitempty"`
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error"`
}

type queryRequest struct {
	Query     string `json:"query"`
	LLMURL    string `json:"llm_url"`
	LLMModel  string `json:"llm_model"`
	LLMAPIKey string `json:"llm_api_key"`
}

type tagsResponse struct {
	Success  bool     `json:"success"`
	Positive []string `json:"positive"`
	Negative []string `json:"negative"`
	Error    string   `json:"error"`
}

// TagImage returns the tags scored at or above threshold, highest first.
func (c *Client) TagImage(ctx context.Context, objectName string, threshold float64) ([]TagScore, error) {
	var resp tagImageResponse
	if err := c.post(ctx, "/tag/image", tagImageRequest{ObjectName: objectName, Threshold: threshold}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, remoteError("tag image", resp.Error)
	}
	tags, err := decodeTagData(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: tag image: %v", models.ErrExternalService, err)
	}

	kept := tags[:0]
	for _, t := range tags {
		if t.Score >= threshold {
			kept = append(kept, t)
		}
	}
	return kept, nil
}

// decodeTagData accepts either {name: score} or {type: {name: score}}.
func decodeTagData(raw json.RawMessage) ([]TagScore, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []TagScore{}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode tag data: %w", err)
	}

	tags := make([]TagScore, 0, len(fields))
	for key, value := range fields {
		var score float64
		if err := json.Unmarshal(value, &score); err == nil {
			tags = append(tags, TagScore{Name: key, Type: models.TagTypeGeneral, Score: score})
			continue
		}
		var group map[string]float64
		if err := json.Unmarshal(value, &group); err != nil {
			return nil, fmt.Errorf("decode tag group %q: %w", key, err)
		}
		for name, s := range group {
			tags = append(tags, TagScore{Name: name, Type: key, Score: s})
		}
	}

	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Score != tags[j].Score {
			return tags[i].Score > tags[j].Score
		}
		return tags[i].Name < tags[j].Name
	})
	return tags, nil
}

func (c *Client) EmbedImage(ctx context.Context, objectName string) ([]float32, error) {
	var resp embeddingResponse
	if err := c.post(ctx, "/embedding/image", embedImageRequest{ObjectName: objectName}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, remoteError("embed image", resp.Error)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("%w: embed image: empty embedding", models.ErrExternalService)
	}
	return resp.Embedding, nil
}

// EmbedText returns the embedding of a free-text query in the image embedding space.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	var resp embeddingResponse
	if err := c.post(ctx, "/search/embedding", c.queryRequest(text), &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, remoteError("embed text", resp.Error)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("%w: embed text: empty embedding", models.ErrExternalService)
	}
	return resp.Embedding, nil
}

func (c *Client) ParseQuery(ctx context.Context, text string, wantEmbedding bool) (ParsedQuery, error) {
	var resp tagsResponse
	if err := c.post(ctx, "/search/tags", c.queryRequest(text), &resp); err != nil {
		return ParsedQuery{}, err
	}
	if !resp.Success {
		return ParsedQuery{}, remoteError("parse query", resp.Error)
	}

	parsed := ParsedQuery{Positive: resp.Positive, Negative: resp.Negative}
	if wantEmbedding {
		vec, err := c.EmbedText(ctx, text)
		if err != nil {
			return ParsedQuery{}, err
		}
		parsed.Embedding = vec
	}
	return parsed, nil
}

func (c *Client) queryRequest(text string) queryRequest {
	return queryRequest{
		Query:     text,
		LLMURL:    c.llm.BaseURL,
		LLMModel:  c.llm.Model,
		LLMAPIKey: c.llm.APIKey,
	}
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", models.ErrExternalService, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s: status %d: %s", models.ErrExternalService, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", models.ErrExternalService, path, err)
	}
	return nil
}

func remoteError(op, msg string) error {
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Errorf("%w: %s: %s", models.ErrExternalService, op, msg)
}
