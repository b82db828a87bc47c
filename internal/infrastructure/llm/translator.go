package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"SleeperScout/internal/config"
	"SleeperScout/internal/ports"
)

const defaultPrompt = "You translate Korean web novel genre tags into short English genre labels. " +
	"Reply with a single JSON object mapping each input tag to its English label. " +
	"Keep proper nouns romanized. Do not add tags that were not in the input."

// TagTranslator implements ports.TagTranslator backed by OpenAI-compatible APIs.
type TagTranslator struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	httpClient   *http.Client
}

var _ ports.TagTranslator = (*TagTranslator)(nil)

// NewTagTranslator builds a client from configuration. A nil httpClient
// gets a 30 second timeout.
func NewTagTranslator(cfg config.TranslatorConfig, httpClient *http.Client) *TagTranslator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TagTranslator{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: cfg.SystemPrompt,
		httpClient:   httpClient,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
	Temperature    float64        `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// TranslateTags sends the tokens in one request and returns the labels the
// model produced. Tokens the model skipped or left blank are absent from the
// result.
func (c *TagTranslator) TranslateTags(ctx context.Context, tokens []string) (map[string]string, error) {
	if c == nil {
		return nil, fmt.Errorf("tag translator is nil")
	}
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return nil, fmt.Errorf("tag translator misconfigured")
	}
	if len(tokens) == 0 {
		return map[string]string{}, nil
	}

	input, err := json.Marshal(tokens)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: safePrompt(c.systemPrompt)},
			{Role: "user", Content: string(input)},
		},
		ResponseFormat: map[string]any{"type": "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal translator payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send tags: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("translator error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode translator response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("translator returned no choices")
	}

	return parseLabels(decoded.Choices[0].Message.Content, tokens)
}

// parseLabels keeps only labels for tokens that were asked about.
func parseLabels(content string, tokens []string) (map[string]string, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var raw map[string]string
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err != nil {
		return nil, fmt.Errorf("decode labels: %w", err)
	}

	asked := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		asked[norm.NFC.String(strings.TrimSpace(t))] = true
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		k = norm.NFC.String(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if !asked[k] || v == "" {
			continue
		}
		out[k] = v
	}
	return out, nil
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return defaultPrompt
	}
	return prompt
}
