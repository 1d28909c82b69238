// Package llm talks to an OpenAI-compatible chat completion endpoint.
// Failures are classified into two sentinel errors so callers can pick
// the right user-facing behavior without parsing provider messages.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oakfieldlabs/advisorai/internal/config"
)

var (
	// ErrServiceUnavailable covers transport failures and provider 5xx.
	ErrServiceUnavailable = errors.New("language service unavailable")
	// ErrQuotaExceeded covers provider rate and quota rejections.
	ErrQuotaExceeded = errors.New("language service quota exceeded")
)

// Message is one chat turn sent to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the language-model boundary for the chat pipeline.
type Client interface {
	// Complete runs a plain chat completion over the given messages.
	Complete(ctx context.Context, messages []Message, maxTokens int) (string, error)
	// CompleteJSON runs a completion with a strict JSON response format.
	CompleteJSON(ctx context.Context, prompt string, maxTokens int) (string, error)
}

type httpClient struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	client      *http.Client
}

func NewClient(cfg *config.Config) Client {
	return &httpClient{
		apiKey:      cfg.Provider.APIKey,
		baseURL:     cfg.Provider.BaseURL,
		model:       cfg.Advisor.Model,
		temperature: cfg.Advisor.Temperature,
		client:      &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *httpClient) Complete(ctx context.Context, messages []Message, maxTokens int) (string, error) {
	body := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"max_tokens":  maxTokens,
		"temperature": c.temperature,
	}
	return c.send(ctx, body)
}

func (c *httpClient) CompleteJSON(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body := map[string]any{
		"model": c.model,
		"messages": []Message{{
			Role:    "user",
			Content: prompt,
		}},
		"max_tokens":  maxTokens,
		"temperature": 0.0,
		"response_format": map[string]string{
			"type": "json_object",
		},
	}
	return c.send(ctx, body)
}

func (c *httpClient) send(ctx context.Context, body map[string]any) (string, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return "", fmt.Errorf("missing provider api key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(c.baseURL), "/")
	if baseURL == "" {
		return "", fmt.Errorf("missing provider base url")
	}
	if c.model == "" {
		return "", fmt.Errorf("missing model")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrServiceUnavailable, err)
	}

	if err := classifyStatus(resp.StatusCode, respBody); err != nil {
		return "", err
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("empty choices in response")
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty content in response")
	}
	return content, nil
}

func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: http %d: %s", ErrQuotaExceeded, status, trimBody(body))
	case status >= 500:
		return fmt.Errorf("%w: http %d: %s", ErrServiceUnavailable, status, trimBody(body))
	default:
		return fmt.Errorf("provider http %d: %s", status, trimBody(body))
	}
}

func trimBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 512 {
		text = text[:512]
	}
	return text
}
