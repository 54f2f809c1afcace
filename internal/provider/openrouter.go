package provider

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
)

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	deepSeekBaseURL   = "https://api.deepseek.com"

	defaultOpenRouterModel = "deepseek/deepseek-chat"
	defaultDeepSeekModel   = "deepseek-chat"

	defaultTimeout   = 30 * time.Second
	defaultMaxTokens = 120
	maxErrorBody     = 4 << 10
)

// Chat talks to an OpenAI-compatible chat completions endpoint. It serves
// OpenRouter and DeepSeek, which only differ in base URL and model names.
type Chat struct {
	name       string
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	referer    string
	title      string
}

// NewOpenRouter creates a client for the OpenRouter API. An empty model
// selects the default.
func NewOpenRouter(apiKey, model string) *Chat {
	if model == "" {
		model = defaultOpenRouterModel
	}
	return &Chat{
		name:    OpenRouterName,
		apiKey:  apiKey,
		model:   model,
		baseURL: openRouterBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		referer: "https://github.com/kalambet/linkreach",
		title:   "linkreach",
	}
}

// NewDeepSeek creates a client for the DeepSeek API.
func NewDeepSeek(apiKey, model string) *Chat {
	if model == "" {
		model = defaultDeepSeekModel
	}
	c := NewOpenRouter(apiKey, model)
	c.name = DeepSeekName
	c.baseURL = deepSeekBaseURL
	return c
}

// NewOpenRouterWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewOpenRouterWithBaseURL(apiKey, model, baseURL string) *Chat {
	c := NewOpenRouter(apiKey, model)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

func (c *Chat) withOverrides(cfg Config) *Chat {
	if cfg.BaseURL != "" {
		c.baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		c.httpClient.Timeout = cfg.Timeout
	}
	return c
}

// Name returns the backend name.
func (c *Chat) Name() string { return c.name }

// Model returns the configured model identifier.
func (c *Chat) Model() string { return c.model }

// Generate sends prompt as a single user message and returns the content of
// the first choice.
func (c *Chat) Generate(ctx context.Context, prompt string) (string, error) {
	req := ChatRequest{
		Model:       c.model,
		Messages:    []ChatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   defaultMaxTokens,
		Temperature: 0.7,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", c.fail(0, fmt.Errorf("marshaling request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", c.fail(0, fmt.Errorf("creating request: %w", err))
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", c.fail(0, fmt.Errorf("executing request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", c.fail(resp.StatusCode, fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(respBody))))
	}

	var out ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", c.fail(resp.StatusCode, fmt.Errorf("decoding response: %w", err))
	}
	if out.Error != nil {
		return "", c.fail(resp.StatusCode, errors.New(out.Error.Message))
	}
	if len(out.Choices) == 0 {
		return "", c.fail(resp.StatusCode, errors.New("response has no choices"))
	}

	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", c.fail(resp.StatusCode, errors.New("empty completion"))
	}
	return text, nil
}

// ListModels returns the models the backend advertises.
func (c *Chat) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.fail(0, fmt.Errorf("requesting models: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.fail(resp.StatusCode, errors.New("listing models"))
	}

	var list ModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding models: %w", err)
	}

	if list.Data == nil {
		return []Model{}, nil
	}
	return list.Data, nil
}

func (c *Chat) fail(status int, err error) error {
	return &Error{Provider: c.name, Status: status, Err: err}
}

func (c *Chat) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.name == OpenRouterName {
		req.Header.Set("HTTP-Referer", c.referer)
		req.Header.Set("X-Title", c.title)
	}
}
