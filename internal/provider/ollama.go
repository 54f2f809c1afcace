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
	ollamaBaseURL      = "http://localhost:11434"
	defaultOllamaModel = "llama3.2"
)

// Ollama generates messages with a model served by a local Ollama instance.
// It needs no API key.
type Ollama struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllama creates a client for the Ollama server at baseURL. Empty
// arguments select the defaults.
func NewOllama(baseURL, model string) *Ollama {
	if baseURL == "" {
		baseURL = ollamaBaseURL
	}
	if model == "" {
		model = defaultOllamaModel
	}
	return &Ollama{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Name returns the backend name.
func (o *Ollama) Name() string { return OllamaName }

// Model returns the configured model name.
func (o *Ollama) Model() string { return o.model }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Error   string        `json:"error,omitempty"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Generate sends prompt as a single user message to /api/chat.
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model:    o.model,
		Messages: []ollamaMessage{{Role: "user", Content: prompt}},
		Stream:   false,
		Options: map[string]any{
			"num_predict": defaultMaxTokens,
			"temperature": 0.7,
		},
	})
	if err != nil {
		return "", o.fail(0, fmt.Errorf("marshaling request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", o.fail(0, fmt.Errorf("creating chat request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", o.fail(0, fmt.Errorf("chat request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", o.fail(resp.StatusCode, fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(respBody))))
	}

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", o.fail(resp.StatusCode, fmt.Errorf("decoding chat response: %w", err))
	}
	if out.Error != "" {
		return "", o.fail(resp.StatusCode, errors.New(out.Error))
	}

	text := strings.TrimSpace(out.Message.Content)
	if text == "" {
		return "", o.fail(resp.StatusCode, errors.New("empty completion"))
	}
	return text, nil
}

// IsRunning reports whether the Ollama server answers GET /api/tags.
func (o *Ollama) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ListModels returns the models pulled into the local instance.
func (o *Ollama) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, o.fail(0, fmt.Errorf("requesting model list: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, o.fail(resp.StatusCode, errors.New("listing models"))
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decoding models: %w", err)
	}

	models := make([]Model, len(tags.Models))
	for i, m := range tags.Models {
		models[i] = Model{ID: m.Name, Object: "model", OwnedBy: "ollama"}
	}
	return models, nil
}

// HasModel reports whether name is present locally. Ollama reports names with
// a tag suffix ("llama3.2:latest"), so a bare name matches any tag.
func (o *Ollama) HasModel(ctx context.Context, name string) bool {
	models, err := o.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, m := range models {
		if m.ID == name || strings.HasPrefix(m.ID, name+":") {
			return true
		}
	}
	return false
}

func (o *Ollama) fail(status int, err error) error {
	return &Error{Provider: OllamaName, Status: status, Err: err}
}
