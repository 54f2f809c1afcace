// Package provider holds the external text-generation backends used to draft
// outreach messages. Every backend is a single request/response call; there
// is no retry, the caller falls back to templates on any error.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnavailable is returned by New when no credential is configured for the
// selected backend.
var ErrUnavailable = errors.New("text provider unavailable: no API key configured")

// Error describes a failed provider call: transport failure, non-success
// status or a response that could not be used.
type Error struct {
	Provider string
	Status   int // HTTP status, 0 when the request never got a response
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Provider generates free text from a single prompt.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Backend names accepted by New.
const (
	OpenRouterName = "openrouter"
	DeepSeekName   = "deepseek"
	GeminiName     = "gemini"
	OllamaName     = "ollama"
)

// Config selects and configures a backend.
type Config struct {
	Name    string
	APIKey  string
	Model   string
	BaseURL string // optional override, mostly for tests
	Timeout time.Duration
}

// New builds the backend named by cfg.Name. It returns ErrUnavailable when
// cfg.APIKey is empty, except for Ollama which runs locally without a key.
func New(ctx context.Context, cfg Config) (Provider, error) {
	name := strings.ToLower(cfg.Name)
	if name == OllamaName {
		o := NewOllama(cfg.BaseURL, cfg.Model)
		if cfg.Timeout > 0 {
			o.httpClient.Timeout = cfg.Timeout
		}
		return o, nil
	}

	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrUnavailable
	}

	switch name {
	case "", OpenRouterName:
		c := NewOpenRouter(cfg.APIKey, cfg.Model)
		return c.withOverrides(cfg), nil
	case DeepSeekName:
		c := NewDeepSeek(cfg.APIKey, cfg.Model)
		return c.withOverrides(cfg), nil
	case GeminiName:
		return NewGemini(ctx, cfg.APIKey, cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unknown provider %q (want %s, %s, %s or %s)", cfg.Name, OpenRouterName, DeepSeekName, GeminiName, OllamaName)
	}
}
