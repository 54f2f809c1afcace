package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Provider   ProviderConfig
	Generation GenerationConfig
	Limits     LimitsConfig
	Log        LogConfig

	// Warnings collects values that were present but could not be parsed.
	// Load never fails on them; callers log them once a logger exists.
	Warnings []string
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type ProviderConfig struct {
	Name    string
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

type GenerationConfig struct {
	Timeout     time.Duration
	Concurrency int
}

type LimitsConfig struct {
	MaxConnectionsPerHour int
	Backend               string
	RedisAddr             string
	RequestsPerSecond     float64
	Burst                 int
}

type LogConfig struct {
	Level string
}

// Limit backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 5000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Provider: ProviderConfig{
			Name:    "openrouter",
			Timeout: 30 * time.Second,
		},
		Generation: GenerationConfig{
			Timeout:     20 * time.Second,
			Concurrency: 4,
		},
		Limits: LimitsConfig{
			MaxConnectionsPerHour: 20,
			Backend:               BackendMemory,
			RedisAddr:             "localhost:6379",
			RequestsPerSecond:     10,
			Burst:                 20,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a .env file in the working directory, the
// JSON config file at $XDG_CONFIG_HOME/linkreach/config.json, and environment
// variables.
//
// Environment variables (LINKREACH_*, plus the legacy names such as
// OPENROUTER_API_KEY and PORT) override file values. Values already set in
// the process environment win over .env entries.
//
// A missing API key is not an error: message generation then falls back to
// templates.
func Load() (Config, error) {
	var warnings []string
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		warnings = append(warnings, "could not load .env: "+err.Error())
	}
	cfg, err := loadWith(newPlatformBackend())
	if err != nil {
		return Config{}, err
	}
	cfg.Warnings = append(warnings, cfg.Warnings...)
	return cfg, nil
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if fb, ok := b.(*fileBackend); ok && fb.loadErr != "" {
		cfg.Warnings = append(cfg.Warnings, fb.loadErr)
	}

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	cfg.Provider.Name = strings.ToLower(strings.TrimSpace(cfg.Provider.Name))
	if cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = lookupEnv(providerKeyEnv[cfg.Provider.Name])
	}
	cfg.Limits.Backend = strings.ToLower(strings.TrimSpace(cfg.Limits.Backend))

	return cfg, nil
}

// providerKeyEnv maps provider names to the environment variable that
// carries their key when LINKREACH_PROVIDER_API_KEY is unset.
var providerKeyEnv = map[string]string{
	"openrouter": "OPENROUTER_API_KEY",
	"deepseek":   "DEEPSEEK_API_KEY",
	"gemini":     "GEMINI_API_KEY",
}
