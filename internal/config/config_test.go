package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// clearEnv blanks every variable the loader consults so the host
// environment cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
		for _, a := range s.aliases {
			t.Setenv(a, "")
		}
	}
	for _, env := range providerKeyEnv {
		t.Setenv(env, "")
	}
}

// TestDefaults verifies all default values are applied when no file exists.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "missing.json")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Provider.Name != "openrouter" {
		t.Errorf("Provider.Name = %q, want openrouter", cfg.Provider.Name)
	}
	if cfg.Provider.Timeout != 30*time.Second {
		t.Errorf("Provider.Timeout = %v, want 30s", cfg.Provider.Timeout)
	}
	if cfg.Generation.Timeout != 20*time.Second {
		t.Errorf("Generation.Timeout = %v, want 20s", cfg.Generation.Timeout)
	}
	if cfg.Limits.MaxConnectionsPerHour != 20 {
		t.Errorf("Limits.MaxConnectionsPerHour = %d, want 20", cfg.Limits.MaxConnectionsPerHour)
	}
	if cfg.Limits.Backend != BackendMemory {
		t.Errorf("Limits.Backend = %q, want %q", cfg.Limits.Backend, BackendMemory)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if len(cfg.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", cfg.Warnings)
	}
}

// TestMissingAPIKeyIsNotAnError verifies the loader succeeds without any key.
func TestMissingAPIKeyIsNotAnError(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newFileBackend(writeTempConfig(t, `{}`)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider.APIKey != "" {
		t.Errorf("Provider.APIKey = %q, want empty", cfg.Provider.APIKey)
	}
}

// TestFileParsing verifies that all fields are correctly read from the JSON file.
func TestFileParsing(t *testing.T) {
	clearEnv(t)

	path := writeTempConfig(t, `{
  "server.port": 6000,
  "storage.data_dir": "/tmp/linkreach-test",
  "provider.name": "DeepSeek",
  "provider.model": "deepseek-reasoner",
  "provider.timeout": "5s",
  "generation.concurrency": 2,
  "limits.max_connections_per_hour": 7,
  "limits.backend": "redis",
  "limits.requests_per_second": "2.5",
  "log.level": "debug"
}`)

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/tmp/linkreach-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Provider.Name != "deepseek" {
		t.Errorf("Provider.Name = %q, want deepseek", cfg.Provider.Name)
	}
	if cfg.Provider.Model != "deepseek-reasoner" {
		t.Errorf("Provider.Model = %q", cfg.Provider.Model)
	}
	if cfg.Provider.Timeout != 5*time.Second {
		t.Errorf("Provider.Timeout = %v, want 5s", cfg.Provider.Timeout)
	}
	if cfg.Generation.Concurrency != 2 {
		t.Errorf("Generation.Concurrency = %d, want 2", cfg.Generation.Concurrency)
	}
	if cfg.Limits.MaxConnectionsPerHour != 7 {
		t.Errorf("Limits.MaxConnectionsPerHour = %d, want 7", cfg.Limits.MaxConnectionsPerHour)
	}
	if cfg.Limits.Backend != BackendRedis {
		t.Errorf("Limits.Backend = %q, want redis", cfg.Limits.Backend)
	}
	if cfg.Limits.RequestsPerSecond != 2.5 {
		t.Errorf("Limits.RequestsPerSecond = %v, want 2.5", cfg.Limits.RequestsPerSecond)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

// TestEnvOverride verifies that environment variables override file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{"server.port": 6000, "limits.max_connections_per_hour": 7}`)

	t.Setenv("LINKREACH_SERVER_PORT", "7000")
	t.Setenv("LINKREACH_MAX_CONNECTIONS_PER_HOUR", "3")
	t.Setenv("LINKREACH_PROVIDER_API_KEY", "env-key")

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000", cfg.Server.Port)
	}
	if cfg.Limits.MaxConnectionsPerHour != 3 {
		t.Errorf("Limits.MaxConnectionsPerHour = %d, want 3", cfg.Limits.MaxConnectionsPerHour)
	}
	if cfg.Provider.APIKey != "env-key" {
		t.Errorf("Provider.APIKey = %q, want env-key", cfg.Provider.APIKey)
	}
}

// TestLegacyEnvAliases verifies the unprefixed variable names are honored.
func TestLegacyEnvAliases(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("MAX_REQUESTS_PER_HOUR", "5")
	t.Setenv("OPENROUTER_API_KEY", "or-key")

	cfg, err := loadWith(newFileBackend(writeTempConfig(t, `{}`)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Limits.MaxConnectionsPerHour != 5 {
		t.Errorf("Limits.MaxConnectionsPerHour = %d, want 5", cfg.Limits.MaxConnectionsPerHour)
	}
	if cfg.Provider.APIKey != "or-key" {
		t.Errorf("Provider.APIKey = %q, want or-key", cfg.Provider.APIKey)
	}

	// The prefixed name wins over the alias.
	t.Setenv("LINKREACH_SERVER_PORT", "9090")
	cfg, _ = loadWith(newFileBackend(writeTempConfig(t, `{}`)))
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
}

// TestProviderKeyFollowsProviderName verifies the per-provider key variable
// is chosen by the configured provider.
func TestProviderKeyFollowsProviderName(t *testing.T) {
	clearEnv(t)
	t.Setenv("LINKREACH_PROVIDER", "gemini")
	t.Setenv("OPENROUTER_API_KEY", "or-key")
	t.Setenv("GEMINI_API_KEY", "gem-key")

	cfg, err := loadWith(newFileBackend(writeTempConfig(t, `{}`)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider.APIKey != "gem-key" {
		t.Errorf("Provider.APIKey = %q, want gem-key", cfg.Provider.APIKey)
	}
}

// TestSecretsIgnoredInFile verifies API keys are never read from the config file.
func TestSecretsIgnoredInFile(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newFileBackend(writeTempConfig(t, `{"provider.api_key": "file-key"}`)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider.APIKey != "" {
		t.Errorf("Provider.APIKey = %q, want empty", cfg.Provider.APIKey)
	}
}

// TestBadValuesProduceWarnings verifies unparseable values keep defaults.
func TestBadValuesProduceWarnings(t *testing.T) {
	clearEnv(t)
	t.Setenv("LINKREACH_GENERATION_TIMEOUT", "soon")

	cfg, err := loadWith(newFileBackend(writeTempConfig(t, `{"provider.timeout": "forever"}`)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider.Timeout != 30*time.Second {
		t.Errorf("Provider.Timeout = %v, want default 30s", cfg.Provider.Timeout)
	}
	if cfg.Generation.Timeout != 20*time.Second {
		t.Errorf("Generation.Timeout = %v, want default 20s", cfg.Generation.Timeout)
	}
	if len(cfg.Warnings) != 2 {
		t.Fatalf("Warnings = %v, want 2", cfg.Warnings)
	}
	if !strings.Contains(cfg.Warnings[1], "LINKREACH_GENERATION_TIMEOUT") {
		t.Errorf("Warnings[1] = %q", cfg.Warnings[1])
	}
}

// TestMalformedFile verifies a broken file is reported and defaults are used.
func TestMalformedFile(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newFileBackend(writeTempConfig(t, `{not json`)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if len(cfg.Warnings) != 1 || !strings.Contains(cfg.Warnings[0], "could not parse config file") {
		t.Errorf("Warnings = %v", cfg.Warnings)
	}
}

func TestSetKey(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "linkreach", "config.json")

	if err := setKey(newFileBackend(path), "server.port", "6100"); err != nil {
		t.Fatalf("setKey server.port: %v", err)
	}
	if err := setKey(newFileBackend(path), "generation.timeout", "12s"); err != nil {
		t.Fatalf("setKey generation.timeout: %v", err)
	}

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6100 {
		t.Errorf("Server.Port = %d, want 6100", cfg.Server.Port)
	}
	if cfg.Generation.Timeout != 12*time.Second {
		t.Errorf("Generation.Timeout = %v, want 12s", cfg.Generation.Timeout)
	}

	tests := []struct {
		key, value, want string
	}{
		{"provider.api_key", "x", "cannot set secret"},
		{"server.port", "abc", "invalid integer"},
		{"generation.timeout", "later", "invalid value"},
		{"nope.key", "1", "unknown config key"},
	}
	for _, tt := range tests {
		err := setKey(newFileBackend(path), tt.key, tt.value)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("setKey(%q, %q) = %v, want error containing %q", tt.key, tt.value, err, tt.want)
		}
	}
}

func TestShowAllOmitsSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Provider.APIKey = "hidden"

	for _, ki := range ShowAll(cfg) {
		if ki.Key == "provider.api_key" || ki.Value == "hidden" {
			t.Errorf("secret leaked in ShowAll: %+v", ki)
		}
	}
	if len(ValidKeys()) != len(specs)-1 {
		t.Errorf("ValidKeys() = %d keys, want %d", len(ValidKeys()), len(specs)-1)
	}
}
