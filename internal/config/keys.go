package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	aliases []string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "LINKREACH_SERVER_PORT", aliases: []string{"PORT"},
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "LINKREACH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "provider.name", typ: kString, env: "LINKREACH_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Provider.Name = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Name },
	},
	{
		key: "provider.api_key", typ: kString, env: "LINKREACH_PROVIDER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Provider.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.APIKey },
	},
	{
		key: "provider.model", typ: kString, env: "LINKREACH_PROVIDER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Provider.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Model },
	},
	{
		key: "provider.base_url", typ: kString, env: "LINKREACH_PROVIDER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Provider.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.BaseURL },
	},
	{
		key: "provider.timeout", typ: kDuration, env: "LINKREACH_PROVIDER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Provider.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Provider.Timeout },
	},
	{
		key: "generation.timeout", typ: kDuration, env: "LINKREACH_GENERATION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Generation.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Generation.Timeout },
	},
	{
		key: "generation.concurrency", typ: kInt, env: "LINKREACH_GENERATION_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Generation.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.Concurrency },
	},
	{
		key: "limits.max_connections_per_hour", typ: kInt, env: "LINKREACH_MAX_CONNECTIONS_PER_HOUR",
		aliases: []string{"MAX_REQUESTS_PER_HOUR"},
		apply:   func(cfg *Config, v any) { cfg.Limits.MaxConnectionsPerHour = v.(int) },
		extract: func(cfg Config) any { return cfg.Limits.MaxConnectionsPerHour },
	},
	{
		key: "limits.backend", typ: kString, env: "LINKREACH_LIMITS_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Limits.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Limits.Backend },
	},
	{
		key: "limits.redis_addr", typ: kString, env: "LINKREACH_REDIS_ADDR", aliases: []string{"REDIS_ADDR"},
		apply:   func(cfg *Config, v any) { cfg.Limits.RedisAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Limits.RedisAddr },
	},
	{
		key: "limits.requests_per_second", typ: kFloat, env: "LINKREACH_REQUESTS_PER_SECOND",
		apply:   func(cfg *Config, v any) { cfg.Limits.RequestsPerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.Limits.RequestsPerSecond },
	},
	{
		key: "limits.burst", typ: kInt, env: "LINKREACH_REQUEST_BURST",
		apply:   func(cfg *Config, v any) { cfg.Limits.Burst = v.(int) },
		extract: func(cfg Config) any { return cfg.Limits.Burst },
	},
	{
		key: "log.level", typ: kString, env: "LINKREACH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		v, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (v == "" && s.typ != kString) {
			continue
		}
		parsed, err := parseValue(s.typ, v)
		if err != nil {
			cfg.Warnings = append(cfg.Warnings,
				fmt.Sprintf("could not parse config key %s=%q: %v; using default value", s.key, v, err))
			continue
		}
		s.apply(cfg, parsed)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		name, raw := s.lookup()
		if raw == "" {
			continue
		}
		parsed, err := parseValue(s.typ, raw)
		if err != nil {
			cfg.Warnings = append(cfg.Warnings,
				fmt.Sprintf("could not parse env var %s=%q: %v; using default value", name, raw, err))
			continue
		}
		s.apply(cfg, parsed)
	}
}

// lookup returns the first non-empty environment variable among the key's
// primary name and its aliases.
func (s keySpec) lookup() (name, value string) {
	if v := lookupEnv(s.env); v != "" {
		return s.env, v
	}
	for _, alias := range s.aliases {
		if v := lookupEnv(alias); v != "" {
			return alias, v
		}
	}
	return "", ""
}

func lookupEnv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}
