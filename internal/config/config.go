// Package config loads service configuration from config.yaml and
// TRIPFOLIO_-prefixed environment variables, env taking precedence.
package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Security  SecurityConfig  `koanf:"security"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Audit     AuditConfig     `koanf:"audit"`
	Storage   StorageConfig   `koanf:"storage"`
	Assistant AssistantConfig `koanf:"assistant"`
	Session   SessionConfig   `koanf:"session"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
	// RequestTimeout is a duration string like "30s".
	RequestTimeout string `koanf:"request_timeout"`
}

type SecurityConfig struct {
	// SigningSecret signs session tokens and CSRF tokens. Supports
	// ${VAR} substitution so the literal never sits in the file.
	SigningSecret   string       `koanf:"signing_secret"`
	TokenTTL        string       `koanf:"token_ttl"`
	CSRFMaxAge      string       `koanf:"csrf_max_age"`
	CSRFExemptPaths []string     `koanf:"csrf_exempt_paths"`
	Filter          FilterConfig `koanf:"filter"`
}

type FilterConfig struct {
	PromptCap        int `koanf:"prompt_cap"`
	ResponseCap      int `koanf:"response_cap"`
	KeywordThreshold int `koanf:"keyword_threshold"`
}

type RateLimitConfig struct {
	Store    string          `koanf:"store"` // memory, redis
	Redis    RedisConfig     `koanf:"redis"`
	Profiles []ProfileConfig `koanf:"profiles"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type ProfileConfig struct {
	Name   string `koanf:"name"`
	Limit  int    `koanf:"limit"`
	Window string `koanf:"window"`
}

type AuditConfig struct {
	Store                 string `koanf:"store"` // memory, sqlite
	SQLitePath            string `koanf:"sqlite_path"`
	Retention             string `koanf:"retention"`
	FailedAuthThreshold   int    `koanf:"failed_auth_threshold"`
	AccessDeniedThreshold int    `koanf:"access_denied_threshold"`
}

type StorageConfig struct {
	Type     string         `koanf:"type"` // memory, supabase
	Supabase SupabaseConfig `koanf:"supabase"`
}

type SupabaseConfig struct {
	URL    string `koanf:"url"`
	APIKey string `koanf:"api_key"`
}

type AssistantConfig struct {
	APIKey       string `koanf:"api_key"`
	Model        string `koanf:"model"`
	BaseURL      string `koanf:"base_url"`
	SystemPrompt string `koanf:"system_prompt"`
	PromptBudget int    `koanf:"prompt_budget"`
	ReplyTimeout string `koanf:"reply_timeout"`
}

type SessionConfig struct {
	WindowSize int `koanf:"window_size"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (config.yaml when empty), layers TRIPFOLIO_ environment
// variables on top, and fills defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Environment variables override file values: TRIPFOLIO_SERVER__PORT
	// becomes server.port.
	if err := k.Load(env.Provider("TRIPFOLIO_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "TRIPFOLIO_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}
	if !k.Exists("storage.type") {
		k.Set("storage.type", "memory")
	}
	if !k.Exists("rate_limit.store") {
		k.Set("rate_limit.store", "memory")
	}
	if !k.Exists("audit.store") {
		k.Set("audit.store", "memory")
	}
	if !k.Exists("session.window_size") {
		k.Set("session.window_size", 10)
	}
	if !k.Exists("assistant.model") {
		k.Set("assistant.model", "gpt-4o-mini")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Substitute environment variables in secret-bearing fields
	cfg.Security.SigningSecret = substituteEnvVars(cfg.Security.SigningSecret)
	cfg.Storage.Supabase.APIKey = substituteEnvVars(cfg.Storage.Supabase.APIKey)
	cfg.Assistant.APIKey = substituteEnvVars(cfg.Assistant.APIKey)

	if len(cfg.RateLimit.Profiles) == 0 {
		cfg.RateLimit.Profiles = DefaultProfiles()
	}

	return &cfg, nil
}

// DefaultProfiles is the rate-limit tiering used when the file configures
// none: tight for model-facing chat, loose for plain API reads, tighter
// still for identity changes, and a strict tier for flagged callers.
func DefaultProfiles() []ProfileConfig {
	return []ProfileConfig{
		{Name: "chat", Limit: 20, Window: "1m"},
		{Name: "api", Limit: 120, Window: "1m"},
		{Name: "auth", Limit: 10, Window: "1m"},
		{Name: "strict", Limit: 5, Window: "1m"},
	}
}

// Duration parses s, falling back when s is empty or malformed. Config
// duration fields are strings like "30s" or "24h".
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
