// Package config loads per-provider settings from a YAML file and
// resolves credentials from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/promptwell/llmbatch/pkg/dispatch"
	"github.com/promptwell/llmbatch/pkg/llm"
)

// ProviderConfig holds the user-facing settings for one provider.
type ProviderConfig struct {
	// Endpoint overrides the provider's default completion endpoint.
	Endpoint string `yaml:"endpoint"`

	// APIKey is the credential string. Prefer APIKeyEnv in checked-in
	// configuration.
	APIKey string `yaml:"api_key"`

	// APIKeyEnv names the environment variable holding the credential.
	APIKeyEnv string `yaml:"api_key_env"`

	MaxRequestsPerMinute  int  `yaml:"max_requests_per_minute"`
	MaxTokensPerMinute    int  `yaml:"max_tokens_per_minute"`
	MaxAttempts           int  `yaml:"max_attempts"`
	MaxConcurrency        int  `yaml:"max_concurrency"`
	RequestTimeoutSeconds int  `yaml:"request_timeout_seconds"`
	EnableBreaker         bool `yaml:"enable_breaker"`
}

// CacheConfig enables the Redis completion cache when Addr is set.
type CacheConfig struct {
	Addr       string `yaml:"addr"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// Config is the root configuration document.
type Config struct {
	Providers map[string]ProviderConfig `yaml:"providers"`

	// RequestLog is the path of the append-only JSONL journal. Empty
	// disables journaling.
	RequestLog string `yaml:"request_log"`

	Cache CacheConfig `yaml:"cache"`

	// LogLevel is the zerolog level name (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

// defaultKeyEnv maps providers to their conventional credential
// variables.
var defaultKeyEnv = map[llm.Provider]string{
	llm.ProviderOpenAI:    "OPENAI_API_KEY",
	llm.ProviderAnthropic: "ANTHROPIC_API_KEY",
}

// Default returns a configuration with both supported providers at
// their default limits, credentials from the conventional environment
// variables.
func Default() *Config {
	cfg := &Config{
		Providers: map[string]ProviderConfig{
			string(llm.ProviderOpenAI):    {},
			string(llm.ProviderAnthropic): {},
		},
	}
	cfg.applyDefaults()
	return cfg
}

// Load parses the YAML configuration at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, &llm.ConfigurationError{Reason: "config path is empty"}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults fills unset fields with safe values.
func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Cache.Addr != "" && c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = 3600
	}

	for name, p := range c.Providers {
		if p.APIKeyEnv == "" && p.APIKey == "" {
			p.APIKeyEnv = defaultKeyEnv[llm.Provider(name)]
		}
		if p.MaxRequestsPerMinute <= 0 {
			p.MaxRequestsPerMinute = 50
		}
		if p.MaxTokensPerMinute <= 0 {
			p.MaxTokensPerMinute = 100000
		}
		if p.MaxAttempts <= 0 {
			p.MaxAttempts = 5
		}
		if p.MaxConcurrency <= 0 {
			p.MaxConcurrency = 5
		}
		if p.RequestTimeoutSeconds <= 0 {
			p.RequestTimeoutSeconds = 90
		}
		c.Providers[name] = p
	}
}

// ResolveAPIKey returns the credential string for the provider.
// A missing credential is a configuration error and is surfaced before
// any dispatch.
func (p ProviderConfig) ResolveAPIKey(name string) (string, error) {
	if p.APIKey != "" {
		return p.APIKey, nil
	}
	if p.APIKeyEnv != "" {
		if key := os.Getenv(p.APIKeyEnv); key != "" {
			return key, nil
		}
		return "", &llm.ConfigurationError{
			Reason: "credential for provider " + name + " not found in $" + p.APIKeyEnv,
		}
	}
	return "", &llm.ConfigurationError{Reason: "no credential configured for provider " + name}
}

// Dispatch translates the provider settings into the dispatch engine's
// configuration, resolving the credential.
func (p ProviderConfig) Dispatch(name string) (dispatch.ProviderConfig, error) {
	key, err := p.ResolveAPIKey(name)
	if err != nil {
		return dispatch.ProviderConfig{}, err
	}
	return dispatch.ProviderConfig{
		Endpoint:             p.Endpoint,
		APIKey:               key,
		MaxRequestsPerMinute: p.MaxRequestsPerMinute,
		MaxTokensPerMinute:   p.MaxTokensPerMinute,
		MaxAttempts:          p.MaxAttempts,
		MaxConcurrency:       p.MaxConcurrency,
		RequestTimeout:       time.Duration(p.RequestTimeoutSeconds) * time.Second,
		EnableBreaker:        p.EnableBreaker,
	}, nil
}
