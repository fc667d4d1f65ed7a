// Package config handles loading and validating gateway configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration for the unigate gateway.
type Config struct {
	Server    ServerConfig     `koanf:"server"`
	Providers []ProviderConfig `koanf:"providers"`
	Cache     CacheConfig      `koanf:"cache"`
	Circuit   CircuitConfig    `koanf:"circuit"`
	Retry     RetryConfig      `koanf:"retry"`
	RateLimit RateLimitConfig  `koanf:"rate_limit"`
	Router    RouterConfig     `koanf:"router"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// ProviderConfig holds the settings for one registered provider instance.
// Providers are a list, not a map keyed by type, because an operator can
// register more than one instance of the same backend type (e.g. two
// Anthropic keys in different regions) each with its own weight and limits.
type ProviderConfig struct {
	Name      string   `koanf:"name"`
	Type      string   `koanf:"type"` // "openai" | "anthropic" | "google" | "cloudflare"
	BaseURL   string   `koanf:"base_url"`
	APIKey    string   `koanf:"api_key"`
	AccountID string   `koanf:"account_id"` // cloudflare only
	APIToken  string   `koanf:"api_token"`  // cloudflare only
	Models    []string `koanf:"models"`

	Weight    int           `koanf:"weight"`
	RPM       int           `koanf:"rpm"`
	TPM       int           `koanf:"tpm"`
	TimeoutMS int           `koanf:"timeout_ms"`
	Tags      []string      `koanf:"tags"`
	Region    string        `koanf:"region"`

	// ExtraHeaders is passed straight to OpenAI-wire-compatible adapters
	// for vendor quirks (OpenRouter's HTTP-Referer/X-Title).
	ExtraHeaders map[string]string `koanf:"extra_headers"`

	// ThinkingModels restricts thinking support to these model prefixes;
	// empty means "all models this provider serves support it".
	ThinkingModels    []string `koanf:"thinking_models"`
	SupportsThinking  bool     `koanf:"supports_thinking"`
	MaxThinkingTokens uint32   `koanf:"max_thinking_tokens"`
}

func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.TimeoutMS) * time.Millisecond
}

// CacheConfig configures the multi-tier cache manager (C8).
type CacheConfig struct {
	Enabled bool `koanf:"enabled"`

	MemoryTTL      time.Duration `koanf:"memory_ttl"`
	MemoryMaxItems int           `koanf:"memory_max_items"`

	RedisEnabled bool          `koanf:"redis_enabled"`
	RedisAddr    string        `koanf:"redis_addr"`
	RedisTTL     time.Duration `koanf:"redis_ttl"`
	RedisDB      int           `koanf:"redis_db"`

	SemanticEnabled         bool    `koanf:"semantic_enabled"`
	SimilarityThreshold     float64 `koanf:"similarity_threshold"`
	SemanticMinPromptLength int     `koanf:"semantic_min_prompt_length"`
}

// CircuitConfig configures the circuit breaker (C4).
type CircuitConfig struct {
	FailureThreshold int           `koanf:"failure_threshold"`
	SuccessThreshold int           `koanf:"success_threshold"`
	MinRequests      int           `koanf:"min_requests"`
	RecoveryTimeout  time.Duration `koanf:"timeout"`
	WindowSize       time.Duration `koanf:"window_size"`
}

// RetryConfig configures the retry engine (C7).
type RetryConfig struct {
	MaxAttempts       int           `koanf:"max_attempts"`
	BaseDelay         time.Duration `koanf:"base_delay"`
	MaxDelay          time.Duration `koanf:"max_delay"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
	JitterFactor      float64       `koanf:"jitter_factor"`
}

// RateLimitConfig configures the token-bucket / sliding-window limiter (C10).
type RateLimitConfig struct {
	Enabled            bool `koanf:"enabled"`
	DefaultRPM         int  `koanf:"default_rpm"`
	DefaultTPM         int  `koanf:"default_tpm"`
	DefaultRPD         int  `koanf:"default_rpd"`
	DefaultConcurrent  int  `koanf:"default_concurrent"`
	Burst              int  `koanf:"burst"`
}

// RouterConfig selects the load-balancing strategy (C6).
type RouterConfig struct {
	Strategy   string `koanf:"strategy"` // round_robin | least_latency | least_busy | cost_optimized | health_based | weighted | random | script
	ScriptPath string `koanf:"script_path"` // used when Strategy == "script"

	FailureThreshold  int           `koanf:"failure_threshold"`
	RecoveryThreshold int           `koanf:"recovery_threshold"`
	ProbeInterval     time.Duration `koanf:"probe_interval"`
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, and returns a fully populated Config.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	// Any env var starting with "UNIGATE_" overrides a config value:
	//   UNIGATE_SERVER_PORT -> server.port
	if err := k.Load(env.Provider("UNIGATE_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "UNIGATE_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)
	expandSecrets(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = 200 * time.Millisecond
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 10 * time.Second
	}
	if cfg.Retry.BackoffMultiplier == 0 {
		cfg.Retry.BackoffMultiplier = 2.0
	}
	if cfg.Retry.JitterFactor == 0 {
		cfg.Retry.JitterFactor = 0.1
	}
	if cfg.Circuit.FailureThreshold == 0 {
		cfg.Circuit.FailureThreshold = 5
	}
	if cfg.Circuit.SuccessThreshold == 0 {
		cfg.Circuit.SuccessThreshold = 3
	}
	if cfg.Circuit.MinRequests == 0 {
		cfg.Circuit.MinRequests = 10
	}
	if cfg.Circuit.RecoveryTimeout == 0 {
		cfg.Circuit.RecoveryTimeout = 60 * time.Second
	}
	if cfg.Circuit.WindowSize == 0 {
		cfg.Circuit.WindowSize = 60 * time.Second
	}
	if cfg.Router.Strategy == "" {
		cfg.Router.Strategy = "health_based"
	}
	if cfg.Router.FailureThreshold == 0 {
		cfg.Router.FailureThreshold = 3
	}
	if cfg.Router.RecoveryThreshold == 0 {
		cfg.Router.RecoveryThreshold = 2
	}
	if cfg.Router.ProbeInterval == 0 {
		cfg.Router.ProbeInterval = 15 * time.Second
	}
	if cfg.Cache.MemoryTTL == 0 {
		cfg.Cache.MemoryTTL = 5 * time.Minute
	}
	if cfg.Cache.MemoryMaxItems == 0 {
		cfg.Cache.MemoryMaxItems = 10000
	}
	if cfg.Cache.SimilarityThreshold == 0 {
		cfg.Cache.SimilarityThreshold = 0.95
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 1
	}
}

// expandSecrets resolves ${VAR_NAME} placeholders in the fields that carry
// credentials, looking them up in the process environment. koanf doesn't do
// this automatically, so it's handled explicitly, the same way the teacher's
// original single-map config did for APIKey.
func expandSecrets(cfg *Config) {
	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = expandVar(cfg.Providers[i].APIKey)
		cfg.Providers[i].AccountID = expandVar(cfg.Providers[i].AccountID)
		cfg.Providers[i].APIToken = expandVar(cfg.Providers[i].APIToken)
	}
}

func expandVar(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}
