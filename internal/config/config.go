// Package config loads relaybot settings: built-in defaults, then an optional
// YAML file, then environment overrides. Secrets come from the environment
// only.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stupiduntilnot/relaybot/internal/control"
	"github.com/stupiduntilnot/relaybot/internal/db"
	"github.com/stupiduntilnot/relaybot/internal/model"
	"github.com/stupiduntilnot/relaybot/internal/usage"
)

// DefaultPath is read when Load is given no path and the file exists.
const DefaultPath = "relaybot.yaml"

const defaultSystemPrompt = "Ты полезный AI-ассистент. Отвечай точно и по делу на языке пользователя."

// Config is immutable after Load.
type Config struct {
	Commander        string `yaml:"commander"`
	DBPath           string `yaml:"db_path"`
	DefaultModel     string `yaml:"default_model"`
	SystemPrompt     string `yaml:"system_prompt"`
	MaxMessageLength int    `yaml:"max_message_length"`
	ChunkReserve     int    `yaml:"chunk_reserve"`
	ChunkSubReserve  int    `yaml:"chunk_sub_reserve"`
	MaxInFlight      int    `yaml:"max_in_flight"`
	EnableDummy      bool   `yaml:"enable_dummy"`
	ImageModel       string `yaml:"image_model"`

	Telegram  TelegramConfig         `yaml:"telegram"`
	RateLimit RateLimitConfig        `yaml:"rate_limit"`
	Cache     CacheConfig            `yaml:"cache"`
	History   HistoryConfig          `yaml:"history"`
	Provider  ProviderConfig         `yaml:"provider"`
	Circuit   CircuitConfig          `yaml:"circuit"`
	Usage     map[string]UsageConfig `yaml:"usage"`
	Dummy     DummyConfig            `yaml:"dummy"`

	// Filled from the environment only.
	TelegramToken string                      `yaml:"-"`
	APIKeys       map[model.ProviderID]string `yaml:"-"`
}

type TelegramConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	PollTimeout    int           `yaml:"poll_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

type CacheConfig struct {
	MaxSize int           `yaml:"max_size"`
	TTL     time.Duration `yaml:"ttl"`
}

type HistoryConfig struct {
	Backend   string `yaml:"backend"`
	Retention int    `yaml:"retention"`
	Context   int    `yaml:"context"`
}

type ProviderConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	MaxWallTime     time.Duration `yaml:"max_wall_time"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
	Temperature     float64       `yaml:"temperature"`
}

type CircuitConfig struct {
	Threshold int           `yaml:"threshold"`
	Cooldown  time.Duration `yaml:"cooldown"`
}

// UsageConfig is one provider account's counters.
type UsageConfig struct {
	Period string         `yaml:"period"`
	Tiers  map[string]int `yaml:"tiers"`
}

type DummyConfig struct {
	ProviderScript  string `yaml:"provider_script"`
	CommanderScript string `yaml:"commander_script"`
	SendScript      string `yaml:"send_script"`
}

// Default returns the built-in settings.
func Default() Config {
	policy := control.DefaultPolicy()
	return Config{
		Commander:        "telegram",
		DBPath:           db.MemoryPath,
		DefaultModel:     "deepseek",
		SystemPrompt:     defaultSystemPrompt,
		MaxMessageLength: 4096,
		ChunkReserve:     50,
		ChunkSubReserve:  100,
		MaxInFlight:      8,
		ImageModel:       "dall-e-3",
		Telegram: TelegramConfig{
			Endpoint:       "https://api.telegram.org",
			PollTimeout:    30,
			RequestTimeout: 45 * time.Second,
		},
		RateLimit: RateLimitConfig{MaxRequests: 10, Window: time.Minute},
		Cache:     CacheConfig{MaxSize: 100, TTL: time.Hour},
		History:   HistoryConfig{Backend: "memory", Retention: 10, Context: 5},
		Provider: ProviderConfig{
			Timeout:         policy.ProviderTimeout,
			MaxRetries:      policy.MaxRetries,
			MaxWallTime:     policy.MaxWallTime,
			MaxOutputTokens: 2000,
			Temperature:     0.7,
		},
		Circuit: CircuitConfig{Threshold: 3, Cooldown: 5 * time.Minute},
		Usage: map[string]UsageConfig{
			string(model.OpenRouter): {Period: "daily", Tiers: map[string]int{"free": 100, "paid": 1000}},
			string(model.Friendli):   {Period: "daily", Tiers: map[string]int{"qwen3_highlights": 1000, "total": 5000}},
			string(model.OpenAI):     {Period: "daily", Tiers: map[string]int{"paid": 1000, "images": 50}},
			string(model.Anthropic):  {Period: "daily", Tiers: map[string]int{"paid": 1000}},
		},
		Dummy: DummyConfig{ProviderScript: "echo", CommanderScript: "ok", SendScript: "ok"},
	}
}

// Load reads path (or DefaultPath when path is empty and the file exists),
// applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Commander = envOrDefault("RELAYBOT_COMMANDER", c.Commander)
	c.DBPath = envOrDefault("RELAYBOT_DB_PATH", c.DBPath)
	c.DefaultModel = envOrDefault("RELAYBOT_DEFAULT_MODEL", c.DefaultModel)
	c.SystemPrompt = envOrDefault("RELAYBOT_SYSTEM_PROMPT", c.SystemPrompt)
	c.MaxMessageLength = envIntOrDefault("RELAYBOT_MAX_MESSAGE_LENGTH", c.MaxMessageLength)
	c.MaxInFlight = envIntOrDefault("RELAYBOT_MAX_IN_FLIGHT", c.MaxInFlight)
	c.EnableDummy = envBoolOrDefault("RELAYBOT_ENABLE_DUMMY", c.EnableDummy)
	c.History.Backend = envOrDefault("RELAYBOT_HISTORY_BACKEND", c.History.Backend)
	c.Telegram.PollTimeout = envIntOrDefault("TG_TIMEOUT", c.Telegram.PollTimeout)
	c.Provider.MaxRetries = envIntOrDefault("RELAYBOT_PROVIDER_MAX_RETRIES", c.Provider.MaxRetries)
	c.Dummy.ProviderScript = envOrDefault("RELAYBOT_DUMMY_PROVIDER_SCRIPT", c.Dummy.ProviderScript)
	c.Dummy.CommanderScript = envOrDefault("RELAYBOT_DUMMY_COMMANDER_SCRIPT", c.Dummy.CommanderScript)
	c.Dummy.SendScript = envOrDefault("RELAYBOT_DUMMY_SEND_SCRIPT", c.Dummy.SendScript)

	var err error
	if c.Provider.Timeout, err = envDurationOrDefault("RELAYBOT_PROVIDER_TIMEOUT", c.Provider.Timeout); err != nil {
		return err
	}
	if c.RateLimit.Window, err = envDurationOrDefault("RELAYBOT_RATE_LIMIT_WINDOW", c.RateLimit.Window); err != nil {
		return err
	}
	c.RateLimit.MaxRequests = envIntOrDefault("RELAYBOT_RATE_LIMIT_MAX_REQUESTS", c.RateLimit.MaxRequests)

	c.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	c.APIKeys = map[model.ProviderID]string{}
	for p, key := range map[model.ProviderID]string{
		model.OpenRouter: "OPENROUTER_API_KEY",
		model.Friendli:   "FRIENDLI_API_KEY",
		model.OpenAI:     "OPENAI_API_KEY",
		model.Anthropic:  "ANTHROPIC_API_KEY",
	} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			c.APIKeys[p] = v
		}
	}
	return nil
}

// Validate checks ranges, the model catalog against usage tiers, and that the
// default model is reachable.
func (c Config) Validate() error {
	switch c.Commander {
	case "telegram":
		if c.TelegramToken == "" {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN is required in environment when commander=telegram")
		}
	case "dummy":
	default:
		return fmt.Errorf("invalid commander %q: want telegram or dummy", c.Commander)
	}
	switch c.History.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("invalid history.backend %q: want memory or sqlite", c.History.Backend)
	}

	positive := []struct {
		name  string
		value int64
	}{
		{"max_message_length", int64(c.MaxMessageLength)},
		{"max_in_flight", int64(c.MaxInFlight)},
		{"rate_limit.max_requests", int64(c.RateLimit.MaxRequests)},
		{"rate_limit.window", int64(c.RateLimit.Window)},
		{"history.retention", int64(c.History.Retention)},
		{"provider.timeout", int64(c.Provider.Timeout)},
		{"provider.max_output_tokens", int64(c.Provider.MaxOutputTokens)},
		{"telegram.request_timeout", int64(c.Telegram.RequestTimeout)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be > 0", p.name)
		}
	}
	if c.Provider.MaxRetries < 0 || c.ChunkReserve < 0 || c.ChunkSubReserve < 0 || c.History.Context < 0 || c.Cache.MaxSize < 0 {
		return fmt.Errorf("provider.max_retries, chunk reserves, history.context and cache.max_size must be >= 0")
	}
	if c.Telegram.PollTimeout < 0 {
		return fmt.Errorf("telegram.poll_timeout must be >= 0")
	}

	scopes, err := c.UsageScopes()
	if err != nil {
		return err
	}
	catalog := c.Catalog()
	acct := usage.New(nil, scopes...)
	if err := catalog.ValidateTiers(func(p model.ProviderID, tier string) bool {
		return acct.HasTier(string(p), tier)
	}); err != nil {
		return err
	}
	if len(catalog.List()) == 0 {
		return fmt.Errorf("no provider enabled: set one of OPENROUTER_API_KEY, FRIENDLI_API_KEY, OPENAI_API_KEY, ANTHROPIC_API_KEY or enable_dummy")
	}
	if _, ok := catalog.Lookup(c.DefaultModel); !ok {
		return fmt.Errorf("default_model %q is not available with the enabled providers", c.DefaultModel)
	}
	return nil
}

// Enabled reports whether a provider has credentials (or is the local dummy
// and dummies are allowed).
func (c Config) Enabled(p model.ProviderID) bool {
	if p == model.Dummy {
		return c.EnableDummy || c.Commander == "dummy"
	}
	return c.APIKeys[p] != ""
}

// EnabledProviders lists enabled providers in catalog order.
func (c Config) EnabledProviders() []model.ProviderID {
	var out []model.ProviderID
	for _, p := range model.Providers {
		if c.Enabled(p) {
			out = append(out, p)
		}
	}
	return out
}

// Catalog returns the built-in catalog restricted to enabled providers.
func (c Config) Catalog() *model.Catalog {
	return model.DefaultCatalog().Restrict(c.Enabled)
}

// UsageScopes converts the usage section into accounting scopes, sorted by
// name.
func (c Config) UsageScopes() ([]usage.Scope, error) {
	names := make([]string, 0, len(c.Usage))
	for name := range c.Usage {
		names = append(names, name)
	}
	sort.Strings(names)

	scopes := make([]usage.Scope, 0, len(names))
	for _, name := range names {
		if _, err := model.ParseProviderID(name); err != nil {
			return nil, fmt.Errorf("usage.%s: %w", name, err)
		}
		u := c.Usage[name]
		period, err := usage.ParsePeriod(u.Period)
		if err != nil {
			return nil, fmt.Errorf("usage.%s: %w", name, err)
		}
		limits := make(map[string]int, len(u.Tiers))
		for tier, limit := range u.Tiers {
			if limit < 0 {
				return nil, fmt.Errorf("usage.%s.tiers.%s must be >= 0", name, tier)
			}
			limits[tier] = limit
		}
		scopes = append(scopes, usage.Scope{Name: name, Period: period, Limits: limits})
	}
	return scopes, nil
}

// Policy returns the provider call policy.
func (c Config) Policy() control.Policy {
	p := control.DefaultPolicy()
	p.ProviderTimeout = c.Provider.Timeout
	p.MaxRetries = c.Provider.MaxRetries
	p.MaxWallTime = c.Provider.MaxWallTime
	return p
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}

func envDurationOrDefault(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
