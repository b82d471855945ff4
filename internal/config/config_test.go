package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/relaybot/internal/model"
)

func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("TELEGRAM_BOT_TOKEN", "test-token")
	t.Setenv("OPENROUTER_API_KEY", "or-key")
	for _, k := range []string{"FRIENDLI_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "RELAYBOT_COMMANDER", "RELAYBOT_DEFAULT_MODEL", "RELAYBOT_ENABLE_DUMMY"} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relaybot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	setupEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "telegram", cfg.Commander)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, 4096, cfg.MaxMessageLength)
	assert.Equal(t, 50, cfg.ChunkReserve)
	assert.Equal(t, 10, cfg.RateLimit.MaxRequests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 100, cfg.Cache.MaxSize)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 10, cfg.History.Retention)
	assert.Equal(t, 5, cfg.History.Context)
	assert.Equal(t, 60*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, "or-key", cfg.APIKeys[model.OpenRouter])
	assert.Equal(t, []model.ProviderID{model.OpenRouter}, cfg.EnabledProviders())
}

func TestLoad_RequiresTelegramToken(t *testing.T) {
	setupEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")
}

func TestLoad_RequiresSomeProvider(t *testing.T) {
	setupEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no provider enabled")
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	setupEnv(t)
	path := writeFile(t, `
commander: dummy
default_model: dummy
max_message_length: 1000
rate_limit:
  max_requests: 3
  window: 30s
history:
  backend: sqlite
  context: 2
usage:
  openrouter:
    period: monthly
    tiers: {free: 5, paid: 7}
`)
	t.Setenv("RELAYBOT_MAX_IN_FLIGHT", "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "dummy", cfg.Commander)
	assert.Equal(t, 1000, cfg.MaxMessageLength)
	assert.Equal(t, 3, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, "sqlite", cfg.History.Backend)
	assert.Equal(t, 2, cfg.History.Context)
	assert.Equal(t, 10, cfg.History.Retention)
	assert.Equal(t, 2, cfg.MaxInFlight)
	assert.True(t, cfg.Enabled(model.Dummy))

	scopes, err := cfg.UsageScopes()
	require.NoError(t, err)
	var found bool
	for _, s := range scopes {
		if s.Name == "openrouter" {
			found = true
			assert.Equal(t, 30*24*time.Hour, s.Period)
			assert.Equal(t, map[string]int{"free": 5, "paid": 7}, s.Limits)
		}
	}
	assert.True(t, found)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	setupEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate_RejectsMissingTier(t *testing.T) {
	setupEnv(t)
	path := writeFile(t, `
usage:
  openrouter:
    tiers: {free: 5}
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openrouter/paid")
}

func TestValidate_RejectsUnknownUsageScope(t *testing.T) {
	setupEnv(t)
	path := writeFile(t, `
usage:
  mistral:
    tiers: {paid: 5}
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage.mistral")
}

func TestValidate_DefaultModelMustBeEnabled(t *testing.T) {
	setupEnv(t)
	t.Setenv("RELAYBOT_DEFAULT_MODEL", "qwen3")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qwen3")
}

func TestValidate_Ranges(t *testing.T) {
	setupEnv(t)
	t.Setenv("RELAYBOT_RATE_LIMIT_MAX_REQUESTS", "0")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate_limit.max_requests")

	t.Setenv("RELAYBOT_RATE_LIMIT_MAX_REQUESTS", "")
	t.Setenv("RELAYBOT_PROVIDER_TIMEOUT", "soon")
	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RELAYBOT_PROVIDER_TIMEOUT")
}

func TestPolicy(t *testing.T) {
	cfg := Default()
	cfg.Provider.Timeout = 5 * time.Second
	cfg.Provider.MaxRetries = 0
	p := cfg.Policy()
	assert.Equal(t, 5*time.Second, p.ProviderTimeout)
	assert.Equal(t, 0, p.MaxRetries)
}
