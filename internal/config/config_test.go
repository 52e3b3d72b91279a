package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable Load consults so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"VEIL_PORT", "VEIL_BIND", "CORS_ORIGINS", "VEIL_LOG_LEVEL", "VEIL_PROVIDER",
		"OPENAI_BASE_URL", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_MODEL_MINI",
		"OPENAI_MODEL_FULL", "OPENAI_MAX_TOKENS", "GPT_CACHE_TTL_SECONDS",
		"VEIL_CACHE_TTL_SECONDS", "REDIS_URL", "VEIL_CACHE_BACKEND",
		"VEIL_HISTORY_BACKEND", "VEIL_HISTORY_DSN",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "loopback", cfg.Server.Bind)
	assert.Equal(t, 4000, cfg.Server.MaxMessageChars)
	assert.Equal(t, "openai", cfg.Models.Provider)
	require.NotNil(t, cfg.Models.Temperature)
	assert.InDelta(t, 0.4, *cfg.Models.Temperature, 1e-9)
	assert.Equal(t, "gpt-4o-mini", cfg.Models.Tiers.Cheap.Model)
	assert.Equal(t, "gpt-4o", cfg.Models.Tiers.Full.Model)
	assert.Equal(t, 500, cfg.Models.Tiers.Cheap.MaxTokens)
	assert.InDelta(t, 0.15, cfg.Models.Tiers.Cheap.InputCostPerM, 1e-9)
	assert.InDelta(t, 10.0, cfg.Models.Tiers.Full.OutputCostPerM, 1e-9)
	assert.Equal(t, 80, cfg.Models.TierPolicy.MaxCheapChars)
	assert.Equal(t, []string{"?"}, cfg.Models.TierPolicy.QuestionMarkers)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 3600, cfg.Cache.TTLSeconds)
	assert.Equal(t, "chat:", cfg.Cache.KeyPrefix)
	assert.Equal(t, "sqlite", cfg.History.Backend)
	assert.Equal(t, 20, cfg.History.WindowTurns)
	assert.Equal(t, 5, cfg.Agent.MaxToolRounds)
	assert.Equal(t, DefaultSystemPrompt, cfg.Agent.SystemPrompt)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, Validate(&cfg))
}

func TestDurations(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "1h0m0s", cfg.CacheTTL().String())
	assert.Equal(t, "1m0s", cfg.ModelTimeout().String())
	assert.Equal(t, "5s", cfg.RetrievalTimeout().String())
	assert.Equal(t, "10s", cfg.ToolTimeout().String())
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadValidYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: 9999
  bind: lan
  allowedOrigins: ["https://app.example.com"]
models:
  provider: anthropic
  apiKey: sk-test
  temperature: 0
  tiers:
    cheap:
      model: claude-haiku
      maxTokens: 256
    full:
      model: claude-sonnet
cache:
  backend: none
  ttlSeconds: 60
history:
  backend: memory
  windowTurns: 6
logging:
  level: debug
  consoleStyle: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "lan", cfg.Server.Bind)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "anthropic", cfg.Models.Provider)
	require.NotNil(t, cfg.Models.Temperature)
	assert.Zero(t, *cfg.Models.Temperature)
	assert.Equal(t, "claude-haiku", cfg.Models.Tiers.Cheap.Model)
	assert.Equal(t, 256, cfg.Models.Tiers.Cheap.MaxTokens)
	assert.Zero(t, cfg.Models.Tiers.Cheap.InputCostPerM)
	assert.Equal(t, 500, cfg.Models.Tiers.Full.MaxTokens)
	assert.Equal(t, "none", cfg.Cache.Backend)
	assert.Equal(t, 60, cfg.Cache.TTLSeconds)
	assert.Equal(t, "memory", cfg.History.Backend)
	assert.Equal(t, 6, cfg.History.WindowTurns)
	assert.Equal(t, 3000, cfg.History.WindowTokens)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Empty(t, Validate(&cfg))
}

func TestLoadInvalidYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "server: [unclosed")
	_, err := Load(path)
	require.Error(t, err)
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
	assert.Contains(t, err.Error(), "config: failed to parse config")
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("VEIL_PORT", "7070")
	t.Setenv("VEIL_LOG_LEVEL", "DEBUG")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("OPENAI_MODEL_MINI", "mini-x")
	t.Setenv("OPENAI_MODEL_FULL", "full-x")
	t.Setenv("OPENAI_MAX_TOKENS", "900")
	t.Setenv("GPT_CACHE_TTL_SECONDS", "120")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example ,")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "sk-env", cfg.Models.APIKey)
	assert.Equal(t, "mini-x", cfg.Models.Tiers.Cheap.Model)
	assert.Equal(t, "full-x", cfg.Models.Tiers.Full.Model)
	assert.Equal(t, 900, cfg.Models.Tiers.Cheap.MaxTokens)
	assert.Equal(t, 900, cfg.Models.Tiers.Full.MaxTokens)
	assert.Equal(t, 120, cfg.Cache.TTLSeconds)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
}

func TestLoadEnvOverrides_VeilTTLWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("GPT_CACHE_TTL_SECONDS", "120")
	t.Setenv("VEIL_CACHE_TTL_SECONDS", "30")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Cache.TTLSeconds)
}

func TestLoadEnvOverrides_RedisURLSelectsRedis(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Cache.RedisURL)
}

func TestLoadEnvOverrides_RedisURLKeepsExplicitBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	path := writeConfig(t, "cache:\n  backend: memory\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Cache.Backend)
}

func TestLoadEnvOverrides_AnthropicKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	path := writeConfig(t, "models:\n  provider: anthropic\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant", cfg.Models.APIKey)
}

func TestLoadExpandsSensitiveFields(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_VEIL_KEY", "expanded-key")
	t.Setenv("TEST_VEIL_DSN", "postgres://u:p@db/veil")
	path := writeConfig(t, `
models:
  apiKey: ${TEST_VEIL_KEY}
history:
  backend: postgres
  dsn: ${TEST_VEIL_DSN}
cache:
  redisUrl: ${TEST_VEIL_UNSET_VAR}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "expanded-key", cfg.Models.APIKey)
	assert.Equal(t, "postgres://u:p@db/veil", cfg.History.DSN)
	assert.Equal(t, "${TEST_VEIL_UNSET_VAR}", cfg.Cache.RedisURL)
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("VEIL_PORT=6060\nOPENAI_MODEL_MINI=dotenv-mini\n"), 0o600))
	t.Setenv("OPENAI_MODEL_MINI", "process-mini")

	require.NoError(t, LoadDotEnv(envPath))
	t.Cleanup(func() { os.Unsetenv("VEIL_PORT") })

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.Server.Port)
	assert.Equal(t, "process-mini", cfg.Models.Tiers.Cheap.Model)
}

func TestLoadDotEnv_Missing(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestRawRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	raw, err := LoadRaw(path)
	require.NoError(t, err)
	assert.Empty(t, raw)

	SetValueAtPath(raw, []string{"cache", "ttlSeconds"}, 42)
	require.NoError(t, SaveRaw(path, raw))

	clearEnv(t)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Cache.TTLSeconds)
}
