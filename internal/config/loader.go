package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := os.LookupEnv(match[2 : len(match)-1]); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields resolves ${ENV_VAR} references in credential and
// connection-string fields.
func expandSensitiveFields(cfg *Config) {
	cfg.Models.APIKey = expandEnvVars(cfg.Models.APIKey)
	cfg.Models.Endpoint = expandEnvVars(cfg.Models.Endpoint)
	cfg.Cache.RedisURL = expandEnvVars(cfg.Cache.RedisURL)
	cfg.History.DSN = expandEnvVars(cfg.History.DSN)
}

// LoadDotEnv loads KEY=VALUE pairs from a .env file into the process
// environment. Variables already set are not overwritten and a missing
// file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return Defaults(), err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Defaults(), &ConfigError{Message: "failed to parse config: " + err.Error()}
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

// applyEnvOverrides reads VEIL_* and provider environment variables and
// overrides config values. The OPENAI_* and GPT_* names are honored so an
// existing deployment environment keeps working.
func applyEnvOverrides(cfg *Config) {
	envInt("VEIL_PORT", &cfg.Server.Port)
	envString("VEIL_BIND", &cfg.Server.Bind)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("VEIL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}

	envString("VEIL_PROVIDER", &cfg.Models.Provider)
	envString("OPENAI_BASE_URL", &cfg.Models.Endpoint)
	switch cfg.Models.Provider {
	case "anthropic":
		envString("ANTHROPIC_API_KEY", &cfg.Models.APIKey)
	default:
		envString("OPENAI_API_KEY", &cfg.Models.APIKey)
	}
	envString("OPENAI_MODEL_MINI", &cfg.Models.Tiers.Cheap.Model)
	envString("OPENAI_MODEL_FULL", &cfg.Models.Tiers.Full.Model)
	var maxTokens int
	envInt("OPENAI_MAX_TOKENS", &maxTokens)
	if maxTokens > 0 {
		cfg.Models.Tiers.Cheap.MaxTokens = maxTokens
		cfg.Models.Tiers.Full.MaxTokens = maxTokens
	}

	envInt("GPT_CACHE_TTL_SECONDS", &cfg.Cache.TTLSeconds)
	envInt("VEIL_CACHE_TTL_SECONDS", &cfg.Cache.TTLSeconds)
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
		if cfg.Cache.Backend == "" {
			cfg.Cache.Backend = "redis"
		}
	}
	envString("VEIL_CACHE_BACKEND", &cfg.Cache.Backend)

	envString("VEIL_HISTORY_BACKEND", &cfg.History.Backend)
	envString("VEIL_HISTORY_DSN", &cfg.History.DSN)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
