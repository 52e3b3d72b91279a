package config

import (
	"fmt"
	"net/url"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

type validator struct {
	issues []ValidationIssue
}

func (v *validator) add(path, format string, args ...any) {
	v.issues = append(v.issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) oneOf(path, value string, allowed []string) {
	if value != "" && !slices.Contains(allowed, value) {
		v.add(path, "must be one of %v, got %q", allowed, value)
	}
}

func (v *validator) positive(path string, n int) {
	if n <= 0 {
		v.add(path, "must be positive, got %d", n)
	}
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	v := &validator{}

	// Server
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		v.add("server.port", "port must be 0-65535, got %d", cfg.Server.Port)
	}
	v.oneOf("server.bind", cfg.Server.Bind, []string{"loopback", "lan", "custom"})
	if cfg.Server.Bind == "custom" && cfg.Server.CustomBindHost == "" {
		v.add("server.customBindHost", "required when bind is custom")
	}
	v.positive("server.maxMessageChars", cfg.Server.MaxMessageChars)

	// Models
	v.oneOf("models.provider", cfg.Models.Provider, []string{"openai", "anthropic", "mock"})
	if cfg.Models.Provider == "anthropic" && cfg.Models.APIKey == "" {
		v.add("models.apiKey", "required for provider anthropic")
	}
	if cfg.Models.Endpoint != "" {
		if u, err := url.Parse(cfg.Models.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			v.add("models.endpoint", "must be an absolute URL, got %q", cfg.Models.Endpoint)
		}
	}
	if t := cfg.Models.Temperature; t != nil && (*t < 0 || *t > 2) {
		v.add("models.temperature", "must be 0-2, got %g", *t)
	}
	tiers := []struct {
		name string
		tier TierEntry
	}{{"cheap", cfg.Models.Tiers.Cheap}, {"full", cfg.Models.Tiers.Full}}
	for _, t := range tiers {
		prefix, tier := "models.tiers."+t.name, t.tier
		if tier.Model == "" {
			v.add(prefix+".model", "model is required")
		}
		v.positive(prefix+".maxTokens", tier.MaxTokens)
		if tier.InputCostPerM < 0 || tier.OutputCostPerM < 0 {
			v.add(prefix, "costs must not be negative")
		}
	}
	if cfg.Models.TierPolicy.MaxCheapChars < 0 {
		v.add("models.tierPolicy.maxCheapChars", "must not be negative, got %d", cfg.Models.TierPolicy.MaxCheapChars)
	}

	// Cache
	v.oneOf("cache.backend", cfg.Cache.Backend, []string{"memory", "redis", "none"})
	v.positive("cache.ttlSeconds", cfg.Cache.TTLSeconds)
	if cfg.Cache.Backend == "redis" && cfg.Cache.RedisURL == "" {
		v.add("cache.redisUrl", "required when backend is redis")
	}

	// History
	v.oneOf("history.backend", cfg.History.Backend, []string{"memory", "sqlite", "postgres"})
	if cfg.History.Backend == "postgres" && cfg.History.DSN == "" {
		v.add("history.dsn", "required when backend is postgres")
	}
	v.positive("history.windowTurns", cfg.History.WindowTurns)
	v.positive("history.windowTokens", cfg.History.WindowTokens)

	// Agent
	v.positive("agent.maxToolRounds", cfg.Agent.MaxToolRounds)
	v.positive("agent.maxParallelTools", cfg.Agent.MaxParallelTools)
	if cfg.Agent.RetrievalBudget < 0 {
		v.add("agent.retrievalBudget", "must not be negative, got %d", cfg.Agent.RetrievalBudget)
	}

	// Timeouts
	v.positive("timeouts.modelSeconds", cfg.Timeouts.ModelSeconds)
	v.positive("timeouts.retrievalSeconds", cfg.Timeouts.RetrievalSeconds)
	v.positive("timeouts.toolSeconds", cfg.Timeouts.ToolSeconds)

	// Logging
	v.oneOf("logging.level", cfg.Logging.Level, []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"})
	v.oneOf("logging.consoleStyle", cfg.Logging.ConsoleStyle, []string{"pretty", "json"})

	return v.issues
}
