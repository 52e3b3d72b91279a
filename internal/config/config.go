// Package config loads, defaults and validates veil's YAML configuration.
package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// DefaultSystemPrompt is the fixed instruction sent ahead of every conversation.
const DefaultSystemPrompt = "You are Veil, ThreatVeil's AI security analyst. Be concise, actionable, and professional. " +
	"Cite concrete signals when possible, include 1-2 next steps, and avoid speculation."

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

// applyDefaults fills zero-value fields with defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = "loopback"
	}
	if cfg.Server.MaxMessageChars == 0 {
		cfg.Server.MaxMessageChars = 4000
	}

	if cfg.Models.Provider == "" {
		cfg.Models.Provider = "openai"
	}
	if cfg.Models.Temperature == nil {
		t := 0.4
		cfg.Models.Temperature = &t
	}
	applyTierDefaults(&cfg.Models.Tiers.Cheap, "gpt-4o-mini")
	applyTierDefaults(&cfg.Models.Tiers.Full, "gpt-4o")
	if cfg.Models.TierPolicy.MaxCheapChars == 0 {
		cfg.Models.TierPolicy.MaxCheapChars = 80
	}
	if len(cfg.Models.TierPolicy.QuestionMarkers) == 0 {
		cfg.Models.TierPolicy.QuestionMarkers = []string{"?"}
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = 3600
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = "chat:"
	}

	if cfg.History.Backend == "" {
		cfg.History.Backend = "sqlite"
	}
	if cfg.History.WindowTurns == 0 {
		cfg.History.WindowTurns = 20
	}
	if cfg.History.WindowTokens == 0 {
		cfg.History.WindowTokens = 3000
	}

	if cfg.Agent.SystemPrompt == "" {
		cfg.Agent.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Agent.MaxToolRounds == 0 {
		cfg.Agent.MaxToolRounds = 5
	}
	if cfg.Agent.MaxParallelTools == 0 {
		cfg.Agent.MaxParallelTools = 4
	}
	if cfg.Agent.RetrievalBudget == 0 {
		cfg.Agent.RetrievalBudget = 4
	}
	if cfg.Agent.RetrievalMaxChars == 0 {
		cfg.Agent.RetrievalMaxChars = 2000
	}

	if cfg.Timeouts.ModelSeconds == 0 {
		cfg.Timeouts.ModelSeconds = 60
	}
	if cfg.Timeouts.RetrievalSeconds == 0 {
		cfg.Timeouts.RetrievalSeconds = 5
	}
	if cfg.Timeouts.ToolSeconds == 0 {
		cfg.Timeouts.ToolSeconds = 10
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
}

// knownPrices lists USD per million input/output tokens for models whose
// pricing is filled in when a tier leaves its costs unset.
var knownPrices = map[string][2]float64{
	"gpt-4o-mini": {0.15, 0.60},
	"gpt-4o":      {2.50, 10.00},
}

func applyTierDefaults(tier *TierEntry, model string) {
	if tier.Model == "" {
		tier.Model = model
	}
	if tier.MaxTokens == 0 {
		tier.MaxTokens = 500
	}
	if price, ok := knownPrices[tier.Model]; ok && tier.InputCostPerM == 0 && tier.OutputCostPerM == 0 {
		tier.InputCostPerM, tier.OutputCostPerM = price[0], price[1]
	}
}

// CacheTTL returns the cache TTL as a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// ModelTimeout returns the per-call model timeout.
func (c Config) ModelTimeout() time.Duration {
	return time.Duration(c.Timeouts.ModelSeconds) * time.Second
}

// RetrievalTimeout returns the per-call retrieval timeout.
func (c Config) RetrievalTimeout() time.Duration {
	return time.Duration(c.Timeouts.RetrievalSeconds) * time.Second
}

// ToolTimeout returns the default per-call tool timeout.
func (c Config) ToolTimeout() time.Duration {
	return time.Duration(c.Timeouts.ToolSeconds) * time.Second
}
