package config

// Config is the root configuration for veil.
type Config struct {
	Server   ServerConfig   `yaml:"server,omitempty"`
	Models   ModelsConfig   `yaml:"models,omitempty"`
	Cache    CacheConfig    `yaml:"cache,omitempty"`
	History  HistoryConfig  `yaml:"history,omitempty"`
	Agent    AgentConfig    `yaml:"agent,omitempty"`
	Timeouts TimeoutsConfig `yaml:"timeouts,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
	Hooks    HooksConfig    `yaml:"hooks,omitempty"`
}

// ServerConfig controls the HTTP/WebSocket chat server.
type ServerConfig struct {
	Port            int      `yaml:"port,omitempty"`
	Bind            string   `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost  string   `yaml:"customBindHost,omitempty"`
	AllowedOrigins  []string `yaml:"allowedOrigins,omitempty"`
	MaxMessageChars int      `yaml:"maxMessageChars,omitempty"`
}

// ModelsConfig selects the provider and the model tiers.
type ModelsConfig struct {
	Provider    string      `yaml:"provider,omitempty"` // "openai" | "anthropic" | "mock"
	APIKey      string      `yaml:"apiKey,omitempty"`
	Endpoint    string      `yaml:"endpoint,omitempty"` // OpenAI-compatible base URL (Ollama, proxies)
	Temperature *float64    `yaml:"temperature,omitempty"`
	Tiers       TiersConfig `yaml:"tiers,omitempty"`
	TierPolicy  TierPolicy  `yaml:"tierPolicy,omitempty"`
}

// TiersConfig holds the two capability tiers.
type TiersConfig struct {
	Cheap TierEntry `yaml:"cheap,omitempty"`
	Full  TierEntry `yaml:"full,omitempty"`
}

// TierEntry binds a tier to a provider model and its token ceiling.
// Costs are USD per million tokens.
type TierEntry struct {
	Model          string  `yaml:"model,omitempty"`
	MaxTokens      int     `yaml:"maxTokens,omitempty"`
	InputCostPerM  float64 `yaml:"inputCostPerM,omitempty"`
	OutputCostPerM float64 `yaml:"outputCostPerM,omitempty"`
}

// TierPolicy tunes the cheap-tier heuristic.
type TierPolicy struct {
	MaxCheapChars   int      `yaml:"maxCheapChars,omitempty"`
	QuestionMarkers []string `yaml:"questionMarkers,omitempty"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Backend    string `yaml:"backend,omitempty"` // "memory" | "redis" | "none"
	TTLSeconds int    `yaml:"ttlSeconds,omitempty"`
	RedisURL   string `yaml:"redisUrl,omitempty"`
	KeyPrefix  string `yaml:"keyPrefix,omitempty"`
}

// HistoryConfig controls conversation persistence and the context window.
type HistoryConfig struct {
	Backend      string `yaml:"backend,omitempty"` // "memory" | "sqlite" | "postgres"
	Path         string `yaml:"path,omitempty"`    // sqlite file; defaults under the data dir
	DSN          string `yaml:"dsn,omitempty"`     // postgres
	WindowTurns  int    `yaml:"windowTurns,omitempty"`
	WindowTokens int    `yaml:"windowTokens,omitempty"`
}

// AgentConfig controls the orchestration loop.
type AgentConfig struct {
	SystemPrompt      string `yaml:"systemPrompt,omitempty"`
	MaxToolRounds     int    `yaml:"maxToolRounds,omitempty"`
	MaxParallelTools  int    `yaml:"maxParallelTools,omitempty"`
	RetrievalBudget   int    `yaml:"retrievalBudget,omitempty"`
	RetrievalMaxChars int    `yaml:"retrievalMaxChars,omitempty"`
}

// TimeoutsConfig bounds every external call, in seconds.
type TimeoutsConfig struct {
	ModelSeconds     int `yaml:"modelSeconds,omitempty"`
	RetrievalSeconds int `yaml:"retrievalSeconds,omitempty"`
	ToolSeconds      int `yaml:"toolSeconds,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"`        // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
	File         string `yaml:"file,omitempty"`
}

// HooksConfig toggles built-in hook handlers.
type HooksConfig struct {
	LogEvents bool `yaml:"logEvents,omitempty"` // log every engine lifecycle event at debug level
}
