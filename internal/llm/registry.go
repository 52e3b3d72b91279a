package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/soyeahso/veil/internal/config"
	"github.com/soyeahso/veil/internal/logging"
)

// ProviderError is returned when a model provider fails.
type ProviderError struct {
	Provider string
	Message  string
	Code     int // HTTP status code (401, 429, 500, etc.)
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Registry manages provider clients and resolves model names to clients.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client // provider name → client
	aliases  map[string]string // model name → provider name
	fallback string
	log      *logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients: make(map[string]Client),
		aliases: make(map[string]string),
		log:     log.Sub("llm.registry"),
	}
}

// Register adds a client under the given provider name.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	r.log.Info().Str("provider", name).Msg("registered model provider")
}

// Alias maps a model name to a provider, e.g. Alias("gpt-4o-mini", "openai").
func (r *Registry) Alias(model, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[model] = provider
}

// SetFallback sets the provider used when no name or alias matches.
func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// Resolve returns the Client for the given model reference.
// Resolution order: exact provider name → alias → fallback.
func (r *Registry) Resolve(model string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.clients[model]; ok {
		return c, nil
	}
	if provider, ok := r.aliases[model]; ok {
		if c, ok := r.clients[provider]; ok {
			return c, nil
		}
	}
	if r.fallback != "" {
		if c, ok := r.clients[r.fallback]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no model provider for %q", model)
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewRegistryFromConfig builds a Registry holding the configured provider,
// with both tier models aliased to it.
func NewRegistryFromConfig(cfg config.ModelsConfig, log *logging.Logger) (*Registry, error) {
	reg := NewRegistry(log)

	var client Client
	switch cfg.Provider {
	case "openai", "":
		client = NewOpenAIClient(cfg.APIKey, cfg.Endpoint, cfg.Tiers.Full.Model)
	case "anthropic":
		client = NewAnthropicClient(cfg.APIKey, cfg.Endpoint, cfg.Tiers.Full.Model)
	case "mock":
		client = NewEchoClient("mock")
	default:
		return nil, &ProviderError{Provider: cfg.Provider, Message: "unknown provider"}
	}

	name := client.Name()
	reg.Register(name, client)
	reg.SetFallback(name)
	reg.Alias(cfg.Tiers.Cheap.Model, name)
	reg.Alias(cfg.Tiers.Full.Model, name)
	return reg, nil
}
