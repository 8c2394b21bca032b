package provider

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/opencode-ai/opal/internal/config"
	"github.com/opencode-ai/opal/internal/logging"
)

// Registry manages all available providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	config    *config.Config
}

// NewRegistry creates a new provider registry.
func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		config:    cfg,
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.ID()] = provider
}

// Get retrieves a provider by ID.
func (r *Registry) Get(providerID string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", providerID)
	}
	return provider, nil
}

// List returns all available providers.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	return providers
}

// GetModel retrieves a specific model from a provider.
func (r *Registry) GetModel(providerID, modelID string) (*Model, error) {
	provider, err := r.Get(providerID)
	if err != nil {
		return nil, err
	}

	for _, m := range provider.Models() {
		if m.ID == modelID {
			return &m, nil
		}
	}

	return nil, fmt.Errorf("model not found: %s/%s", providerID, modelID)
}

// AllModels returns all models from all providers, sorted by quality
// priority, highest first.
func (r *Registry) AllModels() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var models []Model
	for _, p := range r.providers {
		models = append(models, p.Models()...)
	}

	sort.Slice(models, func(i, j int) bool {
		return modelPriority(models[i].ID) > modelPriority(models[j].ID)
	})

	return models
}

// DefaultModel returns the configured default model, falling back to
// Claude Sonnet if available, else the highest-priority registered
// model.
func (r *Registry) DefaultModel() (*Model, error) {
	if r.config != nil && r.config.DefaultModel != "" {
		providerID, modelID := ParseModelString(r.config.DefaultModel)
		if m, err := r.GetModel(providerID, modelID); err == nil {
			return m, nil
		}
	}

	if m, err := r.GetModel("anthropic", "claude-sonnet-4-20250514"); err == nil {
		return m, nil
	}

	models := r.AllModels()
	if len(models) == 0 {
		return nil, fmt.Errorf("no models available")
	}
	return &models[0], nil
}

// ParseModelString parses the "provider/model" reference format used
// throughout configuration and the RPC surface.
func ParseModelString(s string) (providerID, modelID string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", s
}

func modelPriority(modelID string) int {
	switch {
	case strings.Contains(modelID, "gpt-5"):
		return 100
	case strings.Contains(modelID, "claude-sonnet-4"):
		return 90
	case strings.Contains(modelID, "claude-opus"):
		return 85
	case strings.Contains(modelID, "gpt-4o"):
		return 80
	case strings.Contains(modelID, "claude-3-5"), strings.Contains(modelID, "claude-haiku-4"):
		return 75
	default:
		return 50
	}
}

// InitializeProviders constructs and registers every provider named in
// cfg.Provider (skipping disabled entries), then auto-registers
// anthropic/openai from their well-known API key environment variables
// for any provider the config left unconfigured.
func InitializeProviders(ctx context.Context, cfg *config.Config) (*Registry, error) {
	registry := NewRegistry(cfg)
	configured := make(map[string]bool)

	for name, pc := range cfg.Provider {
		if pc.Disable {
			continue
		}
		configured[name] = true

		kind := inferProviderKind(name)
		var provider Provider
		var err error

		switch kind {
		case "anthropic":
			provider, err = NewAnthropicProvider(ctx, &AnthropicConfig{
				ID:        name,
				APIKey:    pc.APIKey,
				BaseURL:   pc.BaseURL,
				Model:     pc.Model,
				MaxTokens: 8192,
			})
		case "openai":
			provider, err = NewOpenAIProvider(ctx, &OpenAIConfig{
				ID:        name,
				APIKey:    pc.APIKey,
				BaseURL:   pc.BaseURL,
				Model:     pc.Model,
				MaxTokens: 4096,
			})
		default:
			err = fmt.Errorf("unrecognized provider kind for %q", name)
		}

		if err != nil {
			logging.Logger.Warn().Str("provider", name).Err(err).Msg("skipping provider")
			continue
		}
		registry.Register(provider)
	}

	if !configured["anthropic"] {
		if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
			if provider, err := NewAnthropicProvider(ctx, &AnthropicConfig{ID: "anthropic", APIKey: apiKey, MaxTokens: 8192}); err == nil {
				registry.Register(provider)
				logging.Logger.Info().Msg("auto-registered anthropic provider from ANTHROPIC_API_KEY")
			}
		}
	}

	if !configured["openai"] {
		if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
			if provider, err := NewOpenAIProvider(ctx, &OpenAIConfig{ID: "openai", APIKey: apiKey, MaxTokens: 4096}); err == nil {
				registry.Register(provider)
				logging.Logger.Info().Msg("auto-registered openai provider from OPENAI_API_KEY")
			}
		}
	}

	return registry, nil
}

// inferProviderKind maps a configured provider name to the backend that
// serves it. OpenAI-compatible endpoints (local models, third-party
// gateways) register under any name so long as a base_url is supplied;
// they are treated as the openai kind since eino's openai chat model
// already speaks that wire format.
func inferProviderKind(name string) string {
	switch name {
	case "anthropic", "claude":
		return "anthropic"
	default:
		return "openai"
	}
}
