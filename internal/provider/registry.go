package provider

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog/log"

	"github.com/yabot-dev/yabot/pkg/types"
)

// DefaultProvider serves bare model ids no provider claims.
const DefaultProvider = "openai"

// Registry manages all available providers and implements Backend.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
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
		return nil, types.NewError(types.CodeModelUnavailable, "provider %s is not configured", providerID)
	}
	return provider, nil
}

// List returns all registered providers sorted by ID.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i].ID() < providers[j].ID() })
	return providers
}

// ParseModelString parses "provider/model" format.
func ParseModelString(s string) (providerID, modelID string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", s
}

// ProviderFor names the provider that serves a model name without
// requiring it to be registered.
func (r *Registry) ProviderFor(name string) (providerID, modelID string) {
	providerID, modelID = ParseModelString(name)
	if providerID != "" {
		return providerID, modelID
	}
	for _, p := range r.List() {
		for _, m := range p.Models() {
			if m.ID == modelID {
				return p.ID(), modelID
			}
		}
	}
	for _, m := range anthropicModels() {
		if m.ID == modelID {
			return "anthropic", modelID
		}
	}
	if strings.HasPrefix(modelID, "claude") {
		return "anthropic", modelID
	}
	return DefaultProvider, modelID
}

// Resolve returns the registered provider serving name.
func (r *Registry) Resolve(name string) (Provider, string, error) {
	if strings.TrimSpace(name) == "" {
		return nil, "", types.NewError(types.CodeModelUnavailable, "no model selected")
	}
	providerID, modelID := r.ProviderFor(name)
	p, err := r.Get(providerID)
	if err != nil {
		return nil, "", err
	}
	return p, modelID, nil
}

// Info describes a model name. Unknown models get no context length.
func (r *Registry) Info(name string) types.ModelInfo {
	providerID, modelID := r.ProviderFor(name)
	info := types.ModelInfo{ID: name, Provider: providerID}

	var known []types.ModelInfo
	if p, err := r.Get(providerID); err == nil {
		known = p.Models()
	}
	known = append(known, openAIModels()...)
	known = append(known, anthropicModels()...)
	for _, m := range known {
		if m.ID == modelID {
			info.Name = m.Name
			info.ContextLength = m.ContextLength
			break
		}
	}
	return info
}

// Catalog describes the configured model names in order, flagging the
// default.
func (r *Registry) Catalog(names []string, defaultModel string) []types.ModelInfo {
	catalog := make([]types.ModelInfo, 0, len(names))
	for _, name := range names {
		info := r.Info(name)
		info.Default = name == defaultModel
		catalog = append(catalog, info)
	}
	return catalog
}

// Send resolves the request's model and performs one Generate call.
func (r *Registry) Send(ctx context.Context, req Request) (Reply, error) {
	p, modelID, err := r.Resolve(req.Model)
	if err != nil {
		return Reply{}, err
	}

	chatModel := p.ChatModel()
	if len(req.Tools) > 0 {
		chatModel, err = chatModel.WithTools(req.Tools)
		if err != nil {
			return Reply{}, types.WrapError(types.CodeModelUnavailable, err, "failed to bind tools")
		}
	}

	out, err := chatModel.Generate(ctx, ToEinoMessages(req.System, req.History), model.WithModel(modelID))
	if err != nil {
		if ctx.Err() != nil {
			return Reply{}, ctx.Err()
		}
		return Reply{}, types.WrapError(types.CodeModelUnavailable, err, p.ID()+"/"+modelID)
	}
	return FromEinoMessage(out), nil
}

// InitializeProviders creates and registers every provider with credentials.
// Providers that fail to initialize are logged and skipped.
func InitializeProviders(ctx context.Context, config *types.Config) (*Registry, error) {
	registry := NewRegistry()

	if cfg, ok := config.Provider["anthropic"]; ok && cfg.APIKey != "" && !cfg.Disable {
		provider, err := NewAnthropicProvider(ctx, &AnthropicConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			log.Warn().Err(err).Str("provider", "anthropic").Msg("provider not available")
		} else {
			registry.Register(provider)
		}
	}

	if cfg, ok := config.Provider["openai"]; ok && cfg.APIKey != "" && !cfg.Disable {
		provider, err := NewOpenAIProvider(ctx, &OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			log.Warn().Err(err).Str("provider", "openai").Msg("provider not available")
		} else {
			registry.Register(provider)
		}
	}

	if cfg, ok := config.Provider["ark"]; ok && cfg.APIKey != "" && !cfg.Disable {
		provider, err := NewArkProvider(ctx, &ArkConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			log.Warn().Err(err).Str("provider", "ark").Msg("provider not available")
		} else {
			registry.Register(provider)
		}
	}

	if len(registry.List()) == 0 {
		log.Warn().Msg("no model provider configured; model calls will fail with model_unavailable")
	}
	return registry, nil
}
