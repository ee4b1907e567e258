package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"

	"github.com/HCPTangHY/Lim-Code/internal/logging"
	"github.com/HCPTangHY/Lim-Code/pkg/types"
)

// Registry manages all configured providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	config    *types.Config
}

// NewRegistry creates a new provider registry.
func NewRegistry(config *types.Config) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		config:    config,
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

// Get retrieves a provider by ID.
func (r *Registry) Get(providerID string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", providerID)
	}
	return p, nil
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

// GetModel retrieves a specific model from a provider. For an unknown
// model id the error names the closest known one.
func (r *Registry) GetModel(providerID, modelID string) (*types.Model, error) {
	p, err := r.Get(providerID)
	if err != nil {
		return nil, err
	}

	for _, m := range p.Models() {
		if m.ID == modelID {
			return &m, nil
		}
	}

	if suggestion := r.Suggest(modelID); suggestion != "" {
		return nil, fmt.Errorf("model not found: %s/%s (did you mean %q?)", providerID, modelID, suggestion)
	}
	return nil, fmt.Errorf("model not found: %s/%s", providerID, modelID)
}

// AllModels returns all models from all providers.
func (r *Registry) AllModels() []types.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var models []types.Model
	for _, p := range r.providers {
		models = append(models, p.Models()...)
	}
	return models
}

// Suggest returns the known model id closest to the given one, or ""
// when nothing is plausibly close.
func (r *Registry) Suggest(modelID string) string {
	best := ""
	bestDist := len(modelID)/2 + 1
	for _, m := range r.AllModels() {
		d := levenshtein.ComputeDistance(modelID, m.ID)
		if d < bestDist {
			best = m.ID
			bestDist = d
		}
	}
	return best
}

// DefaultModel returns the configured default model, falling back to
// the first available one.
func (r *Registry) DefaultModel() (*types.Model, error) {
	if r.config != nil && r.config.Model != "" {
		providerID, modelID := ParseModelString(r.config.Model)
		return r.GetModel(providerID, modelID)
	}

	if m, err := r.GetModel("anthropic", defaultClaudeModel); err == nil {
		return m, nil
	}

	models := r.AllModels()
	if len(models) == 0 {
		return nil, fmt.Errorf("no models available")
	}
	return &models[0], nil
}

// ParseModelString parses "provider/model" format.
func ParseModelString(s string) (providerID, modelID string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", s
}

// Initialize constructs providers for every enabled config entry.
// A provider that fails to initialize (missing key, bad endpoint) is
// skipped with a warning so the others stay usable.
func Initialize(ctx context.Context, cfg *types.Config) *Registry {
	reg := NewRegistry(cfg)
	log := logging.Component("provider")

	for id, pc := range cfg.Provider {
		if pc.Disable {
			continue
		}

		var (
			p   Provider
			err error
		)
		switch id {
		case "anthropic":
			p, err = NewAnthropicProvider(ctx, pc)
		case "openai":
			p, err = NewOpenAIProvider(ctx, pc)
		default:
			err = fmt.Errorf("unknown provider: %s", id)
		}
		if err != nil {
			log.Warn().Str("provider", id).Err(err).Msg("provider unavailable")
			continue
		}
		reg.Register(p)
		log.Info().Str("provider", id).Int("models", len(p.Models())).Msg("provider registered")
	}

	return reg
}
