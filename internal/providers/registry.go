package providers

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Provider types understood by the registry.
const (
	TypeOpenRouter = "openrouter"
	TypeOpenAI     = "openai"
)

// Registry holds LLM clients and image generators by name.
// It supports config-driven instantiation and hot-reload, and provides
// thread-safe access.
type Registry struct {
	mu         sync.RWMutex
	llmClients map[string]LLMClient
	imageGens  map[string]ImageGenerator
	llmCfgs    map[string]LLMProviderConfig
	imageCfgs  map[string]ImageProviderConfig
	logger     *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		llmClients: make(map[string]LLMClient),
		imageGens:  make(map[string]ImageGenerator),
		llmCfgs:    make(map[string]LLMProviderConfig),
		imageCfgs:  make(map[string]ImageProviderConfig),
		logger:     slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// RegisterLLM registers an LLM client by name.
func (r *Registry) RegisterLLM(name string, client LLMClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llmClients[name] = client
	delete(r.llmCfgs, name)
	r.logger.Info("registered LLM client", "name", name)
}

// RegisterImage registers an image generator by name.
func (r *Registry) RegisterImage(name string, gen ImageGenerator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.imageGens[name] = gen
	delete(r.imageCfgs, name)
	r.logger.Info("registered image generator", "name", name)
}

// GetLLM returns an LLM client by name.
func (r *Registry) GetLLM(name string) (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.llmClients[name]
	if !ok {
		return nil, fmt.Errorf("LLM client not found: %s", name)
	}
	return client, nil
}

// GetImage returns an image generator by name.
func (r *Registry) GetImage(name string) (ImageGenerator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gen, ok := r.imageGens[name]
	if !ok {
		return nil, fmt.Errorf("image generator not found: %s", name)
	}
	return gen, nil
}

// ListLLM returns all registered LLM client names, sorted.
func (r *Registry) ListLLM() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.llmClients)
}

// ListImage returns all registered image generator names, sorted.
func (r *Registry) ListImage() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.imageGens)
}

// LimiterStatus reports the rate limiter state of every limited provider.
func (r *Registry) LimiterStatus() map[string]RateLimiterStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]RateLimiterStatus)
	for name, c := range r.llmClients {
		if rl, ok := c.(*RateLimitedLLM); ok {
			out["llm/"+name] = rl.Limiter().Status()
		}
	}
	for name, g := range r.imageGens {
		if rl, ok := g.(*RateLimitedImage); ok {
			out["image/"+name] = rl.Limiter().Status()
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegistryConfig defines the providers to instantiate from config.
type RegistryConfig struct {
	LLMProviders   map[string]LLMProviderConfig
	ImageProviders map[string]ImageProviderConfig
}

// LLMProviderConfig matches config.LLMProviderCfg with resolved API key.
type LLMProviderConfig struct {
	Type      string // "openrouter", "openai"
	Model     string
	APIKey    string // Resolved API key
	BaseURL   string // Optional override
	RateLimit int    // Requests per minute; 0 disables limiting
	Enabled   bool
}

// ImageProviderConfig matches config.ImageProviderCfg with resolved API key.
type ImageProviderConfig struct {
	Type      string // "openai"
	Model     string
	Size      string
	APIKey    string
	BaseURL   string
	RateLimit int
	Enabled   bool
}

// NewRegistryFromConfig creates a registry with providers based on configuration.
// Only enabled providers with valid API keys will be registered.
func NewRegistryFromConfig(cfg RegistryConfig, logger *slog.Logger) *Registry {
	r := NewRegistry()
	if logger != nil {
		r.logger = logger
	}
	r.Reload(cfg)
	return r
}

// Reload updates the registry based on new configuration.
// Providers that are no longer configured are unregistered and providers
// with changed settings are rebuilt. Clients registered by hand are kept.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wantLLM := make(map[string]bool)
	for name, provCfg := range cfg.LLMProviders {
		if !provCfg.Enabled || provCfg.APIKey == "" {
			continue
		}
		wantLLM[name] = true

		old, configured := r.llmCfgs[name]
		if configured && old == provCfg {
			continue
		}
		client := createLLMClient(provCfg)
		if client == nil {
			r.logger.Warn("unknown LLM provider type", "name", name, "type", provCfg.Type)
			continue
		}
		r.llmClients[name] = client
		r.llmCfgs[name] = provCfg
		if configured {
			r.logger.Info("updated LLM client", "name", name, "type", provCfg.Type)
		} else {
			r.logger.Info("registered LLM client", "name", name, "type", provCfg.Type)
		}
	}

	wantImage := make(map[string]bool)
	for name, provCfg := range cfg.ImageProviders {
		if !provCfg.Enabled || provCfg.APIKey == "" {
			continue
		}
		wantImage[name] = true

		old, configured := r.imageCfgs[name]
		if configured && old == provCfg {
			continue
		}
		gen := createImageGenerator(provCfg)
		if gen == nil {
			r.logger.Warn("unknown image provider type", "name", name, "type", provCfg.Type)
			continue
		}
		r.imageGens[name] = gen
		r.imageCfgs[name] = provCfg
		if configured {
			r.logger.Info("updated image generator", "name", name, "type", provCfg.Type)
		} else {
			r.logger.Info("registered image generator", "name", name, "type", provCfg.Type)
		}
	}

	for name := range r.llmCfgs {
		if !wantLLM[name] {
			delete(r.llmClients, name)
			delete(r.llmCfgs, name)
			r.logger.Info("unregistered LLM client", "name", name)
		}
	}
	for name := range r.imageCfgs {
		if !wantImage[name] {
			delete(r.imageGens, name)
			delete(r.imageCfgs, name)
			r.logger.Info("unregistered image generator", "name", name)
		}
	}
}

func createLLMClient(cfg LLMProviderConfig) LLMClient {
	var client LLMClient
	switch cfg.Type {
	case TypeOpenRouter:
		client = NewOpenRouterClient(OpenRouterConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
		})
	case TypeOpenAI:
		client = NewOpenAIChatClient(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	default:
		return nil
	}
	if cfg.RateLimit > 0 {
		client = NewRateLimitedLLM(client, NewRateLimiter(cfg.RateLimit))
	}
	return client
}

func createImageGenerator(cfg ImageProviderConfig) ImageGenerator {
	var gen ImageGenerator
	switch cfg.Type {
	case TypeOpenAI:
		gen = NewOpenAIImageClient(OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			ImageSize: cfg.Size,
		})
	default:
		return nil
	}
	if cfg.RateLimit > 0 {
		gen = NewRateLimitedImage(gen, NewRateLimiter(cfg.RateLimit))
	}
	return gen
}
