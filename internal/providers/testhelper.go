package providers

import (
	"os"
)

// TestConfig holds provider configurations loaded from environment variables.
// This allows tests to use the same configuration pattern as production.
type TestConfig struct {
	OpenRouterAPIKey string
	OpenAIAPIKey     string
}

// LoadTestConfig loads provider API keys from environment variables.
func LoadTestConfig() TestConfig {
	return TestConfig{
		OpenRouterAPIKey: os.Getenv("OPENROUTER_API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
	}
}

// HasOpenRouter returns true if an OpenRouter API key is configured.
func (c TestConfig) HasOpenRouter() bool {
	return c.OpenRouterAPIKey != ""
}

// HasOpenAI returns true if an OpenAI API key is configured.
func (c TestConfig) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

// ToRegistryConfig converts test config to a RegistryConfig.
// Only providers with API keys are included.
func (c TestConfig) ToRegistryConfig() RegistryConfig {
	cfg := RegistryConfig{
		LLMProviders:   make(map[string]LLMProviderConfig),
		ImageProviders: make(map[string]ImageProviderConfig),
	}
	if c.HasOpenRouter() {
		cfg.LLMProviders[TypeOpenRouter] = LLMProviderConfig{
			Type:      TypeOpenRouter,
			APIKey:    c.OpenRouterAPIKey,
			RateLimit: 60,
			Enabled:   true,
		}
	}
	if c.HasOpenAI() {
		cfg.LLMProviders[TypeOpenAI] = LLMProviderConfig{
			Type:      TypeOpenAI,
			APIKey:    c.OpenAIAPIKey,
			RateLimit: 60,
			Enabled:   true,
		}
		cfg.ImageProviders[TypeOpenAI] = ImageProviderConfig{
			Type:      TypeOpenAI,
			APIKey:    c.OpenAIAPIKey,
			Size:      DefaultImageSize,
			RateLimit: 5,
			Enabled:   true,
		}
	}
	return cfg
}
