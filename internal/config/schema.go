package config

import "time"

// Config holds picturebook configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Store          StoreCfg                    `mapstructure:"store" yaml:"store"`
	Defra          DefraConfig                 `mapstructure:"defra" yaml:"defra"`
	LLMProviders   map[string]LLMProviderCfg   `mapstructure:"llm_providers" yaml:"llm_providers"`
	ImageProviders map[string]ImageProviderCfg `mapstructure:"image_providers" yaml:"image_providers"`
	Defaults       DefaultsCfg                 `mapstructure:"defaults" yaml:"defaults"`
	Story          StoryCfg                    `mapstructure:"story" yaml:"story"`
	Log            LogCfg                      `mapstructure:"log" yaml:"log"`
}

// StoreCfg selects the book store backend.
type StoreCfg struct {
	Backend    string `mapstructure:"backend" yaml:"backend"`         // memory, sqlite, badger, defra
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"` // Empty: {home}/picturebook.db
	BadgerPath string `mapstructure:"badger_path" yaml:"badger_path"` // Empty: {home}/badger
}

// LLMProviderCfg configures a summarizer provider.
type LLMProviderCfg struct {
	Type      string `mapstructure:"type" yaml:"type"`             // "openrouter", "openai"
	Model     string `mapstructure:"model" yaml:"model"`           // Model name
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`       // API key (supports ${ENV_VAR} syntax)
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`     // Optional endpoint override
	RateLimit int    `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per minute
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
}

// ImageProviderCfg configures an image generation provider.
type ImageProviderCfg struct {
	Type      string `mapstructure:"type" yaml:"type"` // "openai"
	Model     string `mapstructure:"model" yaml:"model"`
	Size      string `mapstructure:"size" yaml:"size"` // e.g. 512x512
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	RateLimit int    `mapstructure:"rate_limit" yaml:"rate_limit"`
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultsCfg specifies default provider selections.
type DefaultsCfg struct {
	LLMProvider   string `mapstructure:"llm_provider" yaml:"llm_provider"`
	ImageProvider string `mapstructure:"image_provider" yaml:"image_provider"`
	MaxWorkers    int    `mapstructure:"max_workers" yaml:"max_workers"` // Regeneration workers
	Structured    bool   `mapstructure:"structured" yaml:"structured"`   // JSON-schema summaries
}

// StoryCfg tunes the edit and regeneration timing.
type StoryCfg struct {
	JobDelay     time.Duration `mapstructure:"job_delay" yaml:"job_delay"`
	CommitDelay  time.Duration `mapstructure:"commit_delay" yaml:"commit_delay"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	QueueSize    int           `mapstructure:"queue_size" yaml:"queue_size"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"` // Live session refresh
}

// LogCfg configures the server logger.
type LogCfg struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text, json
}

// DefraConfig holds DefraDB container configuration.
type DefraConfig struct {
	// ContainerName is the Docker container name; empty derives one from the home path.
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	// Image is the Docker image to use (default: sourcenetwork/defradb:latest)
	Image string `mapstructure:"image" yaml:"image"`
	// Port is the host port to bind (default: 9181)
	Port string `mapstructure:"port" yaml:"port"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreCfg{
			Backend: "sqlite",
		},
		Defra: DefraConfig{
			Image: "sourcenetwork/defradb:latest",
			Port:  "9181",
		},
		LLMProviders: map[string]LLMProviderCfg{
			"openrouter": {
				Type:      "openrouter",
				Model:     "openai/gpt-4o-mini",
				APIKey:    "${OPENROUTER_API_KEY}",
				RateLimit: 60,
				Enabled:   true,
			},
			"openai": {
				Type:      "openai",
				Model:     "gpt-4o-mini",
				APIKey:    "${OPENAI_API_KEY}",
				RateLimit: 60,
				Enabled:   false,
			},
		},
		ImageProviders: map[string]ImageProviderCfg{
			"openai": {
				Type:      "openai",
				Model:     "dall-e-2",
				Size:      "512x512",
				APIKey:    "${OPENAI_API_KEY}",
				RateLimit: 30,
				Enabled:   true,
			},
		},
		Defaults: DefaultsCfg{
			LLMProvider:   "openrouter",
			ImageProvider: "openai",
			MaxWorkers:    4,
		},
		Story: StoryCfg{
			JobDelay:     5 * time.Second,
			CommitDelay:  500 * time.Millisecond,
			IdleTimeout:  5 * time.Second,
			QueueSize:    256,
			PollInterval: 2 * time.Second,
		},
		Log: LogCfg{
			Level:  "info",
			Format: "text",
		},
	}
}

// GetLLMProvider returns an LLM provider config by name.
func (c *Config) GetLLMProvider(name string) (LLMProviderCfg, bool) {
	cfg, ok := c.LLMProviders[name]
	return cfg, ok
}

// GetImageProvider returns an image provider config by name.
func (c *Config) GetImageProvider(name string) (ImageProviderCfg, bool) {
	cfg, ok := c.ImageProviders[name]
	return cfg, ok
}

// EnabledLLMProviders returns all enabled LLM providers.
func (c *Config) EnabledLLMProviders() map[string]LLMProviderCfg {
	result := make(map[string]LLMProviderCfg)
	for name, cfg := range c.LLMProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}

// EnabledImageProviders returns all enabled image providers.
func (c *Config) EnabledImageProviders() map[string]ImageProviderCfg {
	result := make(map[string]ImageProviderCfg)
	for name, cfg := range c.ImageProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}
