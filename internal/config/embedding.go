package config

import (
	"fmt"
	"os"
)

// Embedding providers.
const (
	ProviderJina      = "jina"
	ProviderFastEmbed = "fastembed"
)

// EmbeddingConfig defines configuration for a single embedding backend.
type EmbeddingConfig struct {
	Name       string `mapstructure:"name"`        // Label used in logs and record metadata
	Provider   string `mapstructure:"provider"`    // "jina" or "fastembed"
	Model      string `mapstructure:"model"`       // Model name/ID
	APIKey     string `mapstructure:"api_key"`     // API key (can be set directly or via env var)
	APIKeyEnv  string `mapstructure:"api_key_env"` // Environment variable name for API key
	BaseURL    string `mapstructure:"base_url"`    // Override for the provider endpoint
	Dimensions int    `mapstructure:"dimensions"`  // Embedding vector dimensions
	CacheDir   string `mapstructure:"cache_dir"`   // Model cache for local providers
	MaxLength  int    `mapstructure:"max_length"`  // Max input tokens for local providers
}

// ResolveEnvVars loads APIKey from APIKeyEnv when it is not set directly.
func (c *EmbeddingConfig) ResolveEnvVars() {
	if c.APIKeyEnv != "" && c.APIKey == "" {
		if val := os.Getenv(c.APIKeyEnv); val != "" {
			c.APIKey = val
		}
	}
}

// IsRemote reports whether the provider is reached over the network.
func (c *EmbeddingConfig) IsRemote() bool {
	return c.Provider == ProviderJina
}

// Validate checks that the embedding configuration has all required fields.
// Remote providers also need an API key.
func (c *EmbeddingConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("embedding config: name is required")
	}
	if c.Model == "" {
		return fmt.Errorf("embedding %q: model is required", c.Name)
	}
	switch c.Provider {
	case ProviderJina, ProviderFastEmbed:
	case "":
		return fmt.Errorf("embedding %q: provider is required", c.Name)
	default:
		return fmt.Errorf("embedding %q: unknown provider %q", c.Name, c.Provider)
	}
	if c.Provider == ProviderJina && c.Dimensions <= 0 {
		return fmt.Errorf("embedding %q: dimensions must be positive", c.Name)
	}
	return nil
}

// ValidateWithAPIKey validates the configuration including the API key
// requirement. Use this when the backend is actually constructed.
func (c *EmbeddingConfig) ValidateWithAPIKey() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.IsRemote() && c.APIKey == "" {
		return fmt.Errorf("embedding %q: api_key is required (set directly or via %s)", c.Name, c.APIKeyEnv)
	}
	return nil
}
