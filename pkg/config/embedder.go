package config

import "fmt"

// EmbedderConfig configures the embedding backend.
type EmbedderConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Dimension  int    `yaml:"dimension"`
	BatchSize  int    `yaml:"batch_size"`
	Timeout    int    `yaml:"timeout"`
	MaxRetries int    `yaml:"max_retries"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.APIKey == "" {
		c.APIKey = GetProviderAPIKey(c.Provider)
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Dimension == 0 {
		c.Dimension = 1536
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

func (c *EmbedderConfig) Validate() error {
	switch c.Provider {
	case "openai":
	default:
		return fmt.Errorf("unsupported embedder provider: %s", c.Provider)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("embedder dimension must be positive")
	}
	if c.BatchSize <= 0 || c.BatchSize > 100 {
		return fmt.Errorf("embedder batch_size must be in (0, 100], got %d", c.BatchSize)
	}
	return nil
}
