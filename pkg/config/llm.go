package config

import "fmt"

// LLMConfig configures the reasoning backend.
type LLMConfig struct {
	Provider     string  `yaml:"provider"`
	Model        string  `yaml:"model"`
	APIKey       string  `yaml:"api_key"`
	BaseURL      string  `yaml:"base_url"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	Timeout      int     `yaml:"timeout"`
	MaxToolTurns int     `yaml:"max_tool_turns"`
}

func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.APIKey == "" {
		c.APIKey = GetProviderAPIKey(c.Provider)
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = 120
	}
	if c.MaxToolTurns == 0 {
		c.MaxToolTurns = 8
	}
}

func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case "openai":
	default:
		return fmt.Errorf("unsupported llm provider: %s", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("llm model is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("llm temperature must be in [0, 2], got %f", c.Temperature)
	}
	if c.MaxToolTurns < 1 {
		return fmt.Errorf("llm max_tool_turns must be positive")
	}
	return nil
}
