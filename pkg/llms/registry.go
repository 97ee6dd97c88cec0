package llms

import (
	"fmt"

	"github.com/browserflow/browserflow/pkg/config"
)

// NewProviderFromConfig builds a chat backend for the configured provider.
func NewProviderFromConfig(cfg *config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}
