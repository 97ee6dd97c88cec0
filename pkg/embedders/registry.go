package embedders

import (
	"fmt"

	"github.com/browserflow/browserflow/pkg/config"
)

// NewEmbedderFromConfig builds an Embedder for the configured provider.
func NewEmbedderFromConfig(cfg *config.EmbedderConfig) (Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedder provider: %s", cfg.Provider)
	}
}
