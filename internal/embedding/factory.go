package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/Veraticus/buyornot/internal/common"
)

// New creates the configured Embedder. A positive CacheTTL wraps it in a
// CachingEmbedder.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	var (
		embedder Embedder
		err      error
	)

	switch strings.ToLower(cfg.Provider) {
	case "gemini":
		embedder, err = NewGeminiEmbedder(ctx, cfg)
	case "openai", "ollama":
		embedder, err = NewOpenAIEmbedder(cfg)
	case "hashing", "local", "":
		embedder = NewHashingEmbedder(cfg.Dimension)
	default:
		return nil, fmt.Errorf("%w: unsupported embedding provider %q", common.ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	if cfg.CacheTTL > 0 {
		return NewCachingEmbedder(embedder, cfg.CacheTTL), nil
	}
	return embedder, nil
}
