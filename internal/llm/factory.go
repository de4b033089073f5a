package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/buyornot/internal/common"
)

// NewClient creates a rate-limited, retrying client for the configured
// provider. The returned client should be closed when no longer needed.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*RetryingClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		client Client
		err    error
	)
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		client, err = newOpenAIClient(cfg)
	case "anthropic":
		client, err = newAnthropicClient(cfg)
	case "gemini", "google":
		client, err = newGeminiClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported LLM provider: %q", common.ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	return newRetryingClient(client, cfg, logger), nil
}
