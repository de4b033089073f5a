package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/buyornot/internal/common"
	"github.com/Veraticus/buyornot/internal/service"
	"google.golang.org/genai"
)

const defaultGeminiModel = "text-embedding-004"

// GeminiEmbedder calls the Gemini embedding API.
type GeminiEmbedder struct {
	client    *genai.Client
	model     string
	retryOpts service.RetryOptions
}

// NewGeminiEmbedder creates a Gemini embedder.
func NewGeminiEmbedder(ctx context.Context, cfg Config) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key is required", common.ErrMissingConfig)
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}

	return &GeminiEmbedder{
		client:    client,
		model:     model,
		retryOpts: retryOptions(cfg),
	}, nil
}

// Name returns the provider name.
func (g *GeminiEmbedder) Name() string { return "gemini" }

// Embed returns the embedding for text.
func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := checkText(text); err != nil {
		return nil, err
	}

	var vector []float32
	err := common.WithRetry(ctx, func() error {
		resp, err := g.client.Models.EmbedContent(ctx, g.model, genai.Text(text), nil)
		if err != nil {
			return classifyGeminiError(err)
		}
		if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
			return common.Permanent(ErrNoVector)
		}
		vector = resp.Embeddings[0].Values
		return nil
	}, g.retryOpts)
	if err != nil {
		return nil, err
	}
	return vector, nil
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		pe := &ProviderError{Provider: "gemini", StatusCode: apiErr.Code, Message: apiErr.Message}
		if apiErr.Code == 429 {
			return fmt.Errorf("%w: %w", common.ErrRateLimit, pe)
		}
		if apiErr.Code >= 500 {
			return &common.RetryableError{Err: pe, Retryable: true}
		}
		return common.Permanent(pe)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}

func retryOptions(cfg Config) service.RetryOptions {
	opts := service.RetryOptions{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialDelay == 0 {
		opts.InitialDelay = 200 * time.Millisecond
	}
	return opts
}
