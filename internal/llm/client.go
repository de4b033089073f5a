package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/buyornot/internal/common"
)

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("empty response from model")

// Client defines the interface for LLM providers.
type Client interface {
	Send(ctx context.Context, req Request) (string, error)
	Name() string
}

// Request is a single-turn prompt, optionally with a photo attached.
type Request struct {
	Image     *Image
	System    string
	Prompt    string
	MaxTokens int // Overrides Config.MaxTokens when positive
}

// Image is raw image data sent inline with a prompt.
type Image struct {
	MIMEType string
	Data     []byte
}

// Config holds provider settings.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	MaxRetries  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	RateLimit   int // Requests per minute
	Temperature float64
	MaxTokens   int
}

// APIError is a non-success HTTP answer from a provider.
type APIError struct {
	Provider   string
	Body       string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// classifyStatus wraps an HTTP failure so WithRetry knows whether to try again.
func classifyStatus(provider string, status int, body string) error {
	apiErr := &APIError{Provider: provider, StatusCode: status, Body: body}
	switch {
	case status == 429:
		return fmt.Errorf("%w: %w", common.ErrRateLimit, apiErr)
	case status >= 500:
		return &common.RetryableError{Err: apiErr, Retryable: true}
	default:
		return common.Permanent(apiErr)
	}
}

func (c Config) temperature() float64 {
	if c.Temperature == 0 {
		return 0.7
	}
	return c.Temperature
}

func (c Config) maxTokens(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 1024
}
