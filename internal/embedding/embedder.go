// Package embedding turns text into fixed-length vectors. It supports the
// Gemini embedding API, any OpenAI-compatible /embeddings endpoint and a local
// feature-hashing embedder that needs no network access.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/buyornot/internal/common"
	"github.com/Veraticus/buyornot/internal/model"
)

// Embedding errors.
var (
	ErrEmptyText = fmt.Errorf("%w: text to embed is empty", common.ErrInvalidInput)
	ErrNetwork   = fmt.Errorf("%w: embedding provider unreachable", common.ErrTransientIO)
	ErrNoVector  = errors.New("embedding provider returned no vector")
)

// ProviderError is an error reported by the remote embedding service.
type ProviderError struct {
	Provider   string
	Message    string
	StatusCode int
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s embedding error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s embedding error: %s", e.Provider, e.Message)
}

// Embedder maps text to a vector. Every vector an Embedder returns has the
// same length.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}

// Config selects and configures an Embedder.
type Config struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	Dimension  int
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	CacheTTL   time.Duration
}

// DecisionText renders the text embedded for a decision conversation.
func DecisionText(decision model.Decision, messages []model.ChatMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s, Price: $%s", decision.Title, decision.Price.StringFixed(2))
	b.WriteString("\n\nConversation:\n")
	b.WriteString(model.Transcript(messages))
	return b.String()
}

func checkText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	return nil
}
