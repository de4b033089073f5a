package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Veraticus/buyornot/internal/common"
	"github.com/Veraticus/buyornot/internal/model"
	"github.com/Veraticus/buyornot/internal/vectorsearch"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionText(t *testing.T) {
	d := model.Decision{Title: "Espresso Machine", Price: decimal.RequireFromString("349.5")}
	msgs := []model.ChatMessage{
		{Role: model.RoleUser, Text: "I drink coffee daily"},
		{Role: model.RoleAssistant, Text: "How often do you buy cafe drinks?"},
	}

	want := "Product: Espresso Machine, Price: $349.50\n\nConversation:\n" +
		"User: I drink coffee daily\nAssistant: How often do you buy cafe drinks?"
	assert.Equal(t, want, DecisionText(d, msgs))
}

func TestHashingEmbedder(t *testing.T) {
	h := NewHashingEmbedder(128)
	ctx := context.Background()

	a, err := h.Embed(ctx, "noise cancelling headphones for the office")
	require.NoError(t, err)
	assert.Len(t, a, 128)

	again, err := h.Embed(ctx, "noise cancelling headphones for the office")
	require.NoError(t, err)
	assert.Equal(t, a, again)

	related, err := h.Embed(ctx, "wireless noise cancelling headphones")
	require.NoError(t, err)
	unrelated, err := h.Embed(ctx, "garden hose with brass fittings")
	require.NoError(t, err)

	simRelated, err := vectorsearch.CosineSimilarity(a, related)
	require.NoError(t, err)
	simUnrelated, err := vectorsearch.CosineSimilarity(a, unrelated)
	require.NoError(t, err)
	assert.Greater(t, simRelated, simUnrelated)

	self, err := vectorsearch.CosineSimilarity(a, a)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, self, 1e-6)

	_, err = h.Embed(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyText)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestOpenAIEmbedder(t *testing.T) {
	t.Run("openai response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/embeddings", r.URL.Path)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "hello", body["input"])
			assert.Equal(t, "test-model", body["model"])

			_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
		}))
		defer server.Close()

		e, err := NewOpenAIEmbedder(Config{BaseURL: server.URL, APIKey: "test-key", Model: "test-model"})
		require.NoError(t, err)

		v, err := e.Embed(context.Background(), "hello")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.1, 0.2, 0.3}, v)
	})

	t.Run("ollama response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"embedding":[1,0]}`))
		}))
		defer server.Close()

		e, err := NewOpenAIEmbedder(Config{BaseURL: server.URL})
		require.NoError(t, err)

		v, err := e.Embed(context.Background(), "hello")
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 0}, v)
	})

	t.Run("retries server errors", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"data":[{"embedding":[0.5]}]}`))
		}))
		defer server.Close()

		e, err := NewOpenAIEmbedder(Config{BaseURL: server.URL, RetryDelay: time.Millisecond})
		require.NoError(t, err)

		v, err := e.Embed(context.Background(), "hello")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.5}, v)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"model not found"}}`))
		}))
		defer server.Close()

		e, err := NewOpenAIEmbedder(Config{BaseURL: server.URL, RetryDelay: time.Millisecond})
		require.NoError(t, err)

		_, err = e.Embed(context.Background(), "hello")
		var pe *ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
		assert.Equal(t, "model not found", pe.Message)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("requires key for hosted api", func(t *testing.T) {
		_, err := NewOpenAIEmbedder(Config{})
		assert.ErrorIs(t, err, common.ErrMissingConfig)
	})
}

type countingEmbedder struct {
	calls int32
	err   error
}

func (c *countingEmbedder) Name() string { return "counting" }

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text))}, nil
}

func TestCachingEmbedder(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachingEmbedder(inner, time.Minute)
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	v1, err := c.Embed(ctx, "same text")
	require.NoError(t, err)
	v2, err := c.Embed(ctx, "same text")
	require.NoError(t, err)
	_, err = c.Embed(ctx, "other text")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&inner.calls))
	assert.Equal(t, 2, c.size())
	assert.Equal(t, "counting", c.Name())

	failing := NewCachingEmbedder(&countingEmbedder{err: errors.New("down")}, time.Minute)
	defer func() { _ = failing.Close() }()
	_, err = failing.Embed(ctx, "x")
	require.Error(t, err)
	assert.Zero(t, failing.size())
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	e, err := New(ctx, Config{Provider: "hashing", Dimension: 32})
	require.NoError(t, err)
	assert.Equal(t, "hashing", e.Name())

	cached, err := New(ctx, Config{Provider: "local", CacheTTL: time.Minute})
	require.NoError(t, err)
	require.IsType(t, &CachingEmbedder{}, cached)
	_ = cached.(*CachingEmbedder).Close()

	_, err = New(ctx, Config{Provider: "word2vec"})
	assert.ErrorIs(t, err, common.ErrInvalidConfig)

	_, err = New(ctx, Config{Provider: "gemini"})
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}
