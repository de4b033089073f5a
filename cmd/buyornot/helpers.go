package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/buyornot/internal/assistant"
	"github.com/Veraticus/buyornot/internal/common"
	"github.com/Veraticus/buyornot/internal/config"
	"github.com/Veraticus/buyornot/internal/embedding"
	"github.com/Veraticus/buyornot/internal/engine"
	"github.com/Veraticus/buyornot/internal/llm"
	"github.com/Veraticus/buyornot/internal/rag"
	"github.com/Veraticus/buyornot/internal/service"
	"github.com/Veraticus/buyornot/internal/storage"
	"github.com/Veraticus/buyornot/internal/worker"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// initStorage opens the configured database and brings its schema up to date.
func initStorage(ctx context.Context, cfg *config.Config) (service.Storage, error) {
	var (
		store service.Storage
		err   error
	)

	switch cfg.Database.Driver {
	case "postgres":
		store, err = storage.NewPostgresStorage(cfg.Database.DSN, slog.Default())
	default:
		store, err = storage.NewSQLiteStorage(config.ExpandPath(cfg.Database.Path))
	}
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// createEmbedder builds the configured embedder. The caller closes it when
// the returned closer is non-nil.
func createEmbedder(ctx context.Context, cfg *config.Config) (embedding.Embedder, func(), error) {
	embedder, err := embedding.New(ctx, cfg.EmbedderConfig())
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {}
	if c, ok := embedder.(*embedding.CachingEmbedder); ok {
		closeFn = func() { _ = c.Close() }
	}
	return embedder, closeFn, nil
}

// createLLMClient builds the chat client shared by ask, recognize and serve.
func createLLMClient(ctx context.Context, cfg *config.Config) (*llm.RetryingClient, error) {
	client, err := llm.NewClient(ctx, cfg.LLMClientConfig(), slog.Default())
	if err != nil {
		if errors.Is(err, common.ErrMissingConfig) {
			return nil, fmt.Errorf("%w (set llm.%s_api_key or the provider's API key environment variable)",
				err, strings.ToLower(cfg.LLM.Provider))
		}
		return nil, err
	}
	return client, nil
}

// contextStack is the retrieval side of the application: an embedder, the
// background pool and the rag service built on them.
type contextStack struct {
	Service   *rag.Service
	Assembler *rag.Assembler
	pool      *worker.Pool
	closeEmb  func()
}

func newContextStack(ctx context.Context, cfg *config.Config, store service.ConversationStore) (*contextStack, error) {
	embedder, closeEmb, err := createEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}
	assembler, err := rag.NewAssembler(cfg.AssemblerOptions())
	if err != nil {
		closeEmb()
		return nil, err
	}

	pool := worker.NewPool(cfg.PoolConfig(), slog.Default())
	return &contextStack{
		Service:   rag.NewService(embedder, store, pool, cfg.RetrievalOptions(), slog.Default()),
		Assembler: assembler,
		pool:      pool,
		closeEmb:  closeEmb,
	}, nil
}

// Close waits for queued background work before releasing the embedder.
func (c *contextStack) Close() {
	_ = c.pool.Close()
	stats := c.pool.Stats()
	if stats.Failed > 0 {
		slog.Warn("background tasks failed", "failed", stats.Failed, "completed", stats.Completed)
	}
	c.closeEmb()
}

func newAssistant(stack *contextStack, client llm.Client, store service.ConversationStore, cfg *config.Config) (*assistant.Assistant, error) {
	return assistant.New(stack.Service, stack.Assembler, client, store, cfg.RAG.HistoryLimit, slog.Default())
}

func newEngine(store service.Storage) *engine.Engine {
	return engine.New(store, slog.Default())
}

func currentUser() string {
	user := strings.TrimSpace(viper.GetString("user"))
	if user == "" {
		return "local"
	}
	return user
}

// parseAmount accepts prices such as "12", "$1,299.99" or "0.5".
func parseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: invalid amount %q", common.ErrInvalidInput, raw)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: amount must not be negative", common.ErrInvalidInput)
	}
	return d, nil
}
