package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Veraticus/buyornot/internal/common"
	"github.com/Veraticus/buyornot/internal/embedding"
	"github.com/Veraticus/buyornot/internal/llm"
	"github.com/Veraticus/buyornot/internal/rag"
	"github.com/Veraticus/buyornot/internal/worker"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. BUYORNOT_DATABASE_PATH.
const EnvPrefix = "BUYORNOT"

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
	DSN    string `mapstructure:"dsn" yaml:"dsn,omitempty"`
}

// LLMConfig configures the chat and recognition client.
type LLMConfig struct {
	Provider        string        `mapstructure:"provider" yaml:"provider"`
	Model           string        `mapstructure:"model" yaml:"model,omitempty"`
	BaseURL         string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	OpenAIAPIKey    string        `mapstructure:"openai_api_key" yaml:"openai_api_key,omitempty"`
	AnthropicAPIKey string        `mapstructure:"anthropic_api_key" yaml:"anthropic_api_key,omitempty"`
	GeminiAPIKey    string        `mapstructure:"gemini_api_key" yaml:"gemini_api_key,omitempty"`
	Temperature     float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit       int           `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// EmbeddingConfig configures the embedder.
type EmbeddingConfig struct {
	Provider  string        `mapstructure:"provider" yaml:"provider"`
	Model     string        `mapstructure:"model" yaml:"model,omitempty"`
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	APIKey    string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Dimension int           `mapstructure:"dimension" yaml:"dimension"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// RAGConfig tunes retrieval and prompt assembly.
type RAGConfig struct {
	Limit         int     `mapstructure:"limit" yaml:"limit"`
	MinSimilarity float64 `mapstructure:"min_similarity" yaml:"min_similarity"`
	CandidatePool int     `mapstructure:"candidate_pool" yaml:"candidate_pool"`
	ExcerptCount  int     `mapstructure:"excerpt_count" yaml:"excerpt_count"`
	ExcerptLength int     `mapstructure:"excerpt_length" yaml:"excerpt_length"`
	HistoryLimit  int     `mapstructure:"history_limit" yaml:"history_limit"`
}

// WorkerConfig sizes the background pool.
type WorkerConfig struct {
	Count       int           `mapstructure:"count" yaml:"count"`
	QueueSize   int           `mapstructure:"queue_size" yaml:"queue_size"`
	TaskTimeout time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port         int    `mapstructure:"port" yaml:"port"`
	AllowOrigins string `mapstructure:"allow_origins" yaml:"allow_origins"`
	AccessLog    bool   `mapstructure:"access_log" yaml:"access_log"`
	TLS          bool   `mapstructure:"tls" yaml:"tls"`
	TLSDir       string `mapstructure:"tls_dir" yaml:"tls_dir"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Config is the complete application configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	LLM       LLMConfig       `mapstructure:"llm" yaml:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding" yaml:"embedding"`
	RAG       RAGConfig       `mapstructure:"rag" yaml:"rag"`
	Worker    WorkerConfig    `mapstructure:"worker" yaml:"worker"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "~/.local/share/buyornot/buyornot.db",
		},
		LLM: LLMConfig{
			Provider:    "gemini",
			Temperature: 0.7,
			MaxTokens:   1024,
			MaxRetries:  3,
			RetryDelay:  time.Second,
			Timeout:     60 * time.Second,
			RateLimit:   60,
		},
		Embedding: EmbeddingConfig{
			Provider:  "gemini",
			Dimension: 768,
			CacheTTL:  time.Hour,
		},
		RAG: RAGConfig{
			Limit:         5,
			MinSimilarity: 0.5,
			CandidatePool: 100,
			ExcerptCount:  2,
			ExcerptLength: 200,
			HistoryLimit:  10,
		},
		Worker: WorkerConfig{
			Count:       2,
			QueueSize:   64,
			TaskTimeout: 2 * time.Minute,
		},
		Server: ServerConfig{
			Port:         3000,
			AllowOrigins: "*",
			TLSDir:       "~/.config/buyornot/tls",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// SetDefaults registers every key with v so that environment variables can
// override keys that appear in no config file.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	defaults := map[string]any{
		"database.driver":       d.Database.Driver,
		"database.path":         d.Database.Path,
		"database.dsn":          d.Database.DSN,
		"llm.provider":          d.LLM.Provider,
		"llm.model":             d.LLM.Model,
		"llm.base_url":          d.LLM.BaseURL,
		"llm.openai_api_key":    "",
		"llm.anthropic_api_key": "",
		"llm.gemini_api_key":    "",
		"llm.temperature":       d.LLM.Temperature,
		"llm.max_tokens":        d.LLM.MaxTokens,
		"llm.max_retries":       d.LLM.MaxRetries,
		"llm.retry_delay":       d.LLM.RetryDelay,
		"llm.timeout":           d.LLM.Timeout,
		"llm.rate_limit":        d.LLM.RateLimit,
		"embedding.provider":    d.Embedding.Provider,
		"embedding.model":       d.Embedding.Model,
		"embedding.base_url":    d.Embedding.BaseURL,
		"embedding.api_key":     "",
		"embedding.dimension":   d.Embedding.Dimension,
		"embedding.cache_ttl":   d.Embedding.CacheTTL,
		"rag.limit":             d.RAG.Limit,
		"rag.min_similarity":    d.RAG.MinSimilarity,
		"rag.candidate_pool":    d.RAG.CandidatePool,
		"rag.excerpt_count":     d.RAG.ExcerptCount,
		"rag.excerpt_length":    d.RAG.ExcerptLength,
		"rag.history_limit":     d.RAG.HistoryLimit,
		"worker.count":          d.Worker.Count,
		"worker.queue_size":     d.Worker.QueueSize,
		"worker.task_timeout":   d.Worker.TaskTimeout,
		"server.port":           d.Server.Port,
		"server.allow_origins":  d.Server.AllowOrigins,
		"server.access_log":     d.Server.AccessLog,
		"server.tls":            d.Server.TLS,
		"server.tls_dir":        d.Server.TLSDir,
		"logging.level":         d.Logging.Level,
		"logging.format":        d.Logging.Format,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Load decodes the configuration held by v. Provider API keys fall back to
// their conventional environment variables (OPENAI_API_KEY and friends).
func Load(v *viper.Viper) (*Config, error) {
	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}

	fallback(&cfg.LLM.OpenAIAPIKey, "OPENAI_API_KEY")
	fallback(&cfg.LLM.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	fallback(&cfg.LLM.GeminiAPIKey, "GEMINI_API_KEY", "GOOGLE_API_KEY")
	cfg.Database.Path = ExpandPath(cfg.Database.Path)
	cfg.Server.TLSDir = ExpandPath(cfg.Server.TLSDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fallback(dst *string, envs ...string) {
	if *dst != "" {
		return
	}
	for _, env := range envs {
		if value := os.Getenv(env); value != "" {
			*dst = value
			return
		}
	}
}

// Validate reports settings that can never work. Missing API keys are left to
// the components that need them so commands without an LLM still run.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Database.Path) == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver))
	}

	if c.RAG.MinSimilarity < -1 || c.RAG.MinSimilarity > 1 {
		errs = append(errs, fmt.Errorf("rag.min_similarity must be within [-1, 1], got %v", c.RAG.MinSimilarity))
	}
	if c.RAG.Limit < 0 || c.RAG.CandidatePool < 0 {
		errs = append(errs, errors.New("rag.limit and rag.candidate_pool must not be negative"))
	}
	if c.Embedding.Dimension < 0 {
		errs = append(errs, errors.New("embedding.dimension must not be negative"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if _, err := common.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", common.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// LLMClientConfig returns the llm package settings, picking the API key that
// matches the provider.
func (c *Config) LLMClientConfig() llm.Config {
	out := llm.Config{
		Provider:    strings.ToLower(c.LLM.Provider),
		Model:       c.LLM.Model,
		BaseURL:     c.LLM.BaseURL,
		MaxRetries:  c.LLM.MaxRetries,
		RetryDelay:  c.LLM.RetryDelay,
		Timeout:     c.LLM.Timeout,
		RateLimit:   c.LLM.RateLimit,
		Temperature: c.LLM.Temperature,
		MaxTokens:   c.LLM.MaxTokens,
	}
	out.APIKey = c.apiKey(out.Provider)
	return out
}

// EmbedderConfig returns the embedding package settings. Without an explicit
// embedding.api_key the provider's LLM key is used.
func (c *Config) EmbedderConfig() embedding.Config {
	provider := strings.ToLower(c.Embedding.Provider)
	key := c.Embedding.APIKey
	if key == "" {
		key = c.apiKey(provider)
	}
	return embedding.Config{
		Provider:   provider,
		Model:      c.Embedding.Model,
		APIKey:     key,
		BaseURL:    c.Embedding.BaseURL,
		Dimension:  c.Embedding.Dimension,
		Timeout:    c.LLM.Timeout,
		MaxRetries: c.LLM.MaxRetries,
		RetryDelay: c.LLM.RetryDelay,
		CacheTTL:   c.Embedding.CacheTTL,
	}
}

func (c *Config) apiKey(provider string) string {
	switch provider {
	case "openai":
		return c.LLM.OpenAIAPIKey
	case "anthropic":
		return c.LLM.AnthropicAPIKey
	case "gemini", "google":
		return c.LLM.GeminiAPIKey
	}
	return ""
}

// RetrievalOptions returns the rag.Service settings.
func (c *Config) RetrievalOptions() rag.Options {
	return rag.Options{
		Limit:         c.RAG.Limit,
		MinSimilarity: c.RAG.MinSimilarity,
		CandidatePool: c.RAG.CandidatePool,
	}
}

// AssemblerOptions returns the prompt assembler settings.
func (c *Config) AssemblerOptions() rag.AssemblerOptions {
	return rag.AssemblerOptions{
		ExcerptCount:  c.RAG.ExcerptCount,
		ExcerptLength: c.RAG.ExcerptLength,
	}
}

// PoolConfig returns the worker pool settings.
func (c *Config) PoolConfig() worker.Config {
	return worker.Config{
		Workers:     c.Worker.Count,
		QueueSize:   c.Worker.QueueSize,
		TaskTimeout: c.Worker.TaskTimeout,
	}
}

// DefaultPath is where config init writes and where the CLI looks first.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "buyornot", "config.yaml"), nil
}

// Save writes cfg as YAML, creating parent directories as needed. API keys
// are never written.
func Save(path string, cfg *Config) error {
	out := *cfg
	out.LLM.OpenAIAPIKey = ""
	out.LLM.AnthropicAPIKey = ""
	out.LLM.GeminiAPIKey = ""
	out.Embedding.APIKey = ""

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ReadFile decodes a YAML config file on top of the defaults.
func ReadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}
	return cfg, nil
}
