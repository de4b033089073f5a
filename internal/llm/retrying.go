package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/Veraticus/buyornot/internal/common"
	"github.com/Veraticus/buyornot/internal/service"
)

// RetryingClient adds rate limiting and retries to a provider client.
type RetryingClient struct {
	next      Client
	limiter   *rateLimiter
	logger    *slog.Logger
	retryOpts service.RetryOptions
}

func newRetryingClient(next Client, cfg Config, logger *slog.Logger) *RetryingClient {
	opts := service.RetryOptions{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = time.Second
	}

	return &RetryingClient{
		next:      next,
		limiter:   newRateLimiter(cfg.RateLimit),
		logger:    logger,
		retryOpts: opts,
	}
}

func (c *RetryingClient) Name() string { return c.next.Name() }

// Send waits for a rate limit token before every attempt.
func (c *RetryingClient) Send(ctx context.Context, req Request) (string, error) {
	var reply string
	start := time.Now()
	err := common.WithRetry(ctx, func() error {
		if err := c.limiter.wait(ctx); err != nil {
			return common.Permanent(err)
		}
		var sendErr error
		reply, sendErr = c.next.Send(ctx, req)
		return sendErr
	}, c.retryOpts)
	if err != nil {
		c.logger.Warn("LLM request failed",
			"provider", c.next.Name(),
			"duration", time.Since(start),
			"error", err)
		return "", err
	}

	c.logger.Debug("LLM request completed",
		"provider", c.next.Name(),
		"duration", time.Since(start),
		"has_image", req.Image != nil)
	return reply, nil
}

// Close releases the rate limiter.
func (c *RetryingClient) Close() error {
	c.limiter.Close()
	return nil
}
