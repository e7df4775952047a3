package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/lexrag/internal/model"
	"github.com/fyrsmithlabs/lexrag/internal/retry"
)

// Config configures a Client.
type Config struct {
	// Timeout bounds a single completion call. Default 60s.
	Timeout time.Duration

	// RatePerSecond limits calls. Zero disables limiting.
	RatePerSecond float64
	Burst         int

	// BreakerFailures consecutive failures open the circuit for BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration

	// Retry is applied to failed calls. Zero value selects retry.ChatDefault.
	Retry retry.Policy
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.RatePerSecond > 0 && c.Burst <= 0 {
		c.Burst = 1
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.ChatDefault()
	}
}

// Client is a Completer with timeout, rate limiting, circuit breaking and retries.
type Client struct {
	completer Completer
	cfg       Config
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
	logger    *zap.Logger
}

// NewClient wraps completer.
func NewClient(completer Completer, cfg Config, logger *zap.Logger) (*Client, error) {
	if completer == nil {
		return nil, fmt.Errorf("%w: completer is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	c := &Client{completer: completer, cfg: cfg, logger: logger}
	if cfg.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "chat",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c, nil
}

// Complete returns the first successful completion. A successful call is never repeated.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	var resp Response
	attempt := 0
	err := c.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		r, err := c.call(ctx, req)
		if err != nil {
			c.logger.Debug("chat attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		if !errors.Is(err, model.ErrChatUnavailable) {
			err = fmt.Errorf("%w: %w", model.ErrChatUnavailable, err)
		}
		c.logger.Warn("chat completion failed", zap.Int("attempts", attempt), zap.Error(err))
		return Response{}, err
	}
	return resp, nil
}

func (c *Client) call(ctx context.Context, req Request) (Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Response{}, fmt.Errorf("%w: rate limiter: %w", model.ErrChatUnavailable, err)
		}
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		resp, err := c.completer.Complete(callCtx, req)
		if err != nil {
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, fmt.Errorf("%w: call timed out after %s", model.ErrChatUnavailable, c.cfg.Timeout)
			}
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Response{}, model.Permanent(fmt.Errorf("%w: %w", model.ErrChatUnavailable, err))
		}
		return Response{}, err
	}
	return res.(Response), nil
}
