package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/lexrag/internal/model"
	"github.com/fyrsmithlabs/lexrag/internal/retry"
)

const (
	defaultTimeout         = 30 * time.Second
	defaultBatchSize       = 64
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Model labels metrics and log lines.
	Model string

	// Timeout bounds a single provider call. Default 30s.
	Timeout time.Duration

	// BatchSize is the maximum number of texts per provider call. Default 64.
	BatchSize int

	// RatePerSecond limits provider calls. Zero disables limiting.
	RatePerSecond float64

	// Burst is the limiter bucket size. Defaults to 1 when limiting is enabled.
	Burst int

	// BreakerFailures is the number of consecutive failures that open the circuit. Default 5.
	BreakerFailures uint32

	// BreakerCooldown is how long the circuit stays open. Default 30s.
	BreakerCooldown time.Duration

	// Retry is applied to every provider call. Zero value selects retry.EmbeddingDefault.
	Retry retry.Policy
}

func (c *ClientConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.RatePerSecond > 0 && c.Burst <= 0 {
		c.Burst = 1
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = defaultBreakerFailures
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = defaultBreakerCooldown
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.EmbeddingDefault()
	}
}

// Client is the embedding client shared by ingestion and retrieval.
// It is safe for concurrent use.
type Client struct {
	provider  Provider
	cfg       ClientConfig
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
	metrics   *Metrics
	logger    *zap.Logger
	dimension atomic.Int64
}

// NewClient wraps provider. A nil logger disables logging.
func NewClient(provider Provider, cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: provider is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	c := &Client{
		provider: provider,
		cfg:      cfg,
		metrics:  NewMetrics(logger),
		logger:   logger,
	}
	c.dimension.Store(int64(provider.Dimension()))

	if cfg.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embeddings",
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

// Embed returns one vector per text, in input order, calling the provider in
// batches of at most BatchSize texts.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	start := time.Now()
	out := make([][]float32, 0, len(texts))

	var err error
	for lo := 0; lo < len(texts); lo += c.cfg.BatchSize {
		hi := min(lo+c.cfg.BatchSize, len(texts))
		batch := texts[lo:hi]

		var vectors [][]float32
		err = c.cfg.Retry.Do(ctx, func(ctx context.Context) error {
			var callErr error
			vectors, callErr = c.call(ctx, func(ctx context.Context) ([][]float32, error) {
				return c.provider.EmbedDocuments(ctx, batch)
			}, len(batch))
			return callErr
		})
		if err != nil {
			break
		}
		out = append(out, vectors...)
	}

	err = surface(err)
	c.metrics.RecordGeneration(ctx, c.cfg.Model, "documents", time.Since(start), len(texts), err)
	if err != nil {
		c.logger.Warn("embedding failed", zap.Int("texts", len(texts)), zap.Error(err))
		return nil, err
	}
	return out, nil
}

// EmbedQuery embeds a single search query.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()

	var vector []float32
	err := c.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		vectors, callErr := c.call(ctx, func(ctx context.Context) ([][]float32, error) {
			v, err := c.provider.EmbedQuery(ctx, text)
			if err != nil {
				return nil, err
			}
			return [][]float32{v}, nil
		}, 1)
		if callErr != nil {
			return callErr
		}
		vector = vectors[0]
		return nil
	})

	err = surface(err)
	c.metrics.RecordGeneration(ctx, c.cfg.Model, "query", time.Since(start), 1, err)
	if err != nil {
		return nil, err
	}
	return vector, nil
}

// Dimension returns the vector length, or 0 before the first successful call
// when the provider does not know it up front.
func (c *Client) Dimension() int {
	return int(c.dimension.Load())
}

// Close releases the provider.
func (c *Client) Close() error {
	return c.provider.Close()
}

// call runs one provider attempt through the limiter, breaker and timeout, and
// validates the result.
func (c *Client) call(ctx context.Context, fn func(context.Context) ([][]float32, error), want int) ([][]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %w", model.ErrEmbeddingUnavailable, err)
		}
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		vectors, err := fn(callCtx)
		if err != nil {
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, fmt.Errorf("%w: call timed out after %s", model.ErrEmbeddingUnavailable, c.cfg.Timeout)
			}
			return nil, err
		}
		if err := c.validate(vectors, want); err != nil {
			return nil, err
		}
		return vectors, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, model.Permanent(fmt.Errorf("%w: %w", model.ErrEmbeddingUnavailable, err))
		}
		return nil, err
	}
	return res.([][]float32), nil
}

func (c *Client) validate(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("%w: provider returned %d vectors for %d texts", model.ErrEmbeddingUnavailable, len(vectors), want)
	}
	for i, v := range vectors {
		if len(v) == 0 || isZero(v) {
			return model.Permanent(fmt.Errorf("%w: zero vector for text %d", model.ErrEmbeddingUnavailable, i))
		}
		dim := c.dimension.Load()
		if dim == 0 && c.dimension.CompareAndSwap(0, int64(len(v))) {
			dim = int64(len(v))
		} else if dim == 0 {
			dim = c.dimension.Load()
		}
		if int64(len(v)) != dim {
			return model.Permanent(fmt.Errorf("%w: vector %d has dimension %d, expected %d",
				model.ErrEmbeddingUnavailable, i, len(v), dim))
		}
	}
	return nil
}

// surface makes every failure match model.ErrEmbeddingUnavailable.
func surface(err error) error {
	if err == nil || errors.Is(err, model.ErrEmbeddingUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrEmbeddingUnavailable, err)
}
