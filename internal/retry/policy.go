// Package retry provides an explicit retry policy for calls to external capabilities.
//
// A Policy is built once from configuration and handed to the embedding and chat
// adapters; no adapter carries its own retry loop.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/lexrag/internal/model"
)

// Policy describes how a failed call is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first. Minimum 1.
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration

	// Multiplier scales the backoff after every failed attempt.
	Multiplier float64

	// MaxBackoff caps a single wait. Zero means no cap.
	MaxBackoff time.Duration

	// RetryOn lists the error kinds that may be retried (matched with errors.Is).
	// Errors marked with model.Permanent are never retried.
	RetryOn []error

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// EmbeddingDefault retries embedding failures twice with exponential backoff.
func EmbeddingDefault() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		Multiplier:     2,
		MaxBackoff:     5 * time.Second,
		RetryOn:        []error{model.ErrEmbeddingUnavailable},
	}
}

// ChatDefault retries a failed chat completion once.
func ChatDefault() Policy {
	return Policy{
		MaxAttempts:    2,
		InitialBackoff: time.Second,
		Multiplier:     2,
		MaxBackoff:     5 * time.Second,
		RetryOn:        []error{model.ErrChatUnavailable},
	}
}

// WithSleep returns a copy of p that waits with fn. Used to make tests instant.
func (p Policy) WithSleep(fn func(ctx context.Context, d time.Duration) error) Policy {
	p.sleep = fn
	return p
}

// Backoff returns the wait before attempt (1-based; attempt 1 has no wait).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt <= 1 || p.InitialBackoff <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialBackoff)
	for i := 2; i < attempt; i++ {
		d *= mult
		if p.MaxBackoff > 0 && d >= float64(p.MaxBackoff) {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && time.Duration(d) > p.MaxBackoff {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// Retryable reports whether err may be retried under p.
func (p Policy) Retryable(err error) bool {
	if err == nil || model.IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	for _, kind := range p.RetryOn {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// Do runs fn until it succeeds, fails with a non-retryable error, attempts run
// out, or ctx is done. The returned error wraps the last failure.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if serr := sleep(ctx, p.Backoff(attempt)); serr != nil {
				return fmt.Errorf("retry canceled after %d attempt(s): %w", attempt-1, errors.Join(err, serr))
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !p.Retryable(err) {
			return err
		}
	}
	return fmt.Errorf("giving up after %d attempt(s): %w", attempts, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
