package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stellarlinkco/triad/internal/config"
)

// Gateway wraps a Client with the token-bucket limiter, the circuit
// breaker and bounded exponential retry. It implements Client itself, so
// callers never reach the raw transport.
type Gateway struct {
	client      Client
	limiter     *tokenBucket
	breaker     *breaker
	maxAttempts uint
	initialWait time.Duration
}

func NewGateway(client Client, cfg config.LimitsConfig) *Gateway {
	attempts := cfg.RetryMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return &Gateway{
		client:      client,
		limiter:     newTokenBucket(cfg.RequestsPerMinute),
		breaker:     newBreaker(cfg.BreakerThreshold, time.Duration(cfg.BreakerCooldownMs)*time.Millisecond),
		maxAttempts: uint(attempts),
		initialWait: 500 * time.Millisecond,
	}
}

func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	return callThrough(g, ctx, func(ctx context.Context) ([]float32, error) {
		return g.client.Embed(ctx, text)
	})
}

func (g *Gateway) SelectAndGenerate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	return callThrough(g, ctx, func(ctx context.Context) (*GenerateResult, error) {
		return g.client.SelectAndGenerate(ctx, req)
	})
}

func (g *Gateway) Summarize(ctx context.Context, req SummarizeRequest) (*SummarizeResult, error) {
	return callThrough(g, ctx, func(ctx context.Context) (*SummarizeResult, error) {
		return g.client.Summarize(ctx, req)
	})
}

// BreakerState reports the breaker position for the readiness probe.
func (g *Gateway) BreakerState() BreakerState {
	return g.breaker.State()
}

func callThrough[T any](g *Gateway, ctx context.Context, op func(ctx context.Context) (T, error)) (T, error) {
	attempt := func() (T, error) {
		var zero T
		if err := g.limiter.Wait(ctx); err != nil {
			return zero, backoff.Permanent(err)
		}
		if err := g.breaker.Allow(); err != nil {
			// Open circuit: fail fast, no retry.
			return zero, backoff.Permanent(err)
		}

		result, err := op(ctx)
		g.breaker.Record(err)
		if err != nil {
			if isTransient(err) {
				return zero, err
			}
			return zero, backoff.Permanent(err)
		}
		return result, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = g.initialWait

	return backoff.Retry(ctx, attempt,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(g.maxAttempts),
	)
}

// isTransient classifies retryable failures: network errors, throttling
// and provider 5xx. Malformed responses and other 4xx are permanent.
func isTransient(err error) bool {
	var httpErr *httpError
	if errors.As(err, &httpErr) {
		if httpErr.Status == http.StatusTooManyRequests {
			return true
		}
		return httpErr.Status >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var parseErr *parseError
	if errors.As(err, &parseErr) {
		return false
	}
	// Transport-level failure (connection refused, timeout, reset).
	return true
}

// parseError marks a structurally invalid provider response.
type parseError struct {
	cause error
}

func (e *parseError) Error() string { return "invalid provider response: " + e.cause.Error() }
func (e *parseError) Unwrap() error { return e.cause }
