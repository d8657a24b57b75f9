// Package middleware decorates model.Client implementations with cross-
// cutting behavior shared by all provider bindings.
package middleware

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ioc-platform/agentcore/runtime/model"
)

type (
	// RateLimitOptions configures the adaptive rate limiter.
	RateLimitOptions struct {
		// RequestsPerSecond is the steady-state rate. Required, > 0.
		RequestsPerSecond float64
		// Burst is the token bucket size. Defaults to 1.
		Burst int
		// MinRate is the floor the limiter backs off to under provider
		// throttling. Defaults to RequestsPerSecond/10.
		MinRate float64
	}

	// RateLimitedClient wraps a model.Client with an adaptive token bucket.
	// Provider throttling halves the rate; successful calls recover it
	// multiplicatively toward the configured steady state.
	RateLimitedClient struct {
		next    model.Client
		limiter *rate.Limiter

		mu       sync.Mutex
		baseRate float64
		curRate  float64
		minRate  float64
	}
)

// NewRateLimited wraps next with adaptive rate limiting.
func NewRateLimited(next model.Client, opts RateLimitOptions) (*RateLimitedClient, error) {
	if next == nil {
		return nil, errors.New("client is required")
	}
	if opts.RequestsPerSecond <= 0 {
		return nil, errors.New("requests per second must be positive")
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	minRate := opts.MinRate
	if minRate <= 0 {
		minRate = opts.RequestsPerSecond / 10
	}
	return &RateLimitedClient{
		next:     next,
		limiter:  rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst),
		baseRate: opts.RequestsPerSecond,
		curRate:  opts.RequestsPerSecond,
		minRate:  minRate,
	}, nil
}

// Complete waits for a rate token then delegates, adapting the rate based on
// the outcome.
func (c *RateLimitedClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.next.Complete(ctx, req)
	if err != nil {
		c.backoff()
		return nil, err
	}
	c.recover()
	return resp, nil
}

// Rate returns the current requests-per-second limit.
func (c *RateLimitedClient) Rate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curRate
}

func (c *RateLimitedClient) backoff() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.curRate /= 2
	if c.curRate < c.minRate {
		c.curRate = c.minRate
	}
	c.limiter.SetLimit(rate.Limit(c.curRate))
}

func (c *RateLimitedClient) recover() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.curRate >= c.baseRate {
		return
	}
	c.curRate *= 1.1
	if c.curRate > c.baseRate {
		c.curRate = c.baseRate
	}
	c.limiter.SetLimit(rate.Limit(c.curRate))
}
