package analyzer

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedAdapter throttles calls to a wrapped adapter. One limiter is
// shared per provider so concurrent stages cannot exceed provider quotas.
type RateLimitedAdapter struct {
	inner   Adapter
	limiter *rate.Limiter
}

// NewRateLimitedAdapter wraps inner with a token-bucket limiter
func NewRateLimitedAdapter(inner Adapter, perSec float64, burst int) *RateLimitedAdapter {
	if perSec <= 0 {
		perSec = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedAdapter{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
	}
}

func (a *RateLimitedAdapter) ID() string { return a.inner.ID() }

// Analyze waits for a token (honoring ctx cancellation) then delegates
func (a *RateLimitedAdapter) Analyze(ctx context.Context, req Request) (*Result, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return a.inner.Analyze(ctx, req)
}
