package router

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

type rateLimited struct {
	inner   Provider
	limiter *rate.Limiter
}

// RateLimited wraps p so that calls start at most once per every, with the
// given burst. Waiting for a slot counts against the call timeout.
func RateLimited(p Provider, every time.Duration, burst int) Provider {
	if every <= 0 {
		return p
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimited{inner: p, limiter: rate.NewLimiter(rate.Every(every), burst)}
}

func (l *rateLimited) Name() string { return l.inner.Name() }

func (l *rateLimited) Supports(task Task) bool { return supports(l.inner, task) }

func (l *rateLimited) Call(ctx context.Context, req Request) (Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("wait for rate limit: %w", err)
	}
	return l.inner.Call(ctx, req)
}
