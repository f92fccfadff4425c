package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

type rateLimited struct {
	next    Gateway
	limiter *rate.Limiter
}

// WithRateLimit spaces calls to next so that at most perMinute start in any
// minute, with no burst. perMinute <= 0 returns next unchanged.
func WithRateLimit(next Gateway, perMinute int) Gateway {
	if perMinute <= 0 {
		return next
	}
	return &rateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

func (r *rateLimited) Generate(ctx context.Context, req Request) (Result, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Result{}, wrap("rate limit", err)
	}
	return r.next.Generate(ctx, req)
}
