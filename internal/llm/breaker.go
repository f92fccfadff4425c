package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the breaker rejects calls after repeated failures.
var ErrCircuitOpen = errors.New("circuit breaker open")

type breaker struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker
}

// WithCircuitBreaker stops calling next after maxFailures consecutive
// failures, for openTimeout, then lets a single trial call through.
// Cancelled calls do not count as failures. maxFailures <= 0 returns next unchanged.
func WithCircuitBreaker(next Gateway, maxFailures int, openTimeout time.Duration, log *slog.Logger) Gateway {
	if maxFailures <= 0 {
		return next
	}
	if openTimeout <= 0 {
		openTimeout = time.Minute
	}

	logger := log.With("component", "llm_breaker")
	settings := gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(maxFailures)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &breaker{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *breaker) Generate(ctx context.Context, req Request) (Result, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		res, err := b.next.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Result{}, wrap("breaker", ErrCircuitOpen)
		}
		return Result{}, err
	}
	return out.(Result), nil
}
