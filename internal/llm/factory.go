package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/edgard/omega/internal/config"
)

// New builds the configured backend wrapped in the circuit breaker and rate limiter.
func New(ctx context.Context, cfg config.AIConfig, log *slog.Logger) (Gateway, error) {
	var (
		backend Gateway
		err     error
	)
	switch cfg.Provider {
	case "gemini":
		backend, err = NewGemini(ctx, cfg, log)
	case "openai":
		backend, err = NewOpenAI(cfg, log)
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	gw := WithCircuitBreaker(backend, cfg.Breaker.MaxFailures, cfg.Breaker.OpenTimeout, log)
	return WithRateLimit(gw, cfg.RequestsPerMinute), nil
}
