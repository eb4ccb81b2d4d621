package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
)

// rateLimitedGateway paces calls shared by every task in the process.
type rateLimitedGateway struct {
	base    ports.ModelGateway
	limiter *rate.Limiter
}

// WithRateLimit wraps base with a token bucket when a positive limit is
// supplied. A burst less than 1 is coerced to 1. Callers wait for a token
// instead of failing.
func WithRateLimit(base ports.ModelGateway, limit rate.Limit, burst int) ports.ModelGateway {
	if limit <= 0 {
		return base
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimitedGateway{base: base, limiter: rate.NewLimiter(limit, burst)}
}

func (g *rateLimitedGateway) Generate(ctx context.Context, state ports.ConversationState, tools []ports.ToolSpec) (ports.ModelResponse, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return ports.ModelResponse{}, fmt.Errorf("wait for model rate limit: %w", err)
	}
	return g.base.Generate(ctx, state, tools)
}
