package llm

import (
	"context"
	"errors"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
	agenterrors "github.com/vsingh18567/illuminate/internal/errors"
	"github.com/vsingh18567/illuminate/internal/logging"
)

// retryingGateway retries transient backend failures and trips a circuit
// breaker when the backend keeps failing. Malformed responses are not
// retried here; the planner owns that decision.
type retryingGateway struct {
	base    ports.ModelGateway
	config  agenterrors.RetryConfig
	breaker *agenterrors.CircuitBreaker
	logger  logging.Logger
}

// WithRetry wraps base with retry and an optional circuit breaker.
func WithRetry(base ports.ModelGateway, config agenterrors.RetryConfig, breaker *agenterrors.CircuitBreaker, logger logging.Logger) ports.ModelGateway {
	return &retryingGateway{
		base:    base,
		config:  config,
		breaker: breaker,
		logger:  logging.Component(logger, "llm-retry"),
	}
}

func (g *retryingGateway) Generate(ctx context.Context, state ports.ConversationState, tools []ports.ToolSpec) (ports.ModelResponse, error) {
	if g.breaker != nil {
		if err := g.breaker.Allow(); err != nil {
			return ports.ModelResponse{}, err
		}
	}

	resp, err := agenterrors.RetryWithResult(ctx, g.config, func(ctx context.Context) (ports.ModelResponse, error) {
		return g.base.Generate(ctx, state, tools)
	}, logging.FromContext(ctx, g.logger))

	if g.breaker != nil && !errors.Is(err, context.Canceled) {
		g.breaker.Mark(err)
	}
	return resp, err
}
