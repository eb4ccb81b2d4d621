// Package llm implements model gateways: an OpenAI-compatible HTTP backend,
// a scripted backend for offline runs and tests, and wrappers for retries and
// rate limiting.
package llm

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
	agenterrors "github.com/vsingh18567/illuminate/internal/errors"
	"github.com/vsingh18567/illuminate/internal/logging"
	"github.com/vsingh18567/illuminate/internal/tokenutil"
)

const (
	ProviderOpenAI = "openai"
	ProviderScript = "script"
)

// Config describes how to reach a model backend.
type Config struct {
	Provider         string            `mapstructure:"provider" yaml:"provider"`
	Model            string            `mapstructure:"model" yaml:"model"`
	BaseURL          string            `mapstructure:"base_url" yaml:"base_url"`
	APIKey           string            `mapstructure:"api_key" yaml:"-"`
	Timeout          time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries       int               `mapstructure:"max_retries" yaml:"max_retries"`
	Temperature      float64           `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens        int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	Headers          map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
	MaxContextTokens int               `mapstructure:"max_context_tokens" yaml:"max_context_tokens"`
	RateLimitRPS     float64           `mapstructure:"rate_limit_rps" yaml:"rate_limit_rps"`
	RateLimitBurst   int               `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
	ScriptFile       string            `mapstructure:"script_file" yaml:"script_file,omitempty"`
}

// NewGateway builds the configured backend and wraps it with retries and rate
// limiting.
func NewGateway(config Config, logger logging.Logger) (ports.ModelGateway, error) {
	logger = logging.OrNop(logger)

	var base ports.ModelGateway
	switch config.Provider {
	case "", ProviderOpenAI:
		client, err := NewOpenAIGateway(config, logger)
		if err != nil {
			return nil, err
		}
		base = client
	case ProviderScript:
		scripted, err := LoadScript(config.ScriptFile)
		if err != nil {
			return nil, err
		}
		return scripted, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", config.Provider)
	}

	retry := agenterrors.DefaultRetryConfig()
	retry.MaxAttempts = config.MaxRetries
	breaker := agenterrors.NewCircuitBreaker(ProviderOpenAI+":"+config.Model, agenterrors.DefaultCircuitBreakerConfig(), logger)
	gateway := WithRetry(base, retry, breaker, logger)

	if config.RateLimitRPS > 0 {
		gateway = WithRateLimit(gateway, rate.Limit(config.RateLimitRPS), config.RateLimitBurst)
	}
	return gateway, nil
}

func (c Config) renderOptions() RenderOptions {
	return RenderOptions{MaxContextTokens: c.MaxContextTokens, CountTokens: tokenutil.CountTokens}
}
