// Package app wires the process-wide services and runs tasks against them.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
	"github.com/vsingh18567/illuminate/internal/config"
	"github.com/vsingh18567/illuminate/internal/llm"
	"github.com/vsingh18567/illuminate/internal/logging"
	"github.com/vsingh18567/illuminate/internal/observability"
	"github.com/vsingh18567/illuminate/internal/toolregistry"
	"github.com/vsingh18567/illuminate/internal/tools/builtin"
)

// Container holds the services shared by every task. Everything in it is
// read-only or safe for concurrent use once BuildContainer returns.
type Container struct {
	Config        config.Config
	Registry      *toolregistry.Registry
	Gateway       ports.ModelGateway
	Observability *observability.Observability
	Logger        logging.Logger
}

// Option customizes BuildContainer.
type Option func(*buildOptions)

type buildOptions struct {
	gateway ports.ModelGateway
	tools   []ports.Tool
	logger  logging.Logger
}

// WithGateway replaces the configured model backend.
func WithGateway(gateway ports.ModelGateway) Option {
	return func(o *buildOptions) {
		o.gateway = gateway
	}
}

// WithTools registers extra tools next to the builtins.
func WithTools(tools ...ports.Tool) Option {
	return func(o *buildOptions) {
		o.tools = append(o.tools, tools...)
	}
}

// WithLogger sets the process logger.
func WithLogger(logger logging.Logger) Option {
	return func(o *buildOptions) {
		o.logger = logger
	}
}

// BuildContainer builds the dependency container for cfg.
func BuildContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	var options buildOptions
	for _, opt := range opts {
		opt(&options)
	}
	logger := options.logger
	if logging.IsNil(logger) {
		logger = logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	}
	appLogger := logging.Component(logger, "app")

	registry := toolregistry.NewRegistry()
	if err := builtin.Register(registry, cfg.Tools); err != nil {
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}
	for _, tool := range options.tools {
		if err := registry.Register(tool); err != nil {
			return nil, fmt.Errorf("register tool: %w", err)
		}
	}
	registry.Seal()
	appLogger.Debug("Registered %d tools: %v", len(registry.List()), registry.List())

	gateway := options.gateway
	if gateway == nil {
		built, err := llm.NewGateway(cfg.LLM, logger)
		if err != nil {
			return nil, fmt.Errorf("build model gateway: %w", err)
		}
		gateway = built
	}

	obs, err := observability.Setup(ctx, cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("setup observability: %w", err)
	}

	return &Container{
		Config:        cfg,
		Registry:      registry,
		Gateway:       gateway,
		Observability: obs,
		Logger:        logger,
	}, nil
}

// Shutdown flushes telemetry and stops the metrics server.
func (c *Container) Shutdown(ctx context.Context) error {
	if c == nil || c.Observability == nil {
		return nil
	}
	if err := c.Observability.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
