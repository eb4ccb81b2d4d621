// Package config loads runtime settings from defaults, an optional
// illuminate.yaml file, ILLUMINATE_* environment variables and caller
// overrides, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/vsingh18567/illuminate/internal/llm"
	"github.com/vsingh18567/illuminate/internal/observability"
	"github.com/vsingh18567/illuminate/internal/tools/builtin"
)

const (
	DefaultLLMModel   = "gpt-4o"
	DefaultLLMBaseURL = "https://api.openai.com/v1"
	DefaultStepBudget = 30
)

// Config is the full runtime configuration.
type Config struct {
	LLM           llm.Config           `mapstructure:"llm" yaml:"llm"`
	Agent         AgentConfig          `mapstructure:"agent" yaml:"agent"`
	Tools         builtin.Config       `mapstructure:"tools" yaml:"tools"`
	Logging       LoggingConfig        `mapstructure:"logging" yaml:"logging"`
	Observability observability.Config `mapstructure:"observability" yaml:"observability"`
	PromptFiles   []string             `mapstructure:"prompt_files" yaml:"prompt_files"`
	Parallel      int                  `mapstructure:"parallel" yaml:"parallel"`
}

// AgentConfig bounds a single task.
type AgentConfig struct {
	StepBudget     int           `mapstructure:"step_budget" yaml:"step_budget"`
	MaxPlanRetries int           `mapstructure:"max_plan_retries" yaml:"max_plan_retries"`
	MaxStepRetries int           `mapstructure:"max_step_retries" yaml:"max_step_retries"`
	StepTimeout    time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	// TimeoutGrace is how long a timed-out tool may take to return before
	// the next attempt starts without it.
	TimeoutGrace time.Duration `mapstructure:"timeout_grace" yaml:"timeout_grace"`
	// MaxStepsPerRound is the initial per-round cap. Zero leaves rounds
	// unbounded and disables adaptive granularity.
	MaxStepsPerRound     int     `mapstructure:"max_steps_per_round" yaml:"max_steps_per_round"`
	MinStepsPerRound     int     `mapstructure:"min_steps_per_round" yaml:"min_steps_per_round"`
	CeilingStepsPerRound int     `mapstructure:"ceiling_steps_per_round" yaml:"ceiling_steps_per_round"`
	SuccessStreak        int     `mapstructure:"success_streak" yaml:"success_streak"`
	ConfidenceFloor      float64 `mapstructure:"confidence_floor" yaml:"confidence_floor"`
	TrackUndeclaredFiles bool    `mapstructure:"track_undeclared_files" yaml:"track_undeclared_files"`
	SummaryLimit         int     `mapstructure:"summary_limit" yaml:"summary_limit"`
}

// LoggingConfig selects the process log level and format.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	obs := observability.DefaultConfig()
	return Config{
		LLM: llm.Config{
			Provider:         llm.ProviderOpenAI,
			Model:            DefaultLLMModel,
			BaseURL:          DefaultLLMBaseURL,
			Timeout:          2 * time.Minute,
			MaxRetries:       3,
			Temperature:      0.2,
			MaxTokens:        4096,
			MaxContextTokens: 100_000,
			RateLimitBurst:   1,
		},
		Agent: AgentConfig{
			StepBudget:           DefaultStepBudget,
			MaxPlanRetries:       2,
			MaxStepRetries:       2,
			StepTimeout:          5 * time.Minute,
			TimeoutGrace:         30 * time.Second,
			MaxStepsPerRound:     5,
			MinStepsPerRound:     1,
			CeilingStepsPerRound: 10,
			SuccessStreak:        2,
			ConfidenceFloor:      0.3,
			SummaryLimit:         400,
		},
		Tools:         builtin.DefaultConfig(),
		Logging:       LoggingConfig{Level: "info", Format: "text"},
		Observability: obs,
		PromptFiles:   []string{"prompt.txt", "prompt.md"},
		Parallel:      2,
	}
}

// ValidationError lists every invalid field found by Validate.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Problems, "; "))
}

// Validate checks every field and reports all problems at once.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.LLM.Provider {
	case llm.ProviderOpenAI:
		if strings.TrimSpace(c.LLM.Model) == "" {
			add("llm.model is required")
		}
		if strings.TrimSpace(c.LLM.BaseURL) == "" {
			add("llm.base_url is required")
		}
		if strings.TrimSpace(c.LLM.APIKey) == "" && strings.TrimRight(c.LLM.BaseURL, "/") == DefaultLLMBaseURL {
			add("llm.api_key is required for %s (set ILLUMINATE_LLM_API_KEY or OPENAI_API_KEY)", DefaultLLMBaseURL)
		}
	case llm.ProviderScript:
		if strings.TrimSpace(c.LLM.ScriptFile) == "" {
			add("llm.script_file is required for the script provider")
		}
	default:
		add("llm.provider %q is not one of openai, script", c.LLM.Provider)
	}
	if c.LLM.Timeout < 0 {
		add("llm.timeout must not be negative")
	}
	if c.LLM.MaxRetries < 0 {
		add("llm.max_retries must not be negative")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature must be between 0 and 2")
	}
	if c.LLM.MaxTokens < 0 {
		add("llm.max_tokens must not be negative")
	}
	if c.LLM.MaxContextTokens < 0 {
		add("llm.max_context_tokens must not be negative")
	}
	if c.LLM.RateLimitRPS < 0 {
		add("llm.rate_limit_rps must not be negative")
	}
	if c.LLM.RateLimitRPS > 0 && c.LLM.RateLimitBurst < 1 {
		add("llm.rate_limit_burst must be at least 1 when rate limiting is enabled")
	}

	a := c.Agent
	if a.StepBudget <= 0 {
		add("agent.step_budget must be positive")
	}
	if a.MaxPlanRetries < 0 {
		add("agent.max_plan_retries must not be negative")
	}
	if a.MaxStepRetries < 0 {
		add("agent.max_step_retries must not be negative")
	}
	if a.StepTimeout <= 0 {
		add("agent.step_timeout must be positive")
	}
	if a.TimeoutGrace < 0 {
		add("agent.timeout_grace must not be negative")
	}
	if a.MaxStepsPerRound < 0 {
		add("agent.max_steps_per_round must not be negative")
	}
	if a.MaxStepsPerRound > 0 {
		if a.MinStepsPerRound < 1 {
			add("agent.min_steps_per_round must be at least 1")
		}
		if a.MinStepsPerRound > a.MaxStepsPerRound {
			add("agent.min_steps_per_round must not exceed agent.max_steps_per_round")
		}
		if a.CeilingStepsPerRound != 0 && a.CeilingStepsPerRound < a.MaxStepsPerRound {
			add("agent.ceiling_steps_per_round must be at least agent.max_steps_per_round")
		}
		if a.SuccessStreak < 0 {
			add("agent.success_streak must not be negative")
		}
	}
	if a.ConfidenceFloor < 0 || a.ConfidenceFloor > 1 {
		add("agent.confidence_floor must be between 0 and 1")
	}
	if a.SummaryLimit < 0 {
		add("agent.summary_limit must not be negative")
	}

	if c.Tools.MaxReadChars < 0 {
		add("tools.max_read_chars must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		add("logging.format %q is not one of text, json", c.Logging.Format)
	}

	tracing := c.Observability.Tracing
	if tracing.Enabled {
		switch tracing.Exporter {
		case "otlp", "zipkin":
		default:
			add("observability.tracing.exporter %q is not one of otlp, zipkin", tracing.Exporter)
		}
	}
	if tracing.SampleRate < 0 || tracing.SampleRate > 1 {
		add("observability.tracing.sample_rate must be between 0 and 1")
	}
	if c.Observability.Metrics.Enabled && strings.TrimSpace(c.Observability.Metrics.Addr) == "" {
		add("observability.metrics.addr is required when metrics are enabled")
	}

	if len(c.PromptFiles) == 0 {
		add("prompt_files must name at least one file")
	}
	if c.Parallel < 1 {
		add("parallel must be at least 1")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
