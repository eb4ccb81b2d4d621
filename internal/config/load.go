package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

const (
	// FileName is the config file searched for when no path is given.
	FileName  = "illuminate"
	EnvPrefix = "ILLUMINATE"
)

// ValueSource describes where a configuration value originated from.
type ValueSource string

const (
	SourceDefault  ValueSource = "default"
	SourceFile     ValueSource = "file"
	SourceEnv      ValueSource = "environment"
	SourceOverride ValueSource = "override"
)

// EnvLookup resolves an environment variable.
type EnvLookup func(string) (string, bool)

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// Overrides maps dotted keys such as "agent.step_budget" to values that take
// precedence over every other source.
type Overrides map[string]any

// Metadata records where each key's value came from.
type Metadata struct {
	sources  map[string]ValueSource
	fileUsed string
}

// Source returns where key was set. Unknown keys report SourceDefault.
func (m Metadata) Source(key string) ValueSource {
	if src, ok := m.sources[key]; ok {
		return src
	}
	return SourceDefault
}

// File returns the config file that was read, if any.
func (m Metadata) File() string {
	return m.fileUsed
}

// Option customizes Load.
type Option func(*loadOptions)

type loadOptions struct {
	envLookup   EnvLookup
	configPath  string
	searchPaths []string
	overrides   Overrides
}

// WithEnv replaces the environment lookup, used primarily for tests.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) {
		o.envLookup = lookup
	}
}

// WithConfigFile forces the loader to read a specific file. A missing file is an error.
func WithConfigFile(path string) Option {
	return func(o *loadOptions) {
		o.configPath = path
	}
}

// WithSearchPaths replaces the directories searched for illuminate.yaml.
func WithSearchPaths(paths ...string) Option {
	return func(o *loadOptions) {
		o.searchPaths = paths
	}
}

// WithOverrides applies caller overrides that take highest precedence.
func WithOverrides(overrides Overrides) Option {
	return func(o *loadOptions) {
		o.overrides = overrides
	}
}

// DefaultSearchPaths returns the working directory followed by the XDG config directory.
func DefaultSearchPaths() []string {
	return []string{".", filepath.Join(xdg.ConfigHome, "illuminate")}
}

// Load resolves the configuration and validates it.
func Load(opts ...Option) (Config, Metadata, error) {
	options := loadOptions{
		envLookup:   DefaultEnvLookup,
		searchPaths: DefaultSearchPaths(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	defaults := flatten(Default())
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	meta := Metadata{sources: make(map[string]ValueSource, len(defaults))}

	if options.configPath != "" {
		v.SetConfigFile(options.configPath)
	} else {
		v.SetConfigName(FileName)
		for _, dir := range options.searchPaths {
			v.AddConfigPath(dir)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if options.configPath != "" || !errors.As(err, &notFound) {
			return Config{}, Metadata{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		meta.fileUsed = v.ConfigFileUsed()
		for key := range defaults {
			if v.InConfig(key) {
				meta.sources[key] = SourceFile
			}
		}
		if unknown := unknownKeys(v.AllKeys(), defaults); len(unknown) > 0 {
			return Config{}, Metadata{}, fmt.Errorf("config %s: unknown keys %s", meta.fileUsed, strings.Join(unknown, ", "))
		}
	}

	for key := range defaults {
		if value, ok := options.envLookup(EnvName(key)); ok && value != "" {
			v.Set(key, value)
			meta.sources[key] = SourceEnv
		}
	}
	if v.GetString("llm.api_key") == "" {
		if value, ok := options.envLookup("OPENAI_API_KEY"); ok && value != "" {
			v.Set("llm.api_key", value)
			meta.sources["llm.api_key"] = SourceEnv
		}
	}

	for key, value := range options.overrides {
		key = strings.ToLower(key)
		if _, known := defaults[key]; !known {
			return Config{}, Metadata{}, fmt.Errorf("unknown override key %q", key)
		}
		v.Set(key, value)
		meta.sources[key] = SourceOverride
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, Metadata{}, fmt.Errorf("decode config: %w", err)
	}
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, meta, err
	}
	return cfg, meta, nil
}

// EnvName returns the environment variable that sets key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Keys returns every configurable key in sorted order.
func Keys() []string {
	defaults := flatten(Default())
	keys := make([]string, 0, len(defaults))
	for key := range defaults {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalize(cfg *Config) {
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	cfg.LLM.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.LLM.BaseURL), "/")
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	cfg.Observability.Tracing.Exporter = strings.ToLower(strings.TrimSpace(cfg.Observability.Tracing.Exporter))
	cfg.Tools.Disabled = trimAll(cfg.Tools.Disabled)
	cfg.PromptFiles = trimAll(cfg.PromptFiles)
}

func trimAll(items []string) []string {
	out := items[:0:0]
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// unknownKeys reports file keys that do not map to any setting. Map-valued
// settings such as llm.headers accept arbitrary sub-keys.
func unknownKeys(fileKeys []string, defaults map[string]any) []string {
	var unknown []string
	for _, key := range fileKeys {
		if _, ok := defaults[key]; ok {
			continue
		}
		if strings.HasPrefix(key, "llm.headers.") {
			continue
		}
		unknown = append(unknown, key)
	}
	sort.Strings(unknown)
	return unknown
}
