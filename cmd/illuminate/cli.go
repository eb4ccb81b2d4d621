package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vsingh18567/illuminate/internal/config"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// cli holds flag values shared by the commands.
type cli struct {
	stdout io.Writer
	stderr io.Writer

	configFile string
	sets       []string
	verbose    bool
	quiet      bool

	// Flags bound to config keys. Only flags the user set become overrides.
	provider         string
	model            string
	baseURL          string
	script           string
	stepBudget       int
	maxStepsPerRound int
	stepTimeout      string
	logLevel         string
	logFormat        string

	// env replaces the process environment in tests.
	env config.EnvLookup
}

// flagKeys maps flag names to the config key they override.
var flagKeys = map[string]string{
	"provider":            "llm.provider",
	"model":               "llm.model",
	"base-url":            "llm.base_url",
	"script":              "llm.script_file",
	"step-budget":         "agent.step_budget",
	"max-steps-per-round": "agent.max_steps_per_round",
	"step-timeout":        "agent.step_timeout",
	"log-level":           "logging.level",
	"log-format":          "logging.format",
	"parallel":            "parallel",
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr, env: config.DefaultEnvLookup}
	return c.rootCommand()
}

func (c *cli) rootCommand() *cobra.Command {
	var prompt, promptFile string

	rootCmd := &cobra.Command{
		Use:   "illuminate [dir]",
		Short: "Autonomous data analysis over a working directory",
		Long: fmt.Sprintf(`%s

Reads a prompt, plans tool calls with a language model, runs them inside the
working directory and keeps only the final deliverables.

%s
  illuminate ./sales                      # prompt from ./sales/prompt.txt
  illuminate ./sales -p "chart revenue"   # inline prompt
  illuminate run ./q1 ./q2 --parallel 2   # several directories
  illuminate tools --format yaml          # list the tool catalog

%s
  0 succeeded, 1 failed, 2 step budget exhausted, 3 usage or configuration error`,
			bold("illuminate "+appVersion()),
			bold("Examples:"),
			bold("Exit codes:")),
		Args:          usageArgs(cobra.MaximumNArgs(1)),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return c.runSingle(cmd, dir, prompt, promptFile)
		},
	}
	rootCmd.SetOut(c.stdout)
	rootCmd.SetErr(c.stderr)
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&c.configFile, "config", "c", "", "Config file (default: ./illuminate.yaml, then the XDG config dir)")
	flags.StringArrayVar(&c.sets, "set", nil, "Override a config key, e.g. --set agent.max_step_retries=1 (repeatable)")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "Show full tool arguments and step output")
	flags.BoolVarP(&c.quiet, "quiet", "q", false, "Do not print the final report")
	flags.StringVar(&c.provider, "provider", "", "Model provider (openai, script)")
	flags.StringVarP(&c.model, "model", "m", "", "Model name")
	flags.StringVar(&c.baseURL, "base-url", "", "OpenAI-compatible endpoint")
	flags.StringVar(&c.script, "script", "", "Replay model responses from a YAML script (implies --provider script)")
	flags.IntVarP(&c.stepBudget, "step-budget", "b", 0, "Maximum steps per task")
	flags.IntVar(&c.maxStepsPerRound, "max-steps-per-round", 0, "Initial cap on steps planned per round")
	flags.StringVar(&c.stepTimeout, "step-timeout", "", "Timeout for a single tool call, e.g. 2m")
	flags.StringVar(&c.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&c.logFormat, "log-format", "", "Log format (text, json)")

	rootCmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Prompt text (overrides prompt files)")
	rootCmd.Flags().StringVar(&promptFile, "prompt-file", "", "Read the prompt from this file")
	rootCmd.MarkFlagsMutuallyExclusive("prompt", "prompt-file")

	rootCmd.AddCommand(
		c.runCommand(),
		c.toolsCommand(),
		c.configCommand(),
		c.versionCommand(),
	)
	return rootCmd
}

func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}

// overrides collects the config keys set through flags.
func (c *cli) overrides(cmd *cobra.Command) (config.Overrides, error) {
	out := config.Overrides{}
	var setErr error
	cmd.Flags().Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		out[key] = f.Value.String()
	})
	if _, ok := out["llm.script_file"]; ok {
		if _, explicit := out["llm.provider"]; !explicit {
			out["llm.provider"] = "script"
		}
	}
	for _, set := range c.sets {
		key, value, ok := strings.Cut(set, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			setErr = errors.Join(setErr, fmt.Errorf("--set %q: expected key=value", set))
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, setErr
}

// loadConfig resolves the configuration for cmd. Every failure here is a
// usage error.
func (c *cli) loadConfig(cmd *cobra.Command) (config.Config, config.Metadata, error) {
	overrides, err := c.overrides(cmd)
	if err != nil {
		return config.Config{}, config.Metadata{}, usageError(err)
	}
	opts := []config.Option{config.WithEnv(c.env), config.WithOverrides(overrides)}
	if c.configFile != "" {
		opts = append(opts, config.WithConfigFile(c.configFile))
	}
	cfg, meta, err := config.Load(opts...)
	if err != nil {
		return cfg, meta, usageError(err)
	}
	// Progress lines already narrate the run; keep logs to warnings unless asked.
	if meta.Source("logging.level") == config.SourceDefault && !c.verbose {
		cfg.Logging.Level = "warn"
	}
	return cfg, meta, nil
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return usageError(fmt.Errorf("working directory: %w", err))
	}
	if !info.IsDir() {
		return usageError(fmt.Errorf("working directory %s is not a directory", dir))
	}
	return nil
}
