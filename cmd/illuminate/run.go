package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/vsingh18567/illuminate/internal/app"
	"github.com/vsingh18567/illuminate/internal/config"
	"github.com/vsingh18567/illuminate/internal/output"
	"github.com/vsingh18567/illuminate/internal/report"
)

const shutdownTimeout = 5 * time.Second

func (c *cli) runCommand() *cobra.Command {
	var parallel int
	cmd := &cobra.Command{
		Use:   "run DIR...",
		Short: "Run one task per directory, several at a time",
		Long: `Run one task per directory. Each directory must hold one of the prompt
files (prompt.txt or prompt.md by default). Directories must be distinct and
not nested in one another. Tasks are independent: a failure in one does not
stop the others.`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runMany(cmd, args)
		},
	}
	cmd.Flags().IntVarP(&parallel, "parallel", "j", 0, "Tasks to run at once (default from config)")
	return cmd
}

func (c *cli) runSingle(cmd *cobra.Command, dir, prompt, promptFile string) error {
	cfg, _, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := checkDir(dir); err != nil {
		return err
	}

	switch {
	case prompt != "":
	case promptFile != "":
		prompt, err = app.ReadPromptFile(promptFile)
		if err != nil {
			return usageError(err)
		}
	default:
		prompt, _, err = app.DiscoverPrompt(dir, cfg.PromptFiles)
		if err != nil {
			return usageError(err)
		}
	}

	renderer := output.NewCLIRenderer(c.stderr, c.verbose)
	runs, err := c.execute(cmd.Context(), cfg, renderer, []app.Job{{Dir: dir, Prompt: prompt}})
	if err != nil {
		return err
	}
	run := runs[0]
	if run.Err != nil {
		return run.Err
	}

	if !c.quiet {
		md := report.Markdown(run.Task, *run.Result, report.Options{Verbose: c.verbose, OutputLimit: cfg.Agent.SummaryLimit})
		fmt.Fprint(c.stdout, output.NewCLIRenderer(c.stdout, c.verbose).RenderMarkdown(md))
	}
	if code := statusCode(run.Status()); code != exitOK {
		return &ExitCodeError{Code: code}
	}
	return nil
}

func (c *cli) runMany(cmd *cobra.Command, dirs []string) error {
	cfg, _, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}

	jobs := make([]app.Job, 0, len(dirs))
	var problems []error
	for _, dir := range dirs {
		if err := checkDir(dir); err != nil {
			problems = append(problems, err)
			continue
		}
		prompt, _, err := app.DiscoverPrompt(dir, cfg.PromptFiles)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		jobs = append(jobs, app.Job{Dir: dir, Prompt: prompt})
	}
	if err := app.CheckDistinctDirs(dirs); err != nil {
		problems = append(problems, err)
	}
	if len(problems) > 0 {
		return usageError(errors.Join(problems...))
	}

	renderer := output.NewCLIRenderer(c.stderr, c.verbose)
	renderer.ShowTaskIDs(len(jobs) > 1)
	runs, err := c.execute(cmd.Context(), cfg, renderer, jobs)
	if err != nil {
		return err
	}

	codes := make([]int, 0, len(runs))
	fmt.Fprintln(c.stdout, bold("Results"))
	for _, run := range runs {
		codes = append(codes, c.printRunLine(run))
	}
	if code := worstCode(codes...); code != exitOK {
		return &ExitCodeError{Code: code}
	}
	return nil
}

// execute builds the container, runs jobs and shuts the container down.
func (c *cli) execute(ctx context.Context, cfg config.Config, renderer *output.CLIRenderer, jobs []app.Job) ([]app.TaskRun, error) {
	container, err := app.BuildContainer(ctx, cfg)
	if err != nil {
		return nil, usageError(err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := container.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintln(c.stderr, yellow("Shutdown: "+err.Error()))
		}
	}()

	runner := app.NewRunner(container, renderer)
	if len(jobs) == 1 {
		return []app.TaskRun{runner.RunTask(ctx, jobs[0])}, nil
	}
	return runner.RunMany(ctx, jobs), nil
}

func (c *cli) printRunLine(run app.TaskRun) int {
	dir := run.Job.Dir
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	if run.Err != nil {
		fmt.Fprintf(c.stdout, "  %s %s %s\n", red("✗"), dir, gray(run.Err.Error()))
		return exitFailed
	}

	res := run.Result
	mark := green("✓")
	switch statusCode(res.Status) {
	case exitExhausted:
		mark = yellow("■")
	case exitFailed:
		mark = red("✗")
	}
	line := fmt.Sprintf("  %s %s %s, %d step(s), %d deliverable(s)", mark, dir, res.Status, res.StepsUsed, len(res.FinalArtifacts))
	if run.RecordPath != "" {
		line += " " + gray(run.RecordPath)
	}
	fmt.Fprintln(c.stdout, line)
	if res.Err != nil {
		fmt.Fprintf(c.stdout, "      %s\n", gray(res.Err.Error()))
	}
	return statusCode(res.Status)
}
