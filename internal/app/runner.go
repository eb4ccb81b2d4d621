package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/vsingh18567/illuminate/internal/agent/executor"
	"github.com/vsingh18567/illuminate/internal/agent/orchestrator"
	"github.com/vsingh18567/illuminate/internal/agent/planner"
	"github.com/vsingh18567/illuminate/internal/agent/ports"
	"github.com/vsingh18567/illuminate/internal/logging"
	"github.com/vsingh18567/illuminate/internal/report"
	"github.com/vsingh18567/illuminate/internal/transcript"
	"github.com/vsingh18567/illuminate/internal/workspace"
)

const (
	plannerTranscript  = "planner"
	executorTranscript = "executor"
)

// Job is one task to run: a prompt against a working directory.
type Job struct {
	Dir    string
	Prompt string
}

// TaskRun is the outcome of one job.
type TaskRun struct {
	Job        Job
	Task       *ports.Task
	Result     *orchestrator.Result
	RecordPath string
	// Err is set when the task could not be started. Terminal task failures
	// are reported in Result.
	Err error
}

// Status returns the terminal status, or failed when the task never ran.
func (r TaskRun) Status() ports.TaskStatus {
	if r.Result == nil {
		return ports.TaskFailed
	}
	return r.Result.Status
}

// Runner builds the per-task components and drives the loop.
type Runner struct {
	container *Container
	listener  ports.EventListener
}

// NewRunner returns a runner over c. listener may be nil.
func NewRunner(c *Container, listener ports.EventListener) *Runner {
	return &Runner{container: c, listener: listener}
}

// RunTask runs prompt against dir and records the outcome under dir's log directory.
func (r *Runner) RunTask(ctx context.Context, job Job) TaskRun {
	run := TaskRun{Job: job}
	task, loop, err := r.prepare(job)
	if err != nil {
		run.Err = err
		return run
	}
	run.Task = task

	res, err := loop.Run(ctx, task)
	if err != nil {
		run.Err = err
		return run
	}
	run.Result = res

	path, err := report.WriteRunRecord(task.WorkDir, report.NewRunRecord(task, *res))
	if err != nil {
		logging.WithLogID(r.container.Logger, task.ID).Warn("Failed to write run record: %v", err)
	} else {
		run.RecordPath = path
	}
	return run
}

// RunMany runs jobs concurrently, at most Config.Parallel at a time. Each task
// is independent; one failing does not stop the others. A job whose directory
// overlaps an earlier job's is not run. Results are returned in job order.
func (r *Runner) RunMany(ctx context.Context, jobs []Job) []TaskRun {
	runs := make([]TaskRun, len(jobs))
	limit := r.container.Config.Parallel
	if limit < 1 {
		limit = 1
	}

	dirs := make([]string, len(jobs))
	for i, job := range jobs {
		dirs[i] = job.Dir
	}
	shared := overlaps(dirs)

	var g errgroup.Group
	g.SetLimit(limit)
	for i, job := range jobs {
		if err, ok := shared[i]; ok {
			runs[i] = TaskRun{Job: job, Err: err}
			continue
		}
		g.Go(func() error {
			runs[i] = r.RunTask(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return runs
}

func (r *Runner) prepare(job Job) (*ports.Task, *orchestrator.Loop, error) {
	c := r.container
	cfg := c.Config.Agent

	ws, err := workspace.New(job.Dir, workspace.WithLogger(c.Logger))
	if err != nil {
		return nil, nil, err
	}
	task, err := ports.NewTask(job.Prompt, ws.Root(), cfg.StepBudget)
	if err != nil {
		return nil, nil, err
	}

	logger := logging.WithLogID(c.Logger, task.ID)
	logDir := filepath.Join(ws.Root(), workspace.LogDirName)
	metrics := c.Observability.Metrics
	tracer := c.Observability.Tracer()

	p, err := planner.New(planner.Config{
		Gateway:          c.Gateway,
		Catalog:          c.Registry,
		MaxStepsPerRound: cfg.MaxStepsPerRound,
		ConfidenceFloor:  cfg.ConfidenceFloor,
		Transcript:       transcript.New(logDir, plannerTranscript),
		Logger:           logger,
		Metrics:          metrics,
		Tracer:           tracer,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build planner: %w", err)
	}

	exec, err := executor.New(executor.Config{
		Catalog:              c.Registry,
		Workspace:            ws,
		StepTimeout:          cfg.StepTimeout,
		TimeoutGrace:         cfg.TimeoutGrace,
		TrackUndeclaredFiles: cfg.TrackUndeclaredFiles,
		Transcript:           transcript.New(logDir, executorTranscript),
		Logger:               logger,
		Metrics:              metrics,
		Tracer:               tracer,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build executor: %w", err)
	}

	loop, err := orchestrator.New(orchestrator.Config{
		Planner:        p,
		Executor:       exec,
		Workspace:      ws,
		MaxPlanRetries: cfg.MaxPlanRetries,
		MaxStepRetries: cfg.MaxStepRetries,
		Granularity: orchestrator.Granularity{
			Initial:       cfg.MaxStepsPerRound,
			Min:           cfg.MinStepsPerRound,
			Max:           cfg.CeilingStepsPerRound,
			SuccessStreak: cfg.SuccessStreak,
		},
		SummaryLimit: cfg.SummaryLimit,
		Listener:     r.listener,
		Logger:       logger,
		Metrics:      metrics,
		Tracer:       tracer,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build loop: %w", err)
	}
	return task, loop, nil
}

// Failed reports whether any run did not succeed.
func Failed(runs []TaskRun) error {
	var errs []error
	for _, run := range runs {
		switch {
		case run.Err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", run.Job.Dir, run.Err))
		case run.Status() != ports.TaskSucceeded:
			errs = append(errs, fmt.Errorf("%s: task %s", run.Job.Dir, run.Status()))
		}
	}
	return errors.Join(errs...)
}
