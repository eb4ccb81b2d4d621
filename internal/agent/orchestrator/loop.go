// Package orchestrator runs the plan/execute state machine of a task.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vsingh18567/illuminate/internal/agent/planner"
	"github.com/vsingh18567/illuminate/internal/agent/ports"
	agenterrors "github.com/vsingh18567/illuminate/internal/errors"
	"github.com/vsingh18567/illuminate/internal/logging"
	"github.com/vsingh18567/illuminate/internal/observability"
)

// Phase is a state of the orchestration loop.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhasePlanning     Phase = "planning"
	PhaseExecuting    Phase = "executing"
	PhaseFinalizing   Phase = "finalizing"
	PhaseSucceeded    Phase = "succeeded"
	PhaseFailed       Phase = "failed"
	PhaseExhausted    Phase = "exhausted"
)

// Planner proposes the next steps of a task.
type Planner interface {
	Propose(ctx context.Context, task *ports.Task, state ports.ConversationState) (planner.Proposal, error)
	MaxStepsPerRound() int
	SetMaxStepsPerRound(n int)
}

// StepExecutor runs a single step.
type StepExecutor interface {
	Execute(ctx context.Context, step *ports.Step) ports.StepResult
}

// ArtifactStore is the part of the workspace the loop drives.
type ArtifactStore interface {
	Snapshot() iter.Seq2[ports.FileEntry, error]
	BindLedger(ledger ports.StepLedger)
	CleanupEphemeral(upcoming []ports.Step) (ports.CleanupReport, error)
	FinalArtifacts() []ports.Artifact
}

// Config wires a loop for one task.
type Config struct {
	Planner   Planner
	Executor  StepExecutor
	Workspace ArtifactStore

	MaxPlanRetries int
	MaxStepRetries int
	Granularity    Granularity
	// SummaryLimit caps the tool output kept per history entry.
	SummaryLimit int

	Listener ports.EventListener
	Logger   logging.Logger
	Metrics  *observability.MetricsCollector
	Tracer   trace.Tracer
}

// Result is the terminal report of a task.
type Result struct {
	TaskID         string
	Status         ports.TaskStatus
	Summary        string
	Err            error
	History        []ports.Step
	FinalArtifacts []ports.Artifact
	Cleanup        ports.CleanupReport
	CleanupErr     error
	Notes          []string
	Rounds         int
	StepsUsed      int
	Duration       time.Duration
}

// Loop coordinates a planner and an executor until the task terminates.
type Loop struct {
	config Config
	logger logging.Logger
	tracer trace.Tracer
}

// New validates config and builds a loop.
func New(config Config) (*Loop, error) {
	if config.Planner == nil || config.Executor == nil || config.Workspace == nil {
		return nil, errors.New("loop requires a planner, an executor and a workspace")
	}
	if config.MaxPlanRetries < 0 || config.MaxStepRetries < 0 {
		return nil, errors.New("retry limits must not be negative")
	}
	if config.SummaryLimit <= 0 {
		config.SummaryLimit = DefaultSummaryLimit
	}
	config.Granularity = config.Granularity.withDefaults()
	return &Loop{
		config: config,
		logger: logging.Component(config.Logger, "orchestrator"),
		tracer: observability.OrNoop(config.Tracer),
	}, nil
}

// Run drives task to a terminal status. The returned error is non-nil only
// when the task cannot be started; terminal failures are reported in
// Result.Err. Cancelling ctx stops the task at the next step or attempt
// boundary; an in-flight tool call runs until it returns or times out.
func (l *Loop) Run(ctx context.Context, task *ports.Task) (*Result, error) {
	if task == nil {
		return nil, errors.New("run: task is nil")
	}
	if task.Status != ports.TaskPending {
		return nil, fmt.Errorf("run: task %s is %s, not pending", task.ID, task.Status)
	}

	ctx = logging.ContextWithLogID(ctx, task.ID)
	r := &run{
		loop:    l,
		task:    task,
		history: &History{},
		policy:  granularityPolicy{config: l.config.Granularity},
		logger:  logging.FromContext(ctx, l.logger),
		started: time.Now(),
	}

	ctx, span := observability.StartSpan(ctx, l.tracer, observability.SpanTaskRun,
		attribute.Int("illuminate.step_budget", task.StepBudget))
	result := r.execute(ctx)
	span.SetAttributes(observability.StatusAttrs(string(result.Status))...)
	span.SetAttributes(attribute.Int(observability.AttrStepCount, result.StepsUsed))
	observability.EndSpan(span, result.Err)
	return result, nil
}

// run holds the mutable state of one task. Counters live here so concurrent
// tasks never share them.
type run struct {
	loop    *Loop
	task    *ports.Task
	history *History
	policy  granularityPolicy
	logger  logging.Logger
	started time.Time

	phase       Phase
	notes       []string
	round       int
	used        int
	planRetries int
}

func (r *run) execute(ctx context.Context) *Result {
	cfg := r.loop.config

	r.transition(PhaseInitializing)
	r.task.Status = ports.TaskRunning
	cfg.Workspace.BindLedger(r.history)
	if cfg.Granularity.enabled() {
		cfg.Planner.SetMaxStepsPerRound(cfg.Granularity.Initial)
	}
	cfg.Metrics.TaskStarted(ctx)
	r.emit(ports.AgentEvent{Type: ports.EventTaskStarted, Message: r.task.Prompt})
	r.logger.Info("Task started in %s with a budget of %d steps", r.task.WorkDir, r.task.StepBudget)

	for {
		if err := ctx.Err(); err != nil {
			return r.cancelled(err)
		}

		r.transition(PhasePlanning)
		proposal, err := cfg.Planner.Propose(ctx, r.task, r.conversation())
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return r.cancelled(ctxErr)
			}
			var malformed *agenterrors.MalformedPlanError
			if !errors.As(err, &malformed) {
				return r.fail(fmt.Errorf("planning failed: %w", err))
			}
			r.emit(ports.AgentEvent{Type: ports.EventPlanRejected, Message: err.Error(), Err: err})
			if r.planRetries >= cfg.MaxPlanRetries {
				return r.fail(fmt.Errorf("planning failed after %d retries: %w", r.planRetries, err))
			}
			r.planRetries++
			r.note(rejectedPlanNote(err, r.planRetries, cfg.MaxPlanRetries))
			continue
		}
		r.planRetries = 0

		if proposal.Finished {
			return r.finalize(ctx, proposal.Summary)
		}

		steps := r.admit(proposal)
		r.round++
		r.emit(ports.AgentEvent{
			Type:    ports.EventPlanProposed,
			Message: fmt.Sprintf("%d step(s), confidence %.2f", len(steps), proposal.Confidence),
		})

		r.transition(PhaseExecuting)
		roundFailed, cancelErr := r.executeRound(ctx, steps)

		next := r.policy.next(cfg.Planner.MaxStepsPerRound(), roundFailed)
		if next != cfg.Planner.MaxStepsPerRound() {
			r.logger.Debug("Max steps per round %d -> %d", cfg.Planner.MaxStepsPerRound(), next)
			cfg.Planner.SetMaxStepsPerRound(next)
		}

		if r.used >= r.task.StepBudget {
			return r.exhausted()
		}
		if cancelErr != nil {
			return r.cancelled(cancelErr)
		}
	}
}

// admit trims a proposal to the remaining budget and notes what was dropped.
func (r *run) admit(proposal planner.Proposal) []ports.Step {
	steps := proposal.Steps
	if proposal.Truncated > 0 {
		r.note(fmt.Sprintf("Only the first %d of %d proposed step(s) were kept this round; propose the rest again if still needed.",
			len(steps), len(steps)+proposal.Truncated))
	}
	if remaining := r.task.StepBudget - r.used; len(steps) > remaining {
		r.note(fmt.Sprintf("Dropped %d proposed step(s) because only %d step(s) of the budget remain.", len(steps)-remaining, remaining))
		steps = steps[:remaining]
	}
	return steps
}

// executeRound runs steps in order. It stops at the first failed step and
// between steps when ctx is cancelled.
func (r *run) executeRound(ctx context.Context, proposed []ports.Step) (failed bool, cancelErr error) {
	for i := range proposed {
		if err := ctx.Err(); err != nil {
			r.discard(proposed[i:], "task was cancelled")
			return false, err
		}

		step := proposed[i]
		step.Index = r.history.Len()
		step.Round = r.round
		step.Status = ports.StepProposed
		if err := r.history.Append(&step); err != nil {
			r.logger.Error("Refusing step: %v", err)
			return true, nil
		}
		r.emit(ports.AgentEvent{Type: ports.EventStepStarted, Step: &step})

		result := r.executeStep(ctx, &step)
		r.used++
		r.emit(ports.AgentEvent{Type: ports.EventStepFinished, Step: &step, Err: result.Err})

		for _, write := range result.Artifacts {
			if write.Overwrote {
				r.note(overwriteNote(step, write))
			}
		}
		if result.Err != nil {
			if rest := proposed[i+1:]; len(rest) > 0 {
				r.note(discardedNote(step, rest))
				r.discard(rest, fmt.Sprintf("step %d failed", step.Index))
			}
			return true, nil
		}
	}
	return false, nil
}

// executeStep runs step, retrying tool failures with the same arguments.
func (r *run) executeStep(ctx context.Context, step *ports.Step) ports.StepResult {
	cfg := r.loop.config
	for {
		result := cfg.Executor.Execute(ctx, step)
		if result.Err == nil || !agenterrors.IsRetryableStep(result.Err) {
			return result
		}
		if step.Attempts > cfg.MaxStepRetries {
			r.logger.Warn("Step %d (%s) failed after %d attempts: %v", step.Index, step.Tool, step.Attempts, result.Err)
			return result
		}
		if ctx.Err() != nil {
			return result
		}
		cfg.Metrics.RecordStepRetry(ctx, step.Tool)
		r.emit(ports.AgentEvent{
			Type:    ports.EventStepRetrying,
			Step:    step,
			Err:     result.Err,
			Message: fmt.Sprintf("retry %d of %d", step.Attempts, cfg.MaxStepRetries),
		})
	}
}

func (r *run) discard(steps []ports.Step, reason string) {
	if len(steps) == 0 {
		return
	}
	r.logger.Info("Discarding %d queued step(s): %s", len(steps), reason)
	r.emit(ports.AgentEvent{Type: ports.EventStepsDiscarded, Message: fmt.Sprintf("%d step(s) discarded: %s", len(steps), reason)})
}

// conversation rebuilds the state handed to the planner.
func (r *run) conversation() ports.ConversationState {
	steps := r.history.Steps()
	state := ports.ConversationState{
		Prompt:  r.task.Prompt,
		History: make([]ports.HistoryEntry, 0, len(steps)),
		Notes:   append([]string(nil), r.notes...),
	}
	for _, step := range steps {
		state.History = append(state.History, historyEntry(step, r.loop.config.SummaryLimit))
	}
	for entry, err := range r.loop.config.Workspace.Snapshot() {
		if err != nil {
			r.logger.Warn("Workspace snapshot error: %v", err)
			continue
		}
		state.Workspace = append(state.Workspace, entry)
	}
	return state
}

func (r *run) finalize(ctx context.Context, summary string) *Result {
	r.transition(PhaseFinalizing)
	_, span := observability.StartSpan(ctx, r.loop.tracer, observability.SpanCleanup)
	report, err := r.loop.config.Workspace.CleanupEphemeral(nil)
	observability.EndSpan(span, err)
	r.loop.config.Metrics.RecordCleanup(ctx, len(report.Removed))
	if err != nil {
		r.logger.Warn("Cleanup finished with errors: %v", err)
	} else if len(report.Removed) > 0 {
		r.logger.Info("Removed %d ephemeral artifact(s)", len(report.Removed))
	}

	result := r.finish(ctx, PhaseSucceeded, ports.TaskSucceeded, nil)
	result.Summary = summary
	result.Cleanup = report
	result.CleanupErr = err
	return result
}

func (r *run) exhausted() *Result {
	err := &agenterrors.StepBudgetExhaustedError{Budget: r.task.StepBudget, Used: r.used}
	return r.finish(context.Background(), PhaseExhausted, ports.TaskExhausted, err)
}

func (r *run) fail(err error) *Result {
	return r.finish(context.Background(), PhaseFailed, ports.TaskFailed, err)
}

func (r *run) cancelled(cause error) *Result {
	return r.fail(fmt.Errorf("%w: %w", agenterrors.ErrCancelled, cause))
}

func (r *run) finish(ctx context.Context, phase Phase, status ports.TaskStatus, err error) *Result {
	r.transition(phase)
	r.task.Status = status
	duration := time.Since(r.started)

	result := &Result{
		TaskID:         r.task.ID,
		Status:         status,
		Err:            err,
		History:        r.history.Steps(),
		FinalArtifacts: r.loop.config.Workspace.FinalArtifacts(),
		Notes:          append([]string(nil), r.notes...),
		Rounds:         r.round,
		StepsUsed:      r.used,
		Duration:       duration,
	}

	r.loop.config.Metrics.TaskFinished(context.WithoutCancel(ctx), string(status), duration)
	r.emit(ports.AgentEvent{Type: ports.EventTaskFinished, Status: status, Err: err})
	if err != nil {
		r.logger.Warn("Task %s after %d step(s): %v", status, r.used, err)
	} else {
		r.logger.Info("Task %s after %d step(s) in %d round(s)", status, r.used, r.round)
	}
	return result
}

func (r *run) transition(phase Phase) {
	if r.phase != phase {
		r.logger.Debug("Phase %s -> %s", r.phase, phase)
	}
	r.phase = phase
}

func (r *run) note(note string) {
	r.notes = append(r.notes, note)
}

func (r *run) emit(event ports.AgentEvent) {
	listener := r.loop.config.Listener
	if listener == nil {
		return
	}
	event.TaskID = r.task.ID
	event.Round = r.round
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	if event.Step != nil {
		snapshot := *event.Step
		event.Step = &snapshot
	}
	listener.OnEvent(event)
}
