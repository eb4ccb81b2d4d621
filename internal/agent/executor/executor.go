// Package executor runs single steps against the tool catalog.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
	agenterrors "github.com/vsingh18567/illuminate/internal/errors"
	"github.com/vsingh18567/illuminate/internal/logging"
	"github.com/vsingh18567/illuminate/internal/observability"
	"github.com/vsingh18567/illuminate/internal/tokenutil"
	"github.com/vsingh18567/illuminate/internal/toolregistry"
	"github.com/vsingh18567/illuminate/internal/transcript"
	"github.com/vsingh18567/illuminate/internal/workspace"
)

const (
	// DefaultStepTimeout bounds a tool invocation when no timeout is configured.
	DefaultStepTimeout = 5 * time.Minute
	// DefaultTimeoutGrace is how long a timed-out tool gets to return.
	DefaultTimeoutGrace = 30 * time.Second
)

// Config wires an executor. Catalog and Workspace are required.
type Config struct {
	Catalog   toolregistry.Catalog
	Workspace *workspace.Workspace

	StepTimeout time.Duration
	// TimeoutGrace is how long Execute keeps waiting for a tool after its
	// timeout fired. The next attempt never overlaps a tool that returns
	// within the grace.
	TimeoutGrace time.Duration
	// TrackUndeclaredFiles records files a tool created without reporting
	// them as ephemeral artifacts, so cleanup can remove them.
	TrackUndeclaredFiles bool

	Transcript *transcript.Writer
	Logger     logging.Logger
	Metrics    *observability.MetricsCollector
	Tracer     trace.Tracer
}

// Executor runs one step at a time for a single task.
type Executor struct {
	mu         sync.RWMutex
	catalog    toolregistry.Catalog
	workspace  *workspace.Workspace
	timeout    time.Duration
	grace      time.Duration
	undeclared bool
	transcript *transcript.Writer
	logger     logging.Logger
	metrics    *observability.MetricsCollector
	tracer     trace.Tracer
}

// New validates config and builds an executor.
func New(config Config) (*Executor, error) {
	if config.Catalog == nil {
		return nil, errors.New("executor requires a tool catalog")
	}
	if config.Workspace == nil {
		return nil, errors.New("executor requires a workspace")
	}
	timeout := config.StepTimeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	grace := config.TimeoutGrace
	if grace <= 0 {
		grace = DefaultTimeoutGrace
	}
	return &Executor{
		catalog:    config.Catalog,
		workspace:  config.Workspace,
		timeout:    timeout,
		grace:      grace,
		undeclared: config.TrackUndeclaredFiles,
		transcript: config.Transcript,
		logger:     logging.Component(config.Logger, "executor"),
		metrics:    config.Metrics,
		tracer:     observability.OrNoop(config.Tracer),
	}, nil
}

// SetCatalog swaps the catalog used for validation and dispatch.
func (e *Executor) SetCatalog(catalog toolregistry.Catalog) {
	e.mu.Lock()
	e.catalog = catalog
	e.mu.Unlock()
}

func (e *Executor) currentCatalog() toolregistry.Catalog {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.catalog
}

// Execute runs step once and returns its result. Failures are reported in
// StepResult.Err and never escape as panics. On success the step is marked
// completed and every reported file is recorded as an artifact.
func (e *Executor) Execute(ctx context.Context, step *ports.Step) ports.StepResult {
	step.Attempts++
	step.Status = ports.StepExecuting
	step.Result = nil

	logger := logging.FromContext(ctx, e.logger)
	ctx, span := observability.StartSpan(ctx, e.tracer, observability.SpanStepExecute,
		observability.StepAttrs(step.Tool, step.Index, step.Attempts)...)

	started := time.Now()
	result := e.execute(ctx, step)
	result.Duration = time.Since(started)

	if result.Err != nil {
		step.Status = ports.StepFailed
		logger.Warn("Step %d (%s) attempt %d failed: %v", step.Index, step.Tool, step.Attempts, result.Err)
	} else {
		logger.Info("Step %d (%s) completed in %s with %d artifact(s)", step.Index, step.Tool, result.Duration.Round(time.Millisecond), len(result.Artifacts))
	}
	step.Result = &result

	e.metrics.RecordStep(ctx, step.Tool, string(step.Status), result.Duration)
	e.record(step, result)
	observability.EndSpan(span, result.Err)
	return result
}

func (e *Executor) execute(ctx context.Context, step *ports.Step) ports.StepResult {
	catalog := e.currentCatalog()
	if err := catalog.Validate(step.Tool, step.Arguments); err != nil {
		return ports.StepResult{Err: err}
	}
	spec, err := catalog.Lookup(step.Tool)
	if err != nil {
		return ports.StepResult{Err: err}
	}
	tool, err := catalog.Get(step.Tool)
	if err != nil {
		return ports.StepResult{Err: err}
	}

	var before map[string]bool
	if e.undeclared {
		before = e.existingFiles()
	}

	out, timedOut, err := e.invoke(ctx, tool, step.Arguments)
	if err == nil {
		err = checkContract(spec.Output.Kind, out)
	}
	if err != nil {
		return ports.StepResult{Text: out.Text, Err: e.toolError(step, err, timedOut)}
	}

	produced, err := e.resolveFiles(spec, out.Files)
	if err != nil {
		var outside *agenterrors.PathOutsideWorkspaceError
		if errors.As(err, &outside) || errors.Is(err, agenterrors.ErrReservedPath) {
			return ports.StepResult{Text: out.Text, Err: err}
		}
		return ports.StepResult{Text: out.Text, Err: e.toolError(step, err, false)}
	}

	step.Status = ports.StepCompleted
	result := ports.StepResult{Text: out.Text}
	var undo []priorArtifact
	for _, file := range produced {
		prev, had := e.workspace.Artifact(file.Path)
		write, err := e.workspace.RecordArtifact(file.Path, step.Index, file.Retention)
		if err != nil {
			e.rollback(undo)
			step.Status = ports.StepFailed
			return ports.StepResult{Text: out.Text, Err: fmt.Errorf("record artifacts of step %d: %w", step.Index, err)}
		}
		undo = append(undo, priorArtifact{path: file.Path, artifact: prev, tracked: had})
		result.Artifacts = append(result.Artifacts, write)
	}

	if e.undeclared {
		result.Artifacts = append(result.Artifacts, e.recordUndeclared(step, before, produced)...)
	}
	return result
}

// priorArtifact is what the workspace tracked at a path before this step
// recorded it.
type priorArtifact struct {
	path     string
	artifact ports.Artifact
	tracked  bool
}

// rollback undoes the artifacts a failed step already recorded, newest first,
// so overwritten artifacts of earlier steps come back.
func (e *Executor) rollback(undo []priorArtifact) {
	for i := len(undo) - 1; i >= 0; i-- {
		u := undo[i]
		if !u.tracked {
			e.workspace.Forget(u.path)
			continue
		}
		if err := e.workspace.Restore(u.artifact); err != nil {
			e.logger.Warn("Could not restore artifact %s: %v", u.path, err)
		}
	}
}

// invoke runs the tool in its own goroutine under the step timeout. The
// timeout context ignores the caller's cancellation so an interrupt only
// takes effect between steps. After the timeout fires the tool gets the grace
// period to return; only then is it abandoned.
func (e *Executor) invoke(ctx context.Context, tool ports.Tool, args map[string]any) (out ports.ToolOutput, timedOut bool, err error) {
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	execCtx = workspace.WithContext(execCtx, e.workspace)

	type outcome struct {
		out ports.ToolOutput
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("Tool %s panicked: %v\n%s", tool.Spec().Name, r, debug.Stack())
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		out, err := tool.Invoke(execCtx, args)
		done <- outcome{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return res.out, true, fmt.Errorf("timed out after %s: %w", e.timeout, res.err)
		}
		return res.out, false, res.err
	case <-execCtx.Done():
	}

	grace := time.NewTimer(e.grace)
	defer grace.Stop()
	select {
	case res := <-done:
		if res.err != nil {
			return res.out, true, fmt.Errorf("timed out after %s: %w", e.timeout, res.err)
		}
		return res.out, true, fmt.Errorf("timed out after %s", e.timeout)
	case <-grace.C:
		e.logger.Error("Tool %s ignored its %s timeout and was still running %s later; abandoning it", tool.Spec().Name, e.timeout, e.grace)
		return ports.ToolOutput{}, true, fmt.Errorf("timed out after %s (tool abandoned)", e.timeout)
	}
}

func (e *Executor) toolError(step *ports.Step, cause error, timedOut bool) error {
	return &agenterrors.ToolExecutionError{
		Tool:      step.Tool,
		Arguments: step.Arguments,
		Cause:     cause,
		TimedOut:  timedOut,
		Attempt:   step.Attempts,
	}
}

func checkContract(kind ports.OutputKind, out ports.ToolOutput) error {
	switch kind {
	case ports.OutputFile:
		if len(out.Files) == 0 {
			return errors.New("tool declares file output but reported no files")
		}
	case ports.OutputText:
		if len(out.Files) > 0 {
			return fmt.Errorf("tool declares text output but reported %d file(s)", len(out.Files))
		}
	}
	return nil
}

// resolveFiles checks every reported file before anything is recorded.
func (e *Executor) resolveFiles(spec ports.ToolSpec, files []ports.ProducedFile) ([]ports.ProducedFile, error) {
	resolved := make([]ports.ProducedFile, 0, len(files))
	for _, file := range files {
		rel, err := e.workspace.Relative(file.Path)
		if err != nil {
			return nil, err
		}
		abs, err := e.workspace.Resolve(rel)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("reported file %s: %w", rel, err)
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("reported file %s is not a regular file", rel)
		}

		retention := file.Retention
		if retention == "" {
			retention = spec.Output.DefaultRetention
		}
		if retention == "" {
			retention = ports.RetentionEphemeral
		}
		if !retention.Valid() {
			return nil, fmt.Errorf("reported file %s has unknown retention %q", rel, retention)
		}
		resolved = append(resolved, ports.ProducedFile{Path: rel, Retention: retention})
	}
	return resolved, nil
}

func (e *Executor) existingFiles() map[string]bool {
	existing := make(map[string]bool)
	for entry, err := range e.workspace.Snapshot() {
		if err != nil {
			continue
		}
		existing[entry.Path] = true
	}
	return existing
}

// recordUndeclared tracks files that appeared during the step without being
// reported. Files that already existed are left alone even if modified.
func (e *Executor) recordUndeclared(step *ports.Step, before map[string]bool, reported []ports.ProducedFile) []ports.ArtifactWrite {
	declared := make(map[string]bool, len(reported))
	for _, file := range reported {
		declared[file.Path] = true
	}

	var writes []ports.ArtifactWrite
	for entry, err := range e.workspace.Snapshot() {
		if err != nil || before[entry.Path] || declared[entry.Path] {
			continue
		}
		write, err := e.workspace.RecordArtifact(entry.Path, step.Index, ports.RetentionEphemeral)
		if err != nil {
			e.logger.Warn("Could not track undeclared file %s: %v", entry.Path, err)
			continue
		}
		write.Undeclared = true
		writes = append(writes, write)
	}
	return writes
}

func (e *Executor) record(step *ports.Step, result ports.StepResult) {
	if e.transcript == nil {
		return
	}
	content := fmt.Sprintf("[%d] %s %s -> %s", step.Index, step.Tool, agenterrors.FormatArguments(step.Arguments), step.Status)
	if result.Err != nil {
		content += "\nerror: " + result.Err.Error()
	}
	if result.Text != "" {
		content += "\n" + tokenutil.TruncateRunes(result.Text, transcript.DefaultMaxContent)
	}
	if err := e.transcript.Append(transcript.Entry{Round: step.Round, Kind: "step", Content: content}); err != nil {
		e.logger.Warn("Failed to append executor transcript: %v", err)
	}
}
