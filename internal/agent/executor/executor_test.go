package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
	agenterrors "github.com/vsingh18567/illuminate/internal/errors"
	"github.com/vsingh18567/illuminate/internal/testutil"
	"github.com/vsingh18567/illuminate/internal/toolregistry"
	"github.com/vsingh18567/illuminate/internal/transcript"
	"github.com/vsingh18567/illuminate/internal/workspace"
)

// ledger reports steps as completed once the executor marks them so.
type ledger struct {
	steps map[int]*ports.Step
}

func (l *ledger) StepStatus(index int) (ports.StepStatus, bool) {
	step, ok := l.steps[index]
	if !ok {
		return "", false
	}
	return step.Status, true
}

type fixture struct {
	ws       *workspace.Workspace
	registry *toolregistry.Registry
	exec     *Executor
	ledger   *ledger
}

func newFixture(t *testing.T, timeout time.Duration, tools ...ports.Tool) *fixture {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	l := &ledger{steps: map[int]*ports.Step{}}
	ws.BindLedger(l)

	reg := toolregistry.NewRegistry()
	reg.MustRegister(tools...)
	reg.Seal()

	exec, err := New(Config{Catalog: reg, Workspace: ws, StepTimeout: timeout})
	require.NoError(t, err)
	return &fixture{ws: ws, registry: reg, exec: exec, ledger: l}
}

func (f *fixture) step(index int, tool string, args map[string]any) *ports.Step {
	step := &ports.Step{Index: index, Tool: tool, Arguments: args, Status: ports.StepProposed}
	f.ledger.steps[index] = step
	return step
}

func TestNewRequiresCatalogAndWorkspace(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
	_, err = New(Config{Catalog: toolregistry.NewRegistry()})
	require.Error(t, err)
}

func TestExecuteRecordsArtifacts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Second, testutil.WriterTool("write_file", ports.RetentionEphemeral))
	step := f.step(0, "write_file", map[string]any{"path": "out/report.md", "content": "# Sales"})

	result := f.exec.Execute(context.Background(), step)
	require.NoError(t, result.Err)
	assert.Equal(t, ports.StepCompleted, step.Status)
	assert.Equal(t, 1, step.Attempts)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "out/report.md", result.Artifacts[0].Artifact.Path)
	assert.Equal(t, ports.RetentionEphemeral, result.Artifacts[0].Artifact.Retention)
	assert.Contains(t, result.Text, "wrote 7 bytes")

	artifact, ok := f.ws.Artifact("out/report.md")
	require.True(t, ok)
	assert.Equal(t, 0, artifact.StepIndex)
}

func TestExecuteHonoursRetentionOverride(t *testing.T) {
	t.Parallel()

	tool := testutil.NewTool(ports.ToolSpec{
		Name:   "render_pdf",
		Output: ports.OutputContract{Kind: ports.OutputBoth, DefaultRetention: ports.RetentionEphemeral},
	}, func(ctx context.Context, _ map[string]any) (ports.ToolOutput, error) {
		ws, _ := workspace.FromContext(ctx)
		require.NoError(t, os.WriteFile(filepath.Join(ws.Root(), "report.pdf"), []byte("%PDF"), 0o644))
		return ports.ToolOutput{Text: "rendered", Files: []ports.ProducedFile{{Path: "report.pdf", Retention: ports.RetentionFinal}}}, nil
	})
	f := newFixture(t, time.Second, tool)

	result := f.exec.Execute(context.Background(), f.step(0, "render_pdf", nil))
	require.NoError(t, result.Err)
	assert.Equal(t, []ports.Artifact{result.Artifacts[0].Artifact}, f.ws.FinalArtifacts())
}

func TestExecuteRevalidatesAgainstCatalog(t *testing.T) {
	t.Parallel()

	writer := testutil.WriterTool("write_file", ports.RetentionEphemeral)
	f := newFixture(t, time.Second, writer)

	bad := f.exec.Execute(context.Background(), f.step(0, "write_file", map[string]any{"path": "a.txt"}))
	var invalid *agenterrors.InvalidArgumentsError
	require.ErrorAs(t, bad.Err, &invalid)
	assert.False(t, agenterrors.IsRetryableStep(bad.Err))

	f.exec.SetCatalog(toolregistry.WithoutTools(f.registry, "write_file"))
	step := f.step(1, "write_file", map[string]any{"path": "a.txt", "content": "x"})
	result := f.exec.Execute(context.Background(), step)
	var unknown *agenterrors.UnknownToolError
	require.ErrorAs(t, result.Err, &unknown)
	assert.Equal(t, ports.StepFailed, step.Status)
	assert.Equal(t, 0, writer.Calls())
}

func TestExecuteWrapsToolErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("wkhtmltopdf: not found")
	f := newFixture(t, time.Second, testutil.FailingTool("render_pdf", boom))
	step := f.step(0, "render_pdf", map[string]any{})

	result := f.exec.Execute(context.Background(), step)
	var execErr *agenterrors.ToolExecutionError
	require.ErrorAs(t, result.Err, &execErr)
	assert.Equal(t, "render_pdf", execErr.Tool)
	assert.Equal(t, 1, execErr.Attempt)
	assert.False(t, execErr.TimedOut)
	assert.ErrorIs(t, result.Err, boom)
	assert.True(t, agenterrors.IsRetryableStep(result.Err))
	assert.Equal(t, ports.StepFailed, step.Status)
}

func TestExecuteTimesOut(t *testing.T) {
	t.Parallel()

	for _, tool := range []*testutil.Tool{testutil.BlockingTool("wait"), testutil.SleepTool("sleep", 2*time.Second)} {
		f := newFixture(t, 30*time.Millisecond, tool)
		f.exec.grace = 50 * time.Millisecond
		started := time.Now()
		result := f.exec.Execute(context.Background(), f.step(0, tool.Spec().Name, nil))
		assert.Less(t, time.Since(started), time.Second)

		var execErr *agenterrors.ToolExecutionError
		require.ErrorAs(t, result.Err, &execErr)
		assert.True(t, execErr.TimedOut, tool.Spec().Name)
	}
}

func TestExecuteWaitsForTimedOutToolBeforeReturning(t *testing.T) {
	t.Parallel()

	var running, peak atomic.Int32
	stubborn := testutil.NewTool(ports.ToolSpec{Name: "stubborn"}, func(context.Context, map[string]any) (ports.ToolOutput, error) {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(200 * time.Millisecond)
		running.Add(-1)
		return ports.ToolOutput{Text: "late"}, nil
	})
	f := newFixture(t, 20*time.Millisecond, stubborn)
	f.exec.grace = 5 * time.Second

	step := f.step(0, "stubborn", nil)
	for attempt := 0; attempt < 3; attempt++ {
		started := time.Now()
		result := f.exec.Execute(context.Background(), step)
		assert.GreaterOrEqual(t, time.Since(started), 200*time.Millisecond)

		var execErr *agenterrors.ToolExecutionError
		require.ErrorAs(t, result.Err, &execErr)
		assert.True(t, execErr.TimedOut)
		assert.Equal(t, int32(0), running.Load())
	}
	assert.Equal(t, 3, stubborn.Calls())
	assert.Equal(t, int32(1), peak.Load())
}

func TestExecuteIgnoresCallerCancellationUntilToolReturns(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Second, testutil.SleepTool("sleep", 20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := f.exec.Execute(ctx, f.step(0, "sleep", nil))
	require.NoError(t, result.Err)
	assert.Equal(t, "slept", result.Text)
}

func TestExecuteRecoversPanics(t *testing.T) {
	t.Parallel()

	tool := testutil.NewTool(ports.ToolSpec{Name: "explode"}, func(context.Context, map[string]any) (ports.ToolOutput, error) {
		panic("kaboom")
	})
	f := newFixture(t, time.Second, tool)

	result := f.exec.Execute(context.Background(), f.step(0, "explode", nil))
	var execErr *agenterrors.ToolExecutionError
	require.ErrorAs(t, result.Err, &execErr)
	assert.Contains(t, execErr.Error(), "kaboom")
}

func TestExecuteEnforcesOutputContract(t *testing.T) {
	t.Parallel()

	noFiles := testutil.NewTool(ports.ToolSpec{Name: "make_chart", Output: ports.OutputContract{Kind: ports.OutputFile}}, nil)
	strayFiles := testutil.NewTool(ports.ToolSpec{Name: "count_rows"}, func(context.Context, map[string]any) (ports.ToolOutput, error) {
		return ports.ToolOutput{Text: "42", Files: []ports.ProducedFile{{Path: "rows.txt"}}}, nil
	})
	missing := testutil.NewTool(ports.ToolSpec{Name: "ghost", Output: ports.OutputContract{Kind: ports.OutputFile}}, func(context.Context, map[string]any) (ports.ToolOutput, error) {
		return ports.ToolOutput{Files: []ports.ProducedFile{{Path: "never-written.csv"}}}, nil
	})
	f := newFixture(t, time.Second, noFiles, strayFiles, missing)

	for i, name := range []string{"make_chart", "count_rows", "ghost"} {
		result := f.exec.Execute(context.Background(), f.step(i, name, nil))
		var execErr *agenterrors.ToolExecutionError
		require.ErrorAs(t, result.Err, &execErr, name)
	}
	assert.Empty(t, f.ws.Artifacts())
}

func TestExecuteRejectsFilesOutsideWorkspace(t *testing.T) {
	t.Parallel()

	tool := testutil.NewTool(ports.ToolSpec{Name: "escape", Output: ports.OutputContract{Kind: ports.OutputFile}}, func(context.Context, map[string]any) (ports.ToolOutput, error) {
		return ports.ToolOutput{Files: []ports.ProducedFile{{Path: "../../etc/passwd"}}}, nil
	})
	f := newFixture(t, time.Second, tool)
	step := f.step(0, "escape", nil)

	result := f.exec.Execute(context.Background(), step)
	var outside *agenterrors.PathOutsideWorkspaceError
	require.ErrorAs(t, result.Err, &outside)
	assert.False(t, agenterrors.IsRetryableStep(result.Err))
	assert.Equal(t, ports.StepFailed, step.Status)
}

// countingLedger reports steps as completed for the first allowed lookups.
type countingLedger struct {
	allowed atomic.Int32
}

func (l *countingLedger) StepStatus(int) (ports.StepStatus, bool) {
	if l.allowed.Add(-1) >= 0 {
		return ports.StepCompleted, true
	}
	return ports.StepExecuting, true
}

func TestExecuteRestoresOverwrittenArtifactsWhenRecordingFails(t *testing.T) {
	t.Parallel()

	tool := testutil.NewTool(ports.ToolSpec{Name: "publish", Output: ports.OutputContract{Kind: ports.OutputFile}}, func(ctx context.Context, _ map[string]any) (ports.ToolOutput, error) {
		ws, _ := workspace.FromContext(ctx)
		require.NoError(t, os.WriteFile(filepath.Join(ws.Root(), "report.md"), []byte("# v2"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(ws.Root(), "extra.md"), []byte("notes"), 0o644))
		return ports.ToolOutput{Files: []ports.ProducedFile{{Path: "report.md"}, {Path: "extra.md"}}}, nil
	})
	f := newFixture(t, time.Second, tool)
	// The earlier step and report.md are accepted, extra.md is not.
	l := &countingLedger{}
	l.allowed.Store(2)
	f.ws.BindLedger(l)

	require.NoError(t, os.WriteFile(filepath.Join(f.ws.Root(), "report.md"), []byte("# v1"), 0o644))
	_, err := f.ws.RecordArtifact("report.md", 0, ports.RetentionFinal)
	require.NoError(t, err)

	step := &ports.Step{Index: 1, Tool: "publish"}
	result := f.exec.Execute(context.Background(), step)
	require.ErrorIs(t, result.Err, agenterrors.ErrStepNotCompleted)
	assert.Equal(t, ports.StepFailed, step.Status)

	restored, ok := f.ws.Artifact("report.md")
	require.True(t, ok)
	assert.Equal(t, 0, restored.StepIndex)
	assert.Equal(t, ports.RetentionFinal, restored.Retention)
	require.Len(t, f.ws.FinalArtifacts(), 1)
	_, tracked := f.ws.Artifact("extra.md")
	assert.False(t, tracked)
}

func TestExecuteRejectsFilesInLogDirectory(t *testing.T) {
	t.Parallel()

	tool := testutil.NewTool(ports.ToolSpec{Name: "tamper", Output: ports.OutputContract{Kind: ports.OutputFile}}, func(ctx context.Context, _ map[string]any) (ports.ToolOutput, error) {
		ws, _ := workspace.FromContext(ctx)
		dir := filepath.Join(ws.Root(), workspace.LogDirName)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "run.yaml"), []byte("status: succeeded"), 0o644))
		return ports.ToolOutput{Files: []ports.ProducedFile{{Path: workspace.LogDirName + "/run.yaml"}}}, nil
	})
	f := newFixture(t, time.Second, tool)

	result := f.exec.Execute(context.Background(), f.step(0, "tamper", nil))
	require.ErrorIs(t, result.Err, agenterrors.ErrReservedPath)
	assert.False(t, agenterrors.IsRetryableStep(result.Err))
	assert.Empty(t, f.ws.Artifacts())
}

func TestExecuteTracksUndeclaredFiles(t *testing.T) {
	t.Parallel()

	tool := testutil.NewTool(ports.ToolSpec{Name: "run_python"}, func(ctx context.Context, _ map[string]any) (ports.ToolOutput, error) {
		ws, _ := workspace.FromContext(ctx)
		require.NoError(t, os.WriteFile(filepath.Join(ws.Root(), "scratch.csv"), []byte("a,b"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(ws.Root(), "input.csv"), []byte("changed"), 0o644))
		return ports.ToolOutput{Text: "ok"}, nil
	})

	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(ws.Root(), "input.csv"), []byte("x,y"), 0o644))
	reg := toolregistry.NewRegistry()
	reg.MustRegister(tool)

	exec, err := New(Config{Catalog: reg, Workspace: ws, TrackUndeclaredFiles: true})
	require.NoError(t, err)

	result := exec.Execute(context.Background(), &ports.Step{Index: 0, Tool: "run_python"})
	require.NoError(t, result.Err)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "scratch.csv", result.Artifacts[0].Artifact.Path)
	assert.True(t, result.Artifacts[0].Undeclared)
	_, tracked := ws.Artifact("input.csv")
	assert.False(t, tracked)
}

func TestExecuteWritesTranscript(t *testing.T) {
	t.Parallel()

	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	reg := toolregistry.NewRegistry()
	reg.MustRegister(testutil.TextTool("list_files", "sales.csv"))
	writer := transcript.New(filepath.Join(ws.Root(), workspace.LogDirName), "executor")

	exec, err := New(Config{Catalog: reg, Workspace: ws, Transcript: writer})
	require.NoError(t, err)
	exec.Execute(context.Background(), &ports.Step{Index: 4, Round: 2, Tool: "list_files"})

	entries, err := transcript.Read(writer.Path())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "[4] list_files {} -> completed\nsales.csv", entries[0].Content)
	assert.Equal(t, 2, entries[0].Round)
}
