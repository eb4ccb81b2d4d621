package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/vsingh18567/illuminate/internal/agent/executor"
	"github.com/vsingh18567/illuminate/internal/agent/planner"
	"github.com/vsingh18567/illuminate/internal/agent/ports"
	agenterrors "github.com/vsingh18567/illuminate/internal/errors"
	"github.com/vsingh18567/illuminate/internal/llm"
	"github.com/vsingh18567/illuminate/internal/observability"
	"github.com/vsingh18567/illuminate/internal/testutil"
	"github.com/vsingh18567/illuminate/internal/toolregistry"
	"github.com/vsingh18567/illuminate/internal/workspace"
)

type eventLog struct {
	mu     sync.Mutex
	events []ports.AgentEvent
	hook   func(ports.AgentEvent)
}

func (l *eventLog) OnEvent(event ports.AgentEvent) {
	l.mu.Lock()
	l.events = append(l.events, event)
	hook := l.hook
	l.mu.Unlock()
	if hook != nil {
		hook(event)
	}
}

func (l *eventLog) types() []ports.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ports.EventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	ws      *workspace.Workspace
	planner *planner.Planner
	events  *eventLog
	loop    *Loop
}

type options struct {
	timeout time.Duration
	loop    func(*Config)
	planner func(*planner.Config)
	tracer  *tracetest.SpanRecorder
}

func newHarness(t *testing.T, gateway ports.ModelGateway, opts options, tools ...ports.Tool) *harness {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)

	reg := toolregistry.NewRegistry()
	reg.MustRegister(tools...)
	reg.Seal()

	pcfg := planner.Config{Gateway: gateway, Catalog: reg}
	if opts.planner != nil {
		opts.planner(&pcfg)
	}
	p, err := planner.New(pcfg)
	require.NoError(t, err)

	var tracer trace.Tracer
	if opts.tracer != nil {
		tracer = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(opts.tracer)).Tracer("test")
	}

	timeout := opts.timeout
	if timeout == 0 {
		timeout = time.Second
	}
	exec, err := executor.New(executor.Config{Catalog: reg, Workspace: ws, StepTimeout: timeout, Tracer: tracer})
	require.NoError(t, err)

	events := &eventLog{}
	cfg := Config{
		Planner:        p,
		Executor:       exec,
		Workspace:      ws,
		MaxPlanRetries: 2,
		MaxStepRetries: 2,
		Listener:       events,
		Tracer:         tracer,
	}
	if opts.loop != nil {
		opts.loop(&cfg)
	}
	loop, err := New(cfg)
	require.NoError(t, err)
	return &harness{ws: ws, planner: p, events: events, loop: loop}
}

func (h *harness) run(t *testing.T, ctx context.Context, budget int) *Result {
	t.Helper()
	task, err := ports.NewTask("analyse the sales data", h.ws.Root(), budget)
	require.NoError(t, err)
	result, err := h.loop.Run(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, result.Status, task.Status)
	assertGapless(t, result.History)
	return result
}

func assertGapless(t *testing.T, history []ports.Step) {
	t.Helper()
	for i, step := range history {
		require.Equal(t, i, step.Index, "history indices must be gapless")
	}
}

func step(tool string, args map[string]any) ports.ProposedStep {
	return ports.ProposedStep{Tool: tool, Arguments: args}
}

func writeArgs(path, content string) map[string]any {
	return map[string]any{"path": path, "content": content}
}

// renderTool turns a markdown file into a fake PDF marked final.
func renderTool() *testutil.Tool {
	spec := ports.ToolSpec{
		Name: "render_pdf",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"input":  {Type: "string"},
				"output": {Type: "string"},
			},
			Required: []string{"input", "output"},
		},
		Output: ports.OutputContract{Kind: ports.OutputFile, DefaultRetention: ports.RetentionFinal},
	}
	return testutil.NewTool(spec, func(ctx context.Context, args map[string]any) (ports.ToolOutput, error) {
		ws, _ := workspace.FromContext(ctx)
		in, err := ws.Resolve(args["input"].(string))
		if err != nil {
			return ports.ToolOutput{}, err
		}
		data, err := os.ReadFile(in)
		if err != nil {
			return ports.ToolOutput{}, err
		}
		out, err := ws.Resolve(args["output"].(string))
		if err != nil {
			return ports.ToolOutput{}, err
		}
		if err := os.WriteFile(out, append([]byte("%PDF-1.4\n"), data...), 0o644); err != nil {
			return ports.ToolOutput{}, err
		}
		return ports.ToolOutput{Files: []ports.ProducedFile{{Path: args["output"].(string)}}}, nil
	})
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

func TestRunRejectsStartedTask(t *testing.T) {
	t.Parallel()

	h := newHarness(t, llm.NewScriptedGateway(ports.FinishResponse("done")), options{})
	task, err := ports.NewTask("p", h.ws.Root(), 1)
	require.NoError(t, err)
	task.Status = ports.TaskRunning

	_, err = h.loop.Run(context.Background(), task)
	require.Error(t, err)
	_, err = h.loop.Run(context.Background(), nil)
	require.Error(t, err)
}

func TestUnknownToolFailsAfterPlanRetries(t *testing.T) {
	t.Parallel()

	gateway := llm.NewScriptedGateway(ports.PlanResponse(0.9, step("query_database", map[string]any{"sql": "select 1"}))).RepeatLast()
	h := newHarness(t, gateway, options{}, testutil.TextTool("list_files", "sales.csv"))

	result := h.run(t, context.Background(), 3)
	assert.Equal(t, ports.TaskFailed, result.Status)
	var malformed *agenterrors.MalformedPlanError
	require.ErrorAs(t, result.Err, &malformed)
	assert.Contains(t, malformed.Violations[0], "query_database")
	assert.Empty(t, result.History)
	assert.Equal(t, 0, result.StepsUsed)
	assert.Len(t, gateway.Calls(), 3, "one attempt plus two plan retries")
	assert.Len(t, result.Notes, 2)

	lastState := gateway.Calls()[2]
	assert.Contains(t, lastState.Notes[1], "retry 2 of 2")
	assert.Contains(t, lastState.Notes[1], "unknown tool")
}

func TestReportScenarioKeepsOnlyFinalArtifacts(t *testing.T) {
	t.Parallel()

	gateway := llm.NewScriptedGateway(
		ports.PlanResponse(0.8, step("write_file", writeArgs("report.md", "# Sales\n\nTotal: 42"))),
		ports.PlanResponse(0.8, step("render_pdf", map[string]any{"input": "report.md", "output": "report.pdf"})),
		ports.FinishResponse("report.pdf summarises the sales data"),
	)
	recorder := tracetest.NewSpanRecorder()
	h := newHarness(t, gateway, options{tracer: recorder},
		testutil.WriterTool("write_file", ports.RetentionEphemeral), renderTool())

	result := h.run(t, context.Background(), 10)
	require.Equal(t, ports.TaskSucceeded, result.Status, "%v", result.Err)
	require.NoError(t, result.Err)
	assert.Equal(t, "report.pdf summarises the sales data", result.Summary)
	assert.Equal(t, 2, result.Rounds)
	require.Len(t, result.History, 2)
	for _, s := range result.History {
		assert.Equal(t, ports.StepCompleted, s.Status)
	}

	require.Len(t, result.FinalArtifacts, 1)
	assert.Equal(t, "report.pdf", result.FinalArtifacts[0].Path)
	assert.Equal(t, ports.RetentionFinal, result.FinalArtifacts[0].Retention)
	assert.Equal(t, 1, result.FinalArtifacts[0].StepIndex)
	assert.Equal(t, []string{"report.md"}, result.Cleanup.Removed)

	_, err := os.Stat(filepath.Join(h.ws.Root(), "report.md"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(filepath.Join(h.ws.Root(), "report.pdf"))
	assert.NoError(t, err)

	second := gateway.Calls()[1]
	require.Len(t, second.History, 1)
	assert.Contains(t, second.History[0].Summary, "wrote report.md (ephemeral")
	paths := make([]string, 0, len(second.Workspace))
	for _, entry := range second.Workspace {
		paths = append(paths, entry.Path)
	}
	assert.Contains(t, paths, "report.md")

	types := h.events.types()
	assert.Equal(t, ports.EventTaskStarted, types[0])
	assert.Equal(t, ports.EventTaskFinished, types[len(types)-1])

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	assert.Contains(t, names, observability.SpanTaskRun)
	assert.Contains(t, names, observability.SpanStepExecute)
	assert.Contains(t, names, observability.SpanCleanup)
}

func TestSameRoundWritesLaterOneWins(t *testing.T) {
	t.Parallel()

	gateway := llm.NewScriptedGateway(
		ports.PlanResponse(0.9,
			step("write_file", writeArgs("draft.txt", "first draft")),
			step("write_file", writeArgs("draft.txt", "second draft")),
		),
		ports.FinishResponse("draft.txt written"),
	)
	h := newHarness(t, gateway, options{}, testutil.WriterTool("write_file", ports.RetentionFinal))

	result := h.run(t, context.Background(), 5)
	require.Equal(t, ports.TaskSucceeded, result.Status)

	data, err := os.ReadFile(filepath.Join(h.ws.Root(), "draft.txt"))
	require.NoError(t, err)
	assert.Equal(t, "second draft", string(data))

	require.Len(t, result.History, 2)
	assert.Equal(t, "first draft", result.History[0].Arguments["content"])
	assert.Equal(t, "second draft", result.History[1].Arguments["content"])
	assert.False(t, result.History[0].Result.Artifacts[0].Overwrote)
	write := result.History[1].Result.Artifacts[0]
	assert.True(t, write.Overwrote)
	assert.Equal(t, 0, write.PreviousStep)

	require.Len(t, result.FinalArtifacts, 1)
	assert.Equal(t, 1, result.FinalArtifacts[0].StepIndex)

	finishState := gateway.Calls()[1]
	assert.Contains(t, finishState.History[1].Summary, "overwrote draft.txt")
	require.Len(t, finishState.Notes, 1)
	assert.Contains(t, finishState.Notes[0], "Step 1 (write_file) overwrote draft.txt, which step 0 wrote earlier")
}

func TestTimingOutToolIsRetriedThenFailed(t *testing.T) {
	t.Parallel()

	wait := testutil.BlockingTool("wait_forever")
	list := testutil.TextTool("list_files", "sales.csv")
	gateway := llm.NewScriptedGateway(
		ports.PlanResponse(0.9, step("wait_forever", nil), step("list_files", nil)),
		ports.FinishResponse("gave up on the slow tool"),
	)
	h := newHarness(t, gateway, options{timeout: 20 * time.Millisecond}, wait, list)

	started := time.Now()
	result := h.run(t, context.Background(), 5)
	assert.Less(t, time.Since(started), 5*time.Second)

	assert.Equal(t, ports.TaskSucceeded, result.Status)
	assert.Equal(t, 3, wait.Calls(), "one attempt plus MaxStepRetries retries")
	assert.Equal(t, 0, list.Calls(), "the rest of the round is discarded")
	require.Len(t, result.History, 1)
	failed := result.History[0]
	assert.Equal(t, ports.StepFailed, failed.Status)
	assert.Equal(t, 3, failed.Attempts)
	var execErr *agenterrors.ToolExecutionError
	require.ErrorAs(t, failed.Result.Err, &execErr)
	assert.True(t, execErr.TimedOut)

	finishState := gateway.Calls()[1]
	assert.Contains(t, finishState.History[0].Error, "after 3 attempts")
	assert.Contains(t, finishState.Notes[0], "remaining 1 step(s) of round 1 were not run: list_files")
	assert.Contains(t, h.events.types(), ports.EventStepRetrying)
	assert.Contains(t, h.events.types(), ports.EventStepsDiscarded)
}

func TestBudgetExhaustion(t *testing.T) {
	t.Parallel()

	gateway := llm.NewScriptedGateway(ports.PlanResponse(0.9, step("list_files", nil), step("list_files", nil))).RepeatLast()
	h := newHarness(t, gateway, options{}, testutil.TextTool("list_files", "sales.csv"))

	result := h.run(t, context.Background(), 3)
	assert.Equal(t, ports.TaskExhausted, result.Status)
	var budgetErr *agenterrors.StepBudgetExhaustedError
	require.ErrorAs(t, result.Err, &budgetErr)
	assert.Equal(t, 3, budgetErr.Budget)
	assert.Equal(t, 3, budgetErr.Used)
	assert.Len(t, result.History, 3)
	assert.Equal(t, 2, result.Rounds)
	assert.Contains(t, result.Notes[0], "Dropped 1 proposed step(s)")
}

func TestFailedStepsKeepIndicesGapless(t *testing.T) {
	t.Parallel()

	gateway := llm.NewScriptedGateway(
		ports.PlanResponse(0.9, step("list_files", nil), step("broken", nil), step("list_files", nil), step("list_files", nil)),
		ports.PlanResponse(0.9, step("list_files", nil)),
		ports.FinishResponse("done"),
	)
	h := newHarness(t, gateway, options{loop: func(c *Config) { c.MaxStepRetries = 0 }},
		testutil.TextTool("list_files", "sales.csv"), testutil.FailingTool("broken", errors.New("exit status 1")))

	result := h.run(t, context.Background(), 10)
	require.Equal(t, ports.TaskSucceeded, result.Status)
	require.Len(t, result.History, 3)
	assert.Equal(t, ports.StepFailed, result.History[1].Status)
	assert.Equal(t, 1, result.History[1].Attempts)
	assert.Equal(t, 2, result.History[2].Round)
	assert.Equal(t, 3, result.StepsUsed)
}

func TestNonRetryableStepFailsImmediately(t *testing.T) {
	t.Parallel()

	escape := testutil.NewTool(ports.ToolSpec{Name: "escape", Output: ports.OutputContract{Kind: ports.OutputFile}}, func(context.Context, map[string]any) (ports.ToolOutput, error) {
		return ports.ToolOutput{Files: []ports.ProducedFile{{Path: "../../etc/passwd"}}}, nil
	})
	gateway := llm.NewScriptedGateway(ports.PlanResponse(1, step("escape", nil)), ports.FinishResponse("done"))
	h := newHarness(t, gateway, options{}, escape)

	result := h.run(t, context.Background(), 3)
	require.Len(t, result.History, 1)
	assert.Equal(t, 1, escape.Calls())
	var outside *agenterrors.PathOutsideWorkspaceError
	require.ErrorAs(t, result.History[0].Result.Err, &outside)
}

func TestGatewayErrorFailsTask(t *testing.T) {
	t.Parallel()

	gateway := llm.GatewayFunc(func(context.Context, ports.ConversationState, []ports.ToolSpec) (ports.ModelResponse, error) {
		return ports.ModelResponse{}, agenterrors.NewPermanentError(errors.New("401 unauthorized"), "")
	})
	h := newHarness(t, gateway, options{})

	result := h.run(t, context.Background(), 3)
	assert.Equal(t, ports.TaskFailed, result.Status)
	assert.True(t, agenterrors.IsPermanent(result.Err))
	assert.Empty(t, result.History)
}

func TestPlanRetriesResetAfterValidPlan(t *testing.T) {
	t.Parallel()

	gateway := llm.NewScriptedGateway(
		llm.ParseResponse("sure, here is my plan"),
		ports.PlanResponse(1, step("list_files", nil)),
		llm.ParseResponse(`{"action":"plan","steps":[]}`),
		ports.FinishResponse("done"),
	)
	h := newHarness(t, gateway, options{loop: func(c *Config) { c.MaxPlanRetries = 1 }}, testutil.TextTool("list_files", "x"))

	result := h.run(t, context.Background(), 5)
	assert.Equal(t, ports.TaskSucceeded, result.Status, "%v", result.Err)
	assert.Len(t, result.Notes, 2)
}

func TestCancellationStopsBetweenSteps(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	list := testutil.TextTool("list_files", "x")
	gateway := llm.NewScriptedGateway(ports.PlanResponse(1, step("list_files", nil), step("list_files", nil), step("list_files", nil)))
	h := newHarness(t, gateway, options{}, list)
	h.events.hook = func(event ports.AgentEvent) {
		if event.Type == ports.EventStepFinished {
			cancel()
		}
	}

	result := h.run(t, ctx, 10)
	assert.Equal(t, ports.TaskFailed, result.Status)
	assert.ErrorIs(t, result.Err, agenterrors.ErrCancelled)
	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.Len(t, result.History, 1)
	assert.Equal(t, 1, list.Calls())
}

func TestCancellationBeforeStart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gateway := llm.NewScriptedGateway(ports.FinishResponse("done"))
	h := newHarness(t, gateway, options{})
	result := h.run(t, ctx, 3)
	assert.ErrorIs(t, result.Err, agenterrors.ErrCancelled)
	assert.Empty(t, gateway.Calls())
}

func TestGranularityAdaptsToFailures(t *testing.T) {
	t.Parallel()

	lists := func(n int) ports.ModelResponse {
		steps := make([]ports.ProposedStep, n)
		for i := range steps {
			steps[i] = step("list_files", nil)
		}
		return ports.PlanResponse(0.9, steps...)
	}
	gateway := llm.NewScriptedGateway(
		ports.PlanResponse(0.9, step("broken", nil)),
		lists(4),
		lists(4),
		ports.FinishResponse("done"),
	)
	h := newHarness(t, gateway, options{loop: func(c *Config) {
		c.MaxStepRetries = 0
		c.Granularity = Granularity{Initial: 4, Max: 4, SuccessStreak: 1}
	}}, testutil.TextTool("list_files", "x"), testutil.FailingTool("broken", errors.New("boom")))

	result := h.run(t, context.Background(), 20)
	require.Equal(t, ports.TaskSucceeded, result.Status)

	calls := gateway.Calls()
	assert.Contains(t, calls[0].Notes, "Propose at most 4 step(s) this round.")
	assert.Contains(t, calls[1].Notes, "Propose at most 2 step(s) this round.")
	assert.Contains(t, calls[2].Notes, "Propose at most 3 step(s) this round.")
	assert.Equal(t, 4, h.planner.MaxStepsPerRound())
	assert.Len(t, result.History, 1+2+3)
}

func TestGranularityPolicy(t *testing.T) {
	t.Parallel()

	p := granularityPolicy{config: Granularity{Initial: 4, Max: 6, SuccessStreak: 2}.withDefaults()}
	assert.Equal(t, 2, p.next(4, true))
	assert.Equal(t, 1, p.next(2, true))
	assert.Equal(t, 1, p.next(1, true), "never below the minimum")
	assert.Equal(t, 1, p.next(1, false))
	assert.Equal(t, 2, p.next(1, false))
	for i := 0; i < 20; i++ {
		p.next(6, false)
	}
	assert.Equal(t, 6, p.next(6, false), "never above the maximum")

	off := granularityPolicy{config: Granularity{}.withDefaults()}
	assert.Equal(t, 0, off.next(0, true))
}

func TestHistoryRejectsOutOfOrderSteps(t *testing.T) {
	t.Parallel()

	var h History
	require.NoError(t, h.Append(&ports.Step{Index: 0, Status: ports.StepCompleted}))
	err := h.Append(&ports.Step{Index: 2})
	require.Error(t, err)
	assert.Equal(t, "step index 2 out of sequence, expected 1", err.Error())

	status, ok := h.StepStatus(0)
	assert.True(t, ok)
	assert.Equal(t, ports.StepCompleted, status)
	_, ok = h.StepStatus(1)
	assert.False(t, ok)
	assert.Equal(t, 1, h.Count(ports.StepCompleted))
}

func TestHistoryEntrySummaries(t *testing.T) {
	t.Parallel()

	long := fmt.Sprintf("%0500d", 7)
	entry := historyEntry(ports.Step{
		Index:    3,
		Tool:     "run_python",
		Status:   ports.StepFailed,
		Attempts: 2,
		Result:   &ports.StepResult{Text: long, Err: errors.New("exit status 1")},
	}, 50)
	assert.Len(t, []rune(entry.Summary), 50)
	assert.Equal(t, "exit status 1 (after 2 attempts)", entry.Error)

	pending := historyEntry(ports.Step{Index: 0, Tool: "list_files"}, 50)
	assert.Empty(t, pending.Summary)
}
