package report

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsingh18567/illuminate/internal/agent/orchestrator"
	"github.com/vsingh18567/illuminate/internal/agent/ports"
	agenterrors "github.com/vsingh18567/illuminate/internal/errors"
)

func sampleRun() (*ports.Task, orchestrator.Result) {
	task := &ports.Task{
		ID:         "task-1",
		Prompt:     "Summarize sales.csv into a PDF",
		WorkDir:    "/data/q1",
		StepBudget: 10,
		Status:     ports.TaskSucceeded,
		CreatedAt:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	res := orchestrator.Result{
		TaskID:  "task-1",
		Status:  ports.TaskSucceeded,
		Summary: "Revenue grew 12% in the west region.",
		History: []ports.Step{
			{
				Index: 0, Round: 1, Tool: "write_file", Status: ports.StepCompleted, Attempts: 1,
				Arguments: map[string]any{"path": "report.md"},
				Result: &ports.StepResult{
					Text:      "wrote 40 bytes to report.md",
					Duration:  12 * time.Millisecond,
					Artifacts: []ports.ArtifactWrite{{Artifact: ports.Artifact{Path: "report.md", Retention: ports.RetentionEphemeral}}},
				},
			},
			{
				Index: 1, Round: 1, Tool: "render_pdf", Status: ports.StepFailed, Attempts: 3,
				Arguments: map[string]any{"input": "report.md", "output": "report.pdf"},
				Result: &ports.StepResult{
					Err: &agenterrors.ToolExecutionError{Tool: "render_pdf", Cause: errors.New("wkhtmltopdf exited with code 1:\nbad page"), TimedOut: false, Attempt: 3},
				},
			},
			{
				Index: 2, Round: 2, Tool: "render_pdf", Status: ports.StepCompleted, Attempts: 1,
				Arguments: map[string]any{"input": "report.md", "output": "report.pdf"},
				Result: &ports.StepResult{
					Artifacts: []ports.ArtifactWrite{{Artifact: ports.Artifact{Path: "report.pdf", Retention: ports.RetentionFinal, StepIndex: 2, Size: 2048}}},
				},
			},
		},
		FinalArtifacts: []ports.Artifact{{Path: "report.pdf", Retention: ports.RetentionFinal, StepIndex: 2, Size: 2048}},
		Cleanup:        ports.CleanupReport{Removed: []string{"report.md"}},
		Rounds:         2,
		StepsUsed:      3,
		Duration:       1500 * time.Millisecond,
	}
	return task, res
}

func TestMarkdownIncludesHistoryAndDeliverables(t *testing.T) {
	task, res := sampleRun()
	md := Markdown(task, res, Options{})

	assert.True(t, strings.HasPrefix(md, "# Task succeeded\n"))
	assert.Contains(t, md, "**Steps:** 3 of 10 in 2 round(s)")
	assert.Contains(t, md, "Revenue grew 12%")
	assert.Contains(t, md, "0. ✓ `write_file` {path=report.md}")
	assert.Contains(t, md, "1. ✗ `render_pdf` {input=report.md, output=report.pdf} (3 attempts)")
	assert.Contains(t, md, "error: tool render_pdf failed (args {}): wkhtmltopdf exited with code 1: bad page")
	assert.Contains(t, md, "wrote `report.pdf` (final)")
	assert.Contains(t, md, "- `report.pdf` (2.0 KiB, step 2)")
	assert.Contains(t, md, "Removed 1 intermediate file(s): `report.md`")
	assert.NotContains(t, md, "wrote 40 bytes", "step output only shows when verbose")

	verbose := Markdown(task, res, Options{Verbose: true})
	assert.Contains(t, verbose, "wrote 40 bytes to report.md")
}

func TestMarkdownForFailedTask(t *testing.T) {
	res := orchestrator.Result{Status: ports.TaskFailed, Err: errors.New("plan rejected 3 times")}
	md := Markdown(nil, res, Options{})
	assert.Contains(t, md, "# Task failed")
	assert.Contains(t, md, "## Error\n\n```\nplan rejected 3 times\n```")
	assert.Contains(t, md, "_No final artifacts._")
	assert.NotContains(t, md, "## Steps")

	exhausted := Markdown(nil, orchestrator.Result{Status: ports.TaskExhausted}, Options{})
	assert.Contains(t, exhausted, "step budget exhausted")
}

func TestRunRecordRoundTrip(t *testing.T) {
	task, res := sampleRun()
	rec := NewRunRecord(task, res)
	assert.Equal(t, "1.5s", rec.Duration)
	require.Len(t, rec.Steps, 3)
	assert.Equal(t, []string{"report.md"}, rec.Steps[0].Files)
	assert.Contains(t, rec.Steps[1].Error, "bad page")

	root := t.TempDir()
	path, err := WriteRunRecord(root, rec)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "illuminate_logs", "run.yaml"), path)

	loaded, err := ReadRunRecord(path)
	require.NoError(t, err)
	assert.Equal(t, "task-1", loaded.TaskID)
	assert.Equal(t, ports.TaskSucceeded, loaded.Status)
	assert.Equal(t, task.CreatedAt, loaded.StartedAt.UTC())
	assert.Equal(t, "report.pdf", loaded.Final[0].Path)
	assert.Equal(t, ports.RetentionFinal, loaded.Final[0].Retention)
	assert.Equal(t, "render_pdf", loaded.Steps[2].Tool)
	assert.Equal(t, "report.md", loaded.Steps[2].Arguments["input"])
	assert.Equal(t, []string{"report.md"}, loaded.Removed)
}
