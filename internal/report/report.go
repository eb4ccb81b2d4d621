// Package report turns a finished task into a markdown summary for the
// terminal and a run record persisted next to the transcripts.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vsingh18567/illuminate/internal/agent/orchestrator"
	"github.com/vsingh18567/illuminate/internal/agent/ports"
	agenterrors "github.com/vsingh18567/illuminate/internal/errors"
	"github.com/vsingh18567/illuminate/internal/tokenutil"
)

// Options controls how much of each step is shown.
type Options struct {
	// OutputLimit caps the step output shown per step. Zero shows it in full.
	OutputLimit int
	// Verbose includes step output. Errors are always included.
	Verbose bool
}

// Markdown renders res as a markdown document.
func Markdown(task *ports.Task, res orchestrator.Result, opts Options) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Task %s\n\n", statusLabel(res.Status))
	if task != nil {
		fmt.Fprintf(&b, "**Directory:** `%s`  \n", task.WorkDir)
	}
	fmt.Fprintf(&b, "**Steps:** %d", res.StepsUsed)
	if task != nil {
		fmt.Fprintf(&b, " of %d", task.StepBudget)
	}
	fmt.Fprintf(&b, " in %d round(s)  \n**Duration:** %s\n\n", res.Rounds, res.Duration.Round(time.Millisecond))

	if summary := strings.TrimSpace(res.Summary); summary != "" {
		b.WriteString("## Summary\n\n")
		b.WriteString(summary)
		b.WriteString("\n\n")
	}
	if res.Err != nil {
		b.WriteString("## Error\n\n")
		fmt.Fprintf(&b, "```\n%s\n```\n\n", res.Err)
	}

	if len(res.History) > 0 {
		b.WriteString("## Steps\n\n")
		for _, step := range res.History {
			writeStep(&b, step, opts)
		}
	}

	b.WriteString("## Deliverables\n\n")
	if len(res.FinalArtifacts) == 0 {
		b.WriteString("_No final artifacts._\n")
	} else {
		for _, a := range res.FinalArtifacts {
			fmt.Fprintf(&b, "- `%s` (%s, step %d)\n", a.Path, formatSize(a.Size), a.StepIndex)
		}
	}

	if len(res.Cleanup.Removed) > 0 || res.CleanupErr != nil {
		b.WriteString("\n## Cleanup\n\n")
		if len(res.Cleanup.Removed) > 0 {
			removed := append([]string(nil), res.Cleanup.Removed...)
			sort.Strings(removed)
			fmt.Fprintf(&b, "Removed %d intermediate file(s): %s\n", len(removed), joinCode(removed))
		}
		if res.CleanupErr != nil {
			fmt.Fprintf(&b, "\nCleanup error: %v\n", res.CleanupErr)
		}
	}
	return b.String()
}

func writeStep(b *strings.Builder, step ports.Step, opts Options) {
	marker := "✓"
	if step.Status != ports.StepCompleted {
		marker = "✗"
	}
	fmt.Fprintf(b, "%d. %s `%s` %s", step.Index, marker, step.Tool, agenterrors.FormatArguments(step.Arguments))
	if step.Attempts > 1 {
		fmt.Fprintf(b, " (%d attempts)", step.Attempts)
	}
	b.WriteString("\n")

	if step.Result == nil {
		return
	}
	for _, write := range step.Result.Artifacts {
		line := fmt.Sprintf("wrote `%s`", write.Artifact.Path)
		if write.Overwrote {
			line = fmt.Sprintf("overwrote `%s` from step %d", write.Artifact.Path, write.PreviousStep)
		}
		if write.Artifact.Retention == ports.RetentionFinal {
			line += " (final)"
		}
		fmt.Fprintf(b, "   - %s\n", line)
	}
	if step.Result.Err != nil {
		fmt.Fprintf(b, "   - error: %s\n", oneLine(step.Result.Err.Error()))
	}
	if opts.Verbose {
		if text := strings.TrimSpace(step.Result.Text); text != "" {
			fmt.Fprintf(b, "\n   ```\n%s\n   ```\n", indent(tokenutil.TruncateRunes(text, opts.OutputLimit), "   "))
		}
	}
}

func statusLabel(status ports.TaskStatus) string {
	switch status {
	case ports.TaskSucceeded:
		return "succeeded"
	case ports.TaskExhausted:
		return "stopped: step budget exhausted"
	case ports.TaskFailed:
		return "failed"
	default:
		return string(status)
	}
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func joinCode(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = "`" + item + "`"
	}
	return strings.Join(quoted, ", ")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
