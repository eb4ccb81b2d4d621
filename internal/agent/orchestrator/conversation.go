package orchestrator

import (
	"fmt"
	"strings"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
	"github.com/vsingh18567/illuminate/internal/tokenutil"
)

// DefaultSummaryLimit is the number of runes of tool output kept per history entry.
const DefaultSummaryLimit = 400

// historyEntry summarizes step for the model.
func historyEntry(step ports.Step, summaryLimit int) ports.HistoryEntry {
	entry := ports.HistoryEntry{
		Index:     step.Index,
		Round:     step.Round,
		Tool:      step.Tool,
		Arguments: step.Arguments,
		Status:    step.Status,
	}
	if step.Result == nil {
		return entry
	}

	var parts []string
	if text := strings.TrimSpace(step.Result.Text); text != "" {
		parts = append(parts, tokenutil.TruncateRunes(text, summaryLimit))
	}
	for _, write := range step.Result.Artifacts {
		parts = append(parts, describeWrite(write))
	}
	entry.Summary = strings.Join(parts, "\n")

	if step.Result.Err != nil {
		entry.Error = tokenutil.TruncateRunes(step.Result.Err.Error(), summaryLimit)
		if step.Attempts > 1 {
			entry.Error = fmt.Sprintf("%s (after %d attempts)", entry.Error, step.Attempts)
		}
	}
	return entry
}

func describeWrite(write ports.ArtifactWrite) string {
	a := write.Artifact
	switch {
	case write.Overwrote:
		line := fmt.Sprintf("overwrote %s (%s, %d bytes), previously written by step %d", a.Path, a.Retention, a.Size, write.PreviousStep)
		if write.DiffSummary != "" {
			line += ": " + write.DiffSummary
		}
		return line
	case write.Undeclared:
		return fmt.Sprintf("created %s without reporting it (%s, %d bytes)", a.Path, a.Retention, a.Size)
	default:
		return fmt.Sprintf("wrote %s (%s, %d bytes)", a.Path, a.Retention, a.Size)
	}
}

// overwriteNote explains a same-path write so the next round can plan around it.
func overwriteNote(step ports.Step, write ports.ArtifactWrite) string {
	return fmt.Sprintf("Step %d (%s) overwrote %s, which step %d wrote earlier; the later write is the current content.",
		step.Index, step.Tool, write.Artifact.Path, write.PreviousStep)
}

func rejectedPlanNote(err error, retry, maxRetries int) string {
	return fmt.Sprintf("Your previous reply was rejected (retry %d of %d): %v. Reply with a single valid JSON object using only the listed tools and their parameter schemas.",
		retry, maxRetries, err)
}

func discardedNote(failed ports.Step, discarded []ports.Step) string {
	tools := make([]string, 0, len(discarded))
	for _, step := range discarded {
		tools = append(tools, step.Tool)
	}
	return fmt.Sprintf("Step %d (%s) failed, so the remaining %d step(s) of round %d were not run: %s.",
		failed.Index, failed.Tool, len(discarded), failed.Round, strings.Join(tools, ", "))
}
