package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
	agenterrors "github.com/vsingh18567/illuminate/internal/errors"
	"github.com/vsingh18567/illuminate/internal/tokenutil"
)

const systemPrompt = `You are illuminate, an autonomous data-analysis agent working inside a directory of input files.
Each turn you either propose the next steps or declare the task finished.
Reply with exactly one JSON object and nothing else, in one of these forms:
{"action":"plan","confidence":0.8,"steps":[{"tool":"<tool name>","arguments":{}}]}
{"action":"finish","summary":"<what was produced and where>"}

Rules:
- Use only the tools listed below, with arguments that match their schemas.
- Steps run in order. Later steps may read files written by earlier steps.
- confidence is between 0 and 1. Propose several steps only when you are confident.
- Files you write are scratch unless the tool marks them final. Scratch files are deleted when you finish.
- When a step fails, read its error in the history and plan around it.
- Finish only when the deliverables requested by the task exist.`

const maxWorkspaceEntries = 200

// RenderOptions bounds the size of a rendered conversation.
type RenderOptions struct {
	MaxContextTokens int
	CountTokens      tokenutil.Counter
}

// SystemPrompt returns the instructions plus the capability list.
func SystemPrompt(tools []ports.ToolSpec) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nTools:\n")
	for _, tool := range tools {
		params, err := json.Marshal(tool.Parameters)
		if err != nil {
			params = []byte("{}")
		}
		fmt.Fprintf(&b, "- %s (output: %s): %s\n  parameters: %s\n", tool.Name, tool.Output.Kind, tool.Description, params)
	}
	return b.String()
}

// RenderConversation renders state as the user turn. When the result exceeds
// MaxContextTokens the oldest history entries are folded into a marker line.
func RenderConversation(state ports.ConversationState, opts RenderOptions) string {
	rendered := renderConversation(state, 0)
	if opts.MaxContextTokens <= 0 {
		return rendered
	}
	count := opts.CountTokens
	if count == nil {
		count = tokenutil.CountTokens
	}
	for omitted := 1; omitted <= len(state.History) && count(rendered) > opts.MaxContextTokens; omitted++ {
		rendered = renderConversation(state, omitted)
	}
	return rendered
}

func renderConversation(state ports.ConversationState, omitHistory int) string {
	var b strings.Builder
	b.WriteString("## Task\n")
	b.WriteString(strings.TrimSpace(state.Prompt))
	b.WriteString("\n\n## Workspace\n")
	if len(state.Workspace) == 0 {
		b.WriteString("(empty)\n")
	}
	for i, entry := range state.Workspace {
		if i == maxWorkspaceEntries {
			fmt.Fprintf(&b, "(%d more files not shown)\n", len(state.Workspace)-maxWorkspaceEntries)
			break
		}
		fmt.Fprintf(&b, "- %s (%d bytes)", entry.Path, entry.Size)
		if entry.Tracked {
			fmt.Fprintf(&b, " [%s]", entry.Retention)
		}
		b.WriteByte('\n')
	}

	b.WriteString("\n## History\n")
	if len(state.History) == 0 {
		b.WriteString("(no steps yet)\n")
	}
	if omitHistory > 0 {
		fmt.Fprintf(&b, "(%d earlier steps omitted)\n", omitHistory)
	}
	for _, entry := range state.History[min(omitHistory, len(state.History)):] {
		fmt.Fprintf(&b, "[%d] %s %s -> %s", entry.Index, entry.Tool, agenterrors.FormatArguments(entry.Arguments), entry.Status)
		if entry.Summary != "" {
			fmt.Fprintf(&b, "\n    %s", strings.ReplaceAll(entry.Summary, "\n", "\n    "))
		}
		if entry.Error != "" {
			fmt.Fprintf(&b, "\n    error: %s", entry.Error)
		}
		b.WriteByte('\n')
	}

	if len(state.Notes) > 0 {
		b.WriteString("\n## Notes\n")
		for _, note := range state.Notes {
			fmt.Fprintf(&b, "- %s\n", note)
		}
	}
	return b.String()
}
