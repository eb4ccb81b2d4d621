package output

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
)

const (
	verboseOutputLines = 6
	argValueLimit      = 40
)

var toolDisplayNames = map[string]string{
	"add_notebook_cells":        "notebook.add",
	"create_notebook":           "notebook.create",
	"delete_file":               "file.delete",
	"execute_notebook":          "notebook.run",
	"file_info":                 "file.info",
	"list_files":                "file.list",
	"pip_install":               "python.pip",
	"read_file":                 "file.read",
	"read_notebook":             "notebook.read",
	"remove_last_notebook_cell": "notebook.pop",
	"render_pdf":                "pdf.render",
	"run_python":                "python.run",
	"write_file":                "file.write",
}

func displayToolName(toolName string) string {
	normalized := strings.ToLower(strings.TrimSpace(toolName))
	if normalized == "" {
		return toolName
	}
	if display, ok := toolDisplayNames[normalized]; ok {
		return display
	}
	return toolName
}

func truncateInlinePreview(preview string, limit int) string {
	if limit <= 0 {
		return preview
	}

	if utf8.RuneCountInString(preview) <= limit {
		return preview
	}

	runes := []rune(preview)
	if limit == 1 {
		return string(runes[0])
	}

	return string(runes[:limit-1]) + "…"
}

// formatArgsInline renders arguments as sorted key=value pairs. Long string
// values are cut so content payloads do not flood the line.
func formatArgsInline(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for key := range args {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		var value string
		switch v := args[key].(type) {
		case string:
			value = firstLine(v)
			if value != v || utf8.RuneCountInString(value) > argValueLimit {
				value = truncateInlinePreview(value, argValueLimit)
				if !strings.HasSuffix(value, "…") {
					value += "…"
				}
			}
		default:
			value = fmt.Sprint(v)
		}
		parts = append(parts, key+"="+value)
	}
	return strings.Join(parts, ", ")
}

func summarizeResult(result ports.StepResult) string {
	var parts []string
	if n := len(result.Artifacts); n > 0 {
		paths := make([]string, 0, n)
		for _, write := range result.Artifacts {
			paths = append(paths, write.Artifact.Path)
		}
		parts = append(parts, fmt.Sprintf("%d %s: %s", n, pluralize("file", n), strings.Join(paths, ", ")))
	}
	if lines := countLines(strings.TrimRight(result.Text, "\n")); lines > 0 {
		parts = append(parts, fmt.Sprintf("%d %s", lines, pluralize("line", lines)))
	}
	return strings.Join(parts, ", ")
}

func formatDurationShort(duration time.Duration) string {
	if duration <= 0 {
		return ""
	}
	if duration < time.Second {
		return fmt.Sprintf("%dms", duration.Milliseconds())
	}
	if duration < time.Minute {
		seconds := duration.Seconds()
		if seconds < 10 {
			return fmt.Sprintf("%.2fs", seconds)
		}
		if seconds < 100 {
			return fmt.Sprintf("%.1fs", seconds)
		}
		return fmt.Sprintf("%.0fs", seconds)
	}
	if duration < time.Hour {
		minutes := int(duration.Minutes())
		seconds := int(duration.Seconds()) % 60
		return fmt.Sprintf("%dm%02ds", minutes, seconds)
	}
	hours := int(duration.Hours())
	minutes := int(duration.Minutes()) % 60
	return fmt.Sprintf("%dh%02dm", hours, minutes)
}

func firstLine(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return strings.TrimSpace(text[:idx])
	}
	return text
}

func headLines(text string, n int) []string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > n {
		rest := len(lines) - n
		lines = append(lines[:n:n], fmt.Sprintf("… %d more %s", rest, pluralize("line", rest)))
	}
	return lines
}

func prefixLines(text, prefix string) string {
	lines := strings.SplitAfter(text, "\n")
	var b strings.Builder
	for _, line := range lines {
		if line == "" {
			continue
		}
		b.WriteString(prefix)
		b.WriteString(line)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func countLines(content string) int {
	if content == "" {
		return 0
	}
	return strings.Count(content, "\n") + 1
}

func pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return word + "s"
}
