// Package output renders task progress and reports for the terminal.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
	"github.com/vsingh18567/illuminate/internal/config"
)

// MarkdownRenderer turns markdown into terminal text.
type MarkdownRenderer interface {
	Render(string) (string, error)
}

// CLIRenderer prints loop events as progress lines and renders the final
// report. It implements ports.EventListener and is safe for concurrent use by
// several tasks.
type CLIRenderer struct {
	// verbose shows full tool arguments and the first lines of each step's
	// output. Compact mode truncates argument previews.
	verbose     bool
	showTaskIDs bool

	mu         sync.Mutex
	out        io.Writer
	mdRenderer MarkdownRenderer
	styles     styles
}

type styles struct {
	header  lipgloss.Style
	dot     lipgloss.Style
	tool    lipgloss.Style
	ok      lipgloss.Style
	failed  lipgloss.Style
	warn    lipgloss.Style
	muted   lipgloss.Style
	taskTag lipgloss.Style
}

const nonVerbosePreviewLimit = 80

// NewCLIRenderer writes to out. Markdown is styled only when out is a terminal.
func NewCLIRenderer(out io.Writer, verbose bool) *CLIRenderer {
	var md MarkdownRenderer
	if isTerminal(out) {
		md = buildDefaultMarkdownRenderer()
	}
	return NewCLIRendererWithMarkdown(out, verbose, md)
}

// NewCLIRendererWithMarkdown allows tests to supply a lightweight markdown renderer.
func NewCLIRendererWithMarkdown(out io.Writer, verbose bool, md MarkdownRenderer) *CLIRenderer {
	if out == nil {
		out = io.Discard
	}
	return &CLIRenderer{
		verbose:    verbose,
		out:        out,
		mdRenderer: md,
		styles:     newStyles(lipgloss.NewRenderer(out)),
	}
}

// ShowTaskIDs prefixes every progress line with a short task id. Used when
// several tasks share one terminal.
func (r *CLIRenderer) ShowTaskIDs(show bool) {
	r.mu.Lock()
	r.showTaskIDs = show
	r.mu.Unlock()
}

func newStyles(lr *lipgloss.Renderer) styles {
	return styles{
		header:  lr.NewStyle().Bold(true).Foreground(lipgloss.Color("#B678E0")),
		dot:     lr.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff00")),
		tool:    lr.NewStyle().Bold(true),
		ok:      lr.NewStyle().Foreground(lipgloss.Color("10")),
		failed:  lr.NewStyle().Foreground(lipgloss.Color("9")),
		warn:    lr.NewStyle().Foreground(lipgloss.Color("11")),
		muted:   lr.NewStyle().Foreground(lipgloss.Color("#808080")),
		taskTag: lr.NewStyle().Foreground(lipgloss.Color("#909090")),
	}
}

func buildDefaultMarkdownRenderer() MarkdownRenderer {
	options := []glamour.TermRendererOption{
		glamour.WithWordWrap(100),
		glamour.WithPreservedNewLines(),
	}

	if value, ok := config.DefaultEnvLookup("GLAMOUR_STYLE"); ok && value != "" {
		options = append(options, glamour.WithEnvironmentConfig())
	} else {
		options = append(options, glamour.WithAutoStyle())
	}

	mdRenderer, err := glamour.NewTermRenderer(options...)
	if err != nil {
		return nil
	}
	return mdRenderer
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// OnEvent prints one progress line per event.
func (r *CLIRenderer) OnEvent(event ports.AgentEvent) {
	line := r.RenderEvent(event)
	if line == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.showTaskIDs && event.TaskID != "" {
		line = prefixLines(line, r.styles.taskTag.Render("["+shortID(event.TaskID)+"]")+" ")
	}
	fmt.Fprint(r.out, line)
}

// RenderEvent formats event without writing it.
func (r *CLIRenderer) RenderEvent(event ports.AgentEvent) string {
	s := r.styles
	switch event.Type {
	case ports.EventTaskStarted:
		prompt := firstLine(event.Message)
		if !r.verbose {
			prompt = truncateInlinePreview(prompt, nonVerbosePreviewLimit)
		}
		return fmt.Sprintf("%s %s\n", s.header.Render("illuminate"), prompt)

	case ports.EventPlanProposed:
		return s.muted.Render(fmt.Sprintf("round %d: %s", event.Round, event.Message)) + "\n"

	case ports.EventPlanRejected:
		return s.warn.Render("⚠ plan rejected: "+firstLine(event.Message)) + "\n"

	case ports.EventStepStarted:
		if event.Step == nil {
			return ""
		}
		return r.renderStepStart(event.Step)

	case ports.EventStepRetrying:
		if event.Step == nil {
			return ""
		}
		msg := fmt.Sprintf("  ↻ %s %s", displayToolName(event.Step.Tool), event.Message)
		if event.Err != nil {
			msg += ": " + firstLine(event.Err.Error())
		}
		return s.warn.Render(msg) + "\n"

	case ports.EventStepFinished:
		if event.Step == nil {
			return ""
		}
		return r.renderStepFinished(event.Step, event.Err)

	case ports.EventStepsDiscarded:
		return s.muted.Render("  ⤫ "+event.Message) + "\n"

	case ports.EventTaskFinished:
		return r.renderTaskFinished(event.Status, event.Err)
	}
	return ""
}

func (r *CLIRenderer) renderStepStart(step *ports.Step) string {
	s := r.styles
	name := s.tool.Render(displayToolName(step.Tool))
	preview := formatArgsInline(step.Arguments)
	if preview == "" {
		return fmt.Sprintf("%s %s\n", s.dot.Render("●"), name)
	}
	if !r.verbose {
		preview = truncateInlinePreview(preview, nonVerbosePreviewLimit)
	}
	return fmt.Sprintf("%s %s(%s)\n", s.dot.Render("●"), name, preview)
}

func (r *CLIRenderer) renderStepFinished(step *ports.Step, err error) string {
	s := r.styles
	name := displayToolName(step.Tool)
	var duration string
	var result *ports.StepResult
	if step.Result != nil {
		result = step.Result
		if d := formatDurationShort(result.Duration); d != "" {
			duration = " (" + d + ")"
		}
	}

	if err != nil {
		return "  " + s.failed.Render(fmt.Sprintf("✗ %s failed: %s", name, firstLine(err.Error()))) + duration + "\n"
	}

	var b strings.Builder
	b.WriteString("  ")
	b.WriteString(s.ok.Render("✓ " + name))
	if result != nil {
		if summary := summarizeResult(*result); summary != "" {
			b.WriteString(s.muted.Render(" · " + summary))
		}
	}
	b.WriteString(duration)
	b.WriteString("\n")

	if r.verbose && result != nil && strings.TrimSpace(result.Text) != "" {
		for _, line := range headLines(result.Text, verboseOutputLines) {
			b.WriteString(s.muted.Render("    " + line))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (r *CLIRenderer) renderTaskFinished(status ports.TaskStatus, err error) string {
	s := r.styles
	switch status {
	case ports.TaskSucceeded:
		return s.ok.Render("✓ task succeeded") + "\n"
	case ports.TaskExhausted:
		return s.warn.Render("■ task stopped: step budget exhausted") + "\n"
	default:
		msg := "✗ task failed"
		if err != nil {
			msg += ": " + firstLine(err.Error())
		}
		return s.failed.Render(msg) + "\n"
	}
}

// RenderMarkdown styles a markdown document, or returns it unchanged when no
// markdown renderer is configured.
func (r *CLIRenderer) RenderMarkdown(content string) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}

	if r.mdRenderer == nil {
		return strings.TrimRight(content, "\n") + "\n"
	}

	rendered, err := r.mdRenderer.Render(content)
	if err != nil {
		return content
	}

	return strings.TrimRight(rendered, "\n") + "\n"
}

// PrintMarkdown writes a rendered markdown document.
func (r *CLIRenderer) PrintMarkdown(content string) {
	rendered := r.RenderMarkdown(content)
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprint(r.out, rendered)
}
