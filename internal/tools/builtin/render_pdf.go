package builtin

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
)

const reportStyle = `body { font-family: "Helvetica Neue", Arial, sans-serif; margin: 2em; line-height: 1.5; }
table { border-collapse: collapse; margin: 1em 0; }
th, td { border: 1px solid #ccc; padding: 4px 8px; }
img { max-width: 100%; }
pre, code { background: #f5f5f5; }`

type renderPDF struct {
	binary string
}

func (t *renderPDF) Spec() ports.ToolSpec {
	return fileSpec("render_pdf",
		"Render a Markdown (.md) or HTML (.html) file from the workspace into a PDF report. Images are resolved relative to the input file. The PDF is kept as a deliverable.",
		ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"input":  {Type: "string", Description: "Markdown or HTML source, relative to the workspace root"},
				"output": {Type: "string", Description: "PDF file to create, relative to the workspace root"},
			},
			Required: []string{"input", "output"},
		},
		ports.RetentionFinal)
}

func (t *renderPDF) Invoke(ctx context.Context, args map[string]any) (ports.ToolOutput, error) {
	ws, inAbs, inRel, err := workspacePath(ctx, args, "input")
	if err != nil {
		return ports.ToolOutput{}, err
	}
	_, outAbs, outRel, err := workspacePath(ctx, args, "output")
	if err != nil {
		return ports.ToolOutput{}, err
	}
	if !strings.EqualFold(filepath.Ext(outRel), ".pdf") {
		return ports.ToolOutput{}, fmt.Errorf("output %s must have a .pdf extension", outRel)
	}

	source, err := os.ReadFile(inAbs)
	if err != nil {
		return ports.ToolOutput{}, fmt.Errorf("read %s: %w", inRel, err)
	}

	var page []byte
	switch strings.ToLower(filepath.Ext(inRel)) {
	case ".md", ".markdown":
		page, err = markdownToHTML(source, titleFromPath(inRel))
	case ".html", ".htm":
		page = source
	default:
		return ports.ToolOutput{}, fmt.Errorf("unsupported input %s: expected .md or .html", inRel)
	}
	if err != nil {
		return ports.ToolOutput{}, err
	}
	title, err := checkHTML(page)
	if err != nil {
		return ports.ToolOutput{}, fmt.Errorf("%s: %w", inRel, err)
	}

	// wkhtmltopdf resolves relative image paths against the page location, so
	// the staged page sits next to the input.
	staged, err := os.CreateTemp(filepath.Dir(inAbs), ".render-*.html")
	if err != nil {
		return ports.ToolOutput{}, fmt.Errorf("stage html: %w", err)
	}
	defer func() { _ = os.Remove(staged.Name()) }()
	if _, err := staged.Write(page); err != nil {
		_ = staged.Close()
		return ports.ToolOutput{}, fmt.Errorf("stage html: %w", err)
	}
	if err := staged.Close(); err != nil {
		return ports.ToolOutput{}, fmt.Errorf("stage html: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outAbs), 0o755); err != nil {
		return ports.ToolOutput{}, fmt.Errorf("create parent of %s: %w", outRel, err)
	}

	result, err := runCommand(ctx, ws.Root(), t.binary,
		"--quiet",
		"--enable-local-file-access",
		"--allow", ws.Root(),
		"--title", title,
		staged.Name(), outAbs,
	)
	if err != nil {
		return ports.ToolOutput{}, err
	}
	if result.ExitCode != 0 {
		return ports.ToolOutput{}, fmt.Errorf("wkhtmltopdf exited with code %d: %s", result.ExitCode, strings.TrimSpace(lastLines(result.Stderr, 10)))
	}
	if info, err := os.Stat(outAbs); err != nil || info.Size() == 0 {
		return ports.ToolOutput{}, fmt.Errorf("wkhtmltopdf did not produce %s", outRel)
	}

	return ports.ToolOutput{
		Text:  fmt.Sprintf("rendered %s to %s (%q)", inRel, outRel, title),
		Files: []ports.ProducedFile{{Path: outRel}},
	}, nil
}

func markdownToHTML(source []byte, fallbackTitle string) ([]byte, error) {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(goldmarkhtml.WithUnsafe()),
	)
	var body bytes.Buffer
	if err := md.Convert(source, &body); err != nil {
		return nil, fmt.Errorf("convert markdown: %w", err)
	}

	title := fallbackTitle
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body.Bytes())); err == nil {
		if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
			title = h1
		}
	}

	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&page, "<title>%s</title>\n<style>\n%s\n</style>\n</head>\n<body>\n", html.EscapeString(title), reportStyle)
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")
	return page.Bytes(), nil
}

// checkHTML rejects pages with nothing to render and returns the document title.
func checkHTML(page []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	body := doc.Find("body")
	if strings.TrimSpace(body.Text()) == "" && body.Find("img, svg, table").Length() == 0 {
		return "", fmt.Errorf("document has no content to render")
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		title = "Report"
	}
	return title, nil
}

func titleFromPath(rel string) string {
	base := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	if base == "" {
		return "Report"
	}
	return strings.ToUpper(base[:1]) + base[1:]
}
