package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
)

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".pdf": true,
}

type readFile struct {
	maxChars int
}

func (t *readFile) Spec() ports.ToolSpec {
	return textSpec("read_file",
		fmt.Sprintf("Read a text file. Files over %d characters, images, PDFs and CSV files are refused; inspect those with a Python script instead.", t.maxChars),
		pathParameter("File to read, relative to the workspace root"))
}

func (t *readFile) Invoke(ctx context.Context, args map[string]any) (ports.ToolOutput, error) {
	_, abs, rel, err := workspacePath(ctx, args, "path")
	if err != nil {
		return ports.ToolOutput{}, err
	}

	ext := strings.ToLower(filepath.Ext(rel))
	switch {
	case imageExtensions[ext]:
		return ports.ToolOutput{}, fmt.Errorf("%s is a binary document and cannot be viewed", rel)
	case ext == ".csv":
		return ports.ToolOutput{}, fmt.Errorf("%s is a CSV file, use a Python script to get information from it", rel)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return ports.ToolOutput{}, fmt.Errorf("read %s: %w", rel, err)
	}
	if !utf8.Valid(data) {
		return ports.ToolOutput{}, fmt.Errorf("%s is not a UTF-8 text file", rel)
	}
	if n := utf8.RuneCount(data); n > t.maxChars {
		return ports.ToolOutput{}, fmt.Errorf("%s has %d characters, over the %d character limit; use a Python script to inspect it", rel, n, t.maxChars)
	}
	return ports.ToolOutput{Text: string(data)}, nil
}
