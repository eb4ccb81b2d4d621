package builtin

import (
	"context"
	"fmt"
	"os"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
)

type fileInfo struct{}

func (t *fileInfo) Spec() ports.ToolSpec {
	return textSpec("file_info",
		"Report the size in bytes and the number of lines of a file.",
		pathParameter("File to inspect, relative to the workspace root"))
}

func (t *fileInfo) Invoke(ctx context.Context, args map[string]any) (ports.ToolOutput, error) {
	_, abs, rel, err := workspacePath(ctx, args, "path")
	if err != nil {
		return ports.ToolOutput{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return ports.ToolOutput{}, fmt.Errorf("stat %s: %w", rel, err)
	}
	if info.IsDir() {
		return ports.ToolOutput{}, fmt.Errorf("%s is a directory, use list_files", rel)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return ports.ToolOutput{}, fmt.Errorf("read %s: %w", rel, err)
	}
	return ports.ToolOutput{
		Text: fmt.Sprintf("%s: %d bytes, %d lines", rel, info.Size(), countLines(string(data))),
	}, nil
}
