package builtin

import (
	"context"
	"fmt"
	"os"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
)

type deleteFile struct{}

func (t *deleteFile) Spec() ports.ToolSpec {
	return textSpec("delete_file",
		"Delete a file inside the workspace. Directories cannot be deleted.",
		pathParameter("File to delete, relative to the workspace root"))
}

func (t *deleteFile) Invoke(ctx context.Context, args map[string]any) (ports.ToolOutput, error) {
	ws, abs, rel, err := workspacePath(ctx, args, "path")
	if err != nil {
		return ports.ToolOutput{}, err
	}
	info, err := os.Lstat(abs)
	if err != nil {
		return ports.ToolOutput{}, fmt.Errorf("file not found: %s", rel)
	}
	if info.IsDir() {
		return ports.ToolOutput{}, fmt.Errorf("%s is a directory", rel)
	}
	if err := os.Remove(abs); err != nil {
		return ports.ToolOutput{}, fmt.Errorf("delete %s: %w", rel, err)
	}

	text := fmt.Sprintf("deleted %s", rel)
	if ws.Forget(rel) {
		text += " (no longer tracked as an artifact)"
	}
	return ports.ToolOutput{Text: text}, nil
}
