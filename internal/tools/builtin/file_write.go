package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
)

type writeFile struct{}

func (t *writeFile) Spec() ports.ToolSpec {
	return fileSpec("write_file",
		"Write content to a file, creating parent directories and overwriting any existing file. Files are scratch work unless final is true.",
		ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"path":    {Type: "string", Description: "File to write, relative to the workspace root"},
				"content": {Type: "string", Description: "Full content of the file"},
				"final":   {Type: "boolean", Description: "Keep this file as a deliverable after the task ends"},
			},
			Required: []string{"path", "content"},
		},
		ports.RetentionEphemeral)
}

func (t *writeFile) Invoke(ctx context.Context, args map[string]any) (ports.ToolOutput, error) {
	_, abs, rel, err := workspacePath(ctx, args, "path")
	if err != nil {
		return ports.ToolOutput{}, err
	}
	if rel == "." {
		return ports.ToolOutput{}, fmt.Errorf("cannot write to the workspace root")
	}
	content := stringArg(args, "content")

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return ports.ToolOutput{}, fmt.Errorf("create parent of %s: %w", rel, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return ports.ToolOutput{}, fmt.Errorf("write %s: %w", rel, err)
	}

	file := ports.ProducedFile{Path: rel}
	if boolArg(args, "final") {
		file.Retention = ports.RetentionFinal
	}
	return ports.ToolOutput{
		Text:  fmt.Sprintf("wrote %d bytes to %s", len(content), rel),
		Files: []ports.ProducedFile{file},
	}, nil
}
