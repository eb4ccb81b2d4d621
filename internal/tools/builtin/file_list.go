package builtin

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
	"github.com/vsingh18567/illuminate/internal/workspace"
)

type listFiles struct{}

func (t *listFiles) Spec() ports.ToolSpec {
	return textSpec("list_files",
		"List the files and directories at a path inside the workspace. Defaults to the workspace root.",
		ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"path": {Type: "string", Description: "Directory to list, relative to the workspace root"},
			},
		})
}

func (t *listFiles) Invoke(ctx context.Context, args map[string]any) (ports.ToolOutput, error) {
	if strings.TrimSpace(stringArg(args, "path")) == "" {
		args = map[string]any{"path": "."}
	}
	_, abs, rel, err := workspacePath(ctx, args, "path")
	if err != nil {
		return ports.ToolOutput{}, err
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return ports.ToolOutput{}, fmt.Errorf("list %s: %w", rel, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var dirs, files []string
	for _, entry := range entries {
		name := entry.Name()
		if rel == "." && name == workspace.LogDirName {
			continue
		}
		if entry.IsDir() {
			dirs = append(dirs, fmt.Sprintf("[DIR]  %s/", name))
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fmt.Sprintf("[FILE] %s (%d bytes)", name, info.Size()))
	}

	if len(dirs)+len(files) == 0 {
		return ports.ToolOutput{Text: fmt.Sprintf("%s is empty", rel)}, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d director(ies), %d file(s)\n", rel, len(dirs), len(files))
	for _, line := range append(dirs, files...) {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return ports.ToolOutput{Text: strings.TrimRight(b.String(), "\n")}, nil
}
