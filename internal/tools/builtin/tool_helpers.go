package builtin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
	"github.com/vsingh18567/illuminate/internal/workspace"
)

var errNoWorkspace = errors.New("no workspace bound to the tool call")

// stringArg fetches a string-like argument from the tool call map, returning an
// empty string when the key is absent or nil.
func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	value, ok := args[key]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

// stringSliceArg coalesces array-like arguments into a slice of strings,
// handling both []any and singular string inputs.
func stringSliceArg(args map[string]any, key string) []string {
	switch typed := args[key].(type) {
	case []string:
		return typed
	case []any:
		result := make([]string, 0, len(typed))
		for _, item := range typed {
			result = append(result, fmt.Sprint(item))
		}
		return result
	case string:
		if strings.TrimSpace(typed) != "" {
			return []string{typed}
		}
	}
	return nil
}

func boolArg(args map[string]any, key string) bool {
	value, _ := args[key].(bool)
	return value
}

// workspacePath resolves a path argument against the workspace carried by ctx.
// It returns the absolute path and the slash-separated path relative to the root.
func workspacePath(ctx context.Context, args map[string]any, key string) (*workspace.Workspace, string, string, error) {
	ws, ok := workspace.FromContext(ctx)
	if !ok {
		return nil, "", "", errNoWorkspace
	}
	raw := strings.TrimSpace(stringArg(args, key))
	if raw == "" {
		return nil, "", "", fmt.Errorf("missing '%s'", key)
	}
	abs, err := ws.Resolve(raw)
	if err != nil {
		return nil, "", "", err
	}
	rel, err := filepath.Rel(ws.Root(), abs)
	if err != nil {
		return nil, "", "", err
	}
	return ws, abs, filepath.ToSlash(rel), nil
}

func pathParameter(description string) ports.ParameterSchema {
	return ports.ParameterSchema{
		Type: "object",
		Properties: map[string]ports.Property{
			"path": {Type: "string", Description: description},
		},
		Required: []string{"path"},
	}
}

func textSpec(name, description string, params ports.ParameterSchema) ports.ToolSpec {
	return ports.ToolSpec{
		Name:        name,
		Description: description,
		Parameters:  params,
		Output:      ports.OutputContract{Kind: ports.OutputText},
	}
}

func fileSpec(name, description string, params ports.ParameterSchema, retention ports.Retention) ports.ToolSpec {
	return ports.ToolSpec{
		Name:        name,
		Description: description,
		Parameters:  params,
		Output:      ports.OutputContract{Kind: ports.OutputFile, DefaultRetention: retention},
	}
}

func countLines(content string) int {
	if content == "" {
		return 0
	}
	lines := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		lines++
	}
	return lines
}
