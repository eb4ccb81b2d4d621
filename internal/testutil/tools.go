// Package testutil provides tool doubles shared by the agent tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
	"github.com/vsingh18567/illuminate/internal/workspace"
)

// InvokeFunc is the body of a fake tool.
type InvokeFunc func(ctx context.Context, args map[string]any) (ports.ToolOutput, error)

// Tool is a ports.Tool backed by a function. It records every call.
type Tool struct {
	spec ports.ToolSpec
	fn   InvokeFunc

	mu    sync.Mutex
	calls []map[string]any
}

// NewTool returns a fake tool with the given spec and body.
func NewTool(spec ports.ToolSpec, fn InvokeFunc) *Tool {
	if spec.Parameters.Type == "" {
		spec.Parameters.Type = "object"
	}
	if spec.Output.Kind == "" {
		spec.Output.Kind = ports.OutputText
	}
	return &Tool{spec: spec, fn: fn}
}

func (t *Tool) Spec() ports.ToolSpec { return t.spec }

func (t *Tool) Invoke(ctx context.Context, args map[string]any) (ports.ToolOutput, error) {
	t.mu.Lock()
	t.calls = append(t.calls, args)
	t.mu.Unlock()
	if t.fn == nil {
		return ports.ToolOutput{}, nil
	}
	return t.fn(ctx, args)
}

// Calls returns the number of invocations so far.
func (t *Tool) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// CallArgs returns the arguments of each invocation.
func (t *Tool) CallArgs() []map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]map[string]any(nil), t.calls...)
}

// TextTool always answers with text.
func TextTool(name, text string) *Tool {
	return NewTool(ports.ToolSpec{Name: name, Description: "returns " + text}, func(context.Context, map[string]any) (ports.ToolOutput, error) {
		return ports.ToolOutput{Text: text}, nil
	})
}

// FailingTool always fails with err.
func FailingTool(name string, err error) *Tool {
	return NewTool(ports.ToolSpec{Name: name}, func(context.Context, map[string]any) (ports.ToolOutput, error) {
		return ports.ToolOutput{}, err
	})
}

// BlockingTool waits for its context to end, so it can only finish by timing out.
func BlockingTool(name string) *Tool {
	return NewTool(ports.ToolSpec{Name: name}, func(ctx context.Context, _ map[string]any) (ports.ToolOutput, error) {
		<-ctx.Done()
		return ports.ToolOutput{}, ctx.Err()
	})
}

// SleepTool sleeps for d, ignoring cancellation.
func SleepTool(name string, d time.Duration) *Tool {
	return NewTool(ports.ToolSpec{Name: name}, func(context.Context, map[string]any) (ports.ToolOutput, error) {
		time.Sleep(d)
		return ports.ToolOutput{Text: "slept"}, nil
	})
}

// PathContentParameters is the schema used by WriterTool.
func PathContentParameters() ports.ParameterSchema {
	return ports.ParameterSchema{
		Type: "object",
		Properties: map[string]ports.Property{
			"path":    {Type: "string", Description: "file to write"},
			"content": {Type: "string", Description: "file contents"},
			"input":   {Type: "string", Description: "file this output is derived from"},
		},
		Required: []string{"path", "content"},
	}
}

// WriterTool writes args["content"] to args["path"] inside the workspace
// carried by the context and reports the file.
func WriterTool(name string, retention ports.Retention) *Tool {
	spec := ports.ToolSpec{
		Name:        name,
		Description: "writes a file",
		Parameters:  PathContentParameters(),
		Output:      ports.OutputContract{Kind: ports.OutputFile, DefaultRetention: retention},
	}
	return NewTool(spec, func(ctx context.Context, args map[string]any) (ports.ToolOutput, error) {
		ws, ok := workspace.FromContext(ctx)
		if !ok {
			return ports.ToolOutput{}, errors.New("no workspace in context")
		}
		path, _ := args["path"].(string)
		content, _ := args["content"].(string)
		abs, err := ws.Resolve(path)
		if err != nil {
			return ports.ToolOutput{}, err
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return ports.ToolOutput{}, err
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			return ports.ToolOutput{}, err
		}
		return ports.ToolOutput{
			Text:  fmt.Sprintf("wrote %d bytes to %s", len(content), path),
			Files: []ports.ProducedFile{{Path: path}},
		}, nil
	})
}
