package builtin

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
	"github.com/vsingh18567/illuminate/internal/workspace"
)

// packageSpecPattern accepts a distribution name with optional extras and a
// single version constraint, e.g. pandas, seaborn==0.13.2 or uvicorn[standard]>=0.30.
var packageSpecPattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9._-]*[A-Za-z0-9])?(\[[A-Za-z0-9._,-]+\])?((==|>=|<=|~=|!=|>|<)[A-Za-z0-9.*+!_-]+)?$`)

type runPython struct {
	python string
}

func (t *runPython) Spec() ports.ToolSpec {
	return textSpec("run_python",
		"Run an existing Python script from the workspace root and return its stdout, stderr and exit code. Write the script with write_file first. Do not use it to print large files.",
		ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"script": {Type: "string", Description: "Path of the .py script, relative to the workspace root"},
				"args": {
					Type:        "array",
					Description: "Command line arguments passed to the script",
					Items:       &ports.Property{Type: "string"},
				},
			},
			Required: []string{"script"},
		})
}

func (t *runPython) Invoke(ctx context.Context, args map[string]any) (ports.ToolOutput, error) {
	ws, abs, rel, err := workspacePath(ctx, args, "script")
	if err != nil {
		return ports.ToolOutput{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return ports.ToolOutput{}, fmt.Errorf("script not found: %s", rel)
	}
	if info.IsDir() {
		return ports.ToolOutput{}, fmt.Errorf("%s is a directory", rel)
	}

	cmdArgs := append([]string{rel}, stringSliceArg(args, "args")...)
	result, err := runCommand(ctx, ws.Root(), t.python, cmdArgs...)
	if err != nil {
		return ports.ToolOutput{}, err
	}
	return ports.ToolOutput{Text: result.format(DefaultMaxReadChars)}, nil
}

type pipInstall struct {
	python string
}

func (t *pipInstall) Spec() ports.ToolSpec {
	return textSpec("pip_install",
		"Install a Python package with pip so later scripts can import it.",
		ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"package": {Type: "string", Description: "Package to install, optionally pinned, e.g. pandas or seaborn==0.13.2"},
			},
			Required: []string{"package"},
		})
}

func (t *pipInstall) Invoke(ctx context.Context, args map[string]any) (ports.ToolOutput, error) {
	pkg := strings.TrimSpace(stringArg(args, "package"))
	if err := validatePackageSpec(pkg); err != nil {
		return ports.ToolOutput{}, err
	}
	dir := "."
	if ws, ok := workspace.FromContext(ctx); ok {
		dir = ws.Root()
	}

	result, err := runCommand(ctx, dir, t.python, "-m", "pip", "install", "--disable-pip-version-check", pkg)
	if err != nil {
		return ports.ToolOutput{}, err
	}
	if result.ExitCode != 0 {
		return ports.ToolOutput{}, fmt.Errorf("pip install %s failed with exit code %d: %s", pkg, result.ExitCode, strings.TrimSpace(lastLines(result.Stderr, 10)))
	}
	return ports.ToolOutput{Text: fmt.Sprintf("installed %s\n%s", pkg, strings.TrimSpace(lastLines(result.Stdout, 3)))}, nil
}

func validatePackageSpec(pkg string) error {
	if pkg == "" {
		return fmt.Errorf("missing 'package'")
	}
	if strings.HasPrefix(pkg, "-") || !packageSpecPattern.MatchString(pkg) {
		return fmt.Errorf("invalid package specifier %q", pkg)
	}
	return nil
}

func lastLines(text string, n int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
