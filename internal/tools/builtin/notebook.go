package builtin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
	"github.com/vsingh18567/illuminate/internal/workspace"
)

const (
	notebookOutputLimit     = 2000
	notebookExecuteTimeoutS = 600
)

// notebookFile reports an edited notebook under the retention it already has,
// so editing a deliverable keeps it a deliverable.
func notebookFile(ws *workspace.Workspace, rel string) ports.ProducedFile {
	file := ports.ProducedFile{Path: rel}
	if existing, ok := ws.Artifact(rel); ok {
		file.Retention = existing.Retention
	}
	return file
}

func openNotebook(ctx context.Context, args map[string]any) (*workspace.Workspace, *notebook, string, string, error) {
	ws, abs, rel, err := workspacePath(ctx, args, "path")
	if err != nil {
		return nil, nil, "", "", err
	}
	nb, err := loadNotebook(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, "", "", fmt.Errorf("notebook not found: %s", rel)
	}
	if err != nil {
		return nil, nil, "", "", fmt.Errorf("%s: %w", rel, err)
	}
	return ws, nb, abs, rel, nil
}

type createNotebook struct{}

func (t *createNotebook) Spec() ports.ToolSpec {
	return fileSpec("create_notebook",
		"Create an empty Jupyter notebook (.ipynb) that documents the analysis. Notebooks are kept as deliverables.",
		pathParameter("Notebook to create, relative to the workspace root"),
		ports.RetentionFinal)
}

func (t *createNotebook) Invoke(ctx context.Context, args map[string]any) (ports.ToolOutput, error) {
	_, abs, rel, err := workspacePath(ctx, args, "path")
	if err != nil {
		return ports.ToolOutput{}, err
	}
	if !strings.EqualFold(filepath.Ext(rel), ".ipynb") {
		return ports.ToolOutput{}, fmt.Errorf("notebook %s must have a .ipynb extension", rel)
	}
	if _, err := os.Stat(abs); err == nil {
		return ports.ToolOutput{}, fmt.Errorf("notebook %s already exists", rel)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return ports.ToolOutput{}, fmt.Errorf("create parent of %s: %w", rel, err)
	}
	if err := newNotebook().save(abs); err != nil {
		return ports.ToolOutput{}, fmt.Errorf("write %s: %w", rel, err)
	}
	return ports.ToolOutput{
		Text:  fmt.Sprintf("created notebook %s", rel),
		Files: []ports.ProducedFile{{Path: rel}},
	}, nil
}

type addNotebookCells struct{}

func (t *addNotebookCells) Spec() ports.ToolSpec {
	return fileSpec("add_notebook_cells",
		"Append cells to an existing Jupyter notebook. Cells are added without outputs; run execute_notebook to produce them.",
		ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"path": {Type: "string", Description: "Notebook to edit, relative to the workspace root"},
				"cells": {
					Type:        "array",
					Description: "Cells to append in order",
					Items: &ports.Property{
						Type: "object",
						Properties: map[string]ports.Property{
							"cell_type": {Type: "string", Description: "Kind of cell", Enum: []any{"code", "markdown", "raw"}},
							"source":    {Type: "string", Description: "Cell source"},
						},
						Required: []string{"cell_type", "source"},
					},
				},
			},
			Required: []string{"path", "cells"},
		},
		ports.RetentionFinal)
}

func (t *addNotebookCells) Invoke(ctx context.Context, args map[string]any) (ports.ToolOutput, error) {
	ws, nb, abs, rel, err := openNotebook(ctx, args)
	if err != nil {
		return ports.ToolOutput{}, err
	}

	raw, _ := args["cells"].([]any)
	if len(raw) == 0 {
		return ports.ToolOutput{}, fmt.Errorf("no cells to add")
	}
	for i, item := range raw {
		fields, _ := item.(map[string]any)
		c, err := newCell(stringArg(fields, "cell_type"), stringArg(fields, "source"))
		if err != nil {
			return ports.ToolOutput{}, fmt.Errorf("cell %d: %w", i, err)
		}
		nb.Cells = append(nb.Cells, c)
	}
	if err := nb.save(abs); err != nil {
		return ports.ToolOutput{}, fmt.Errorf("write %s: %w", rel, err)
	}
	return ports.ToolOutput{
		Text:  fmt.Sprintf("added %d cell(s) to %s, which now has %d", len(raw), rel, len(nb.Cells)),
		Files: []ports.ProducedFile{notebookFile(ws, rel)},
	}, nil
}

type readNotebook struct{}

func (t *readNotebook) Spec() ports.ToolSpec {
	return textSpec("read_notebook",
		"Show the cells of a Jupyter notebook with the text of any outputs.",
		pathParameter("Notebook to read, relative to the workspace root"))
}

func (t *readNotebook) Invoke(ctx context.Context, args map[string]any) (ports.ToolOutput, error) {
	_, nb, _, _, err := openNotebook(ctx, args)
	if err != nil {
		return ports.ToolOutput{}, err
	}
	return ports.ToolOutput{Text: nb.render(notebookOutputLimit)}, nil
}

type removeLastNotebookCell struct{}

func (t *removeLastNotebookCell) Spec() ports.ToolSpec {
	return fileSpec("remove_last_notebook_cell",
		"Remove the last cell of a Jupyter notebook.",
		pathParameter("Notebook to edit, relative to the workspace root"),
		ports.RetentionFinal)
}

func (t *removeLastNotebookCell) Invoke(ctx context.Context, args map[string]any) (ports.ToolOutput, error) {
	ws, nb, abs, rel, err := openNotebook(ctx, args)
	if err != nil {
		return ports.ToolOutput{}, err
	}
	if len(nb.Cells) == 0 {
		return ports.ToolOutput{}, fmt.Errorf("%s has no cells to remove", rel)
	}
	removed := nb.Cells[len(nb.Cells)-1]
	nb.Cells = nb.Cells[:len(nb.Cells)-1]
	if err := nb.save(abs); err != nil {
		return ports.ToolOutput{}, fmt.Errorf("write %s: %w", rel, err)
	}
	return ports.ToolOutput{
		Text:  fmt.Sprintf("removed %s cell %d from %s", removed.CellType, len(nb.Cells), rel),
		Files: []ports.ProducedFile{notebookFile(ws, rel)},
	}, nil
}

type executeNotebook struct {
	jupyter string
}

func (t *executeNotebook) Spec() ports.ToolSpec {
	return ports.ToolSpec{
		Name:        "execute_notebook",
		Description: "Execute every cell of a Jupyter notebook in place and return the executed cells with their outputs.",
		Parameters:  pathParameter("Notebook to execute, relative to the workspace root"),
		Output:      ports.OutputContract{Kind: ports.OutputBoth, DefaultRetention: ports.RetentionFinal},
	}
}

func (t *executeNotebook) Invoke(ctx context.Context, args map[string]any) (ports.ToolOutput, error) {
	ws, _, abs, rel, err := openNotebook(ctx, args)
	if err != nil {
		return ports.ToolOutput{}, err
	}

	result, err := runCommand(ctx, filepath.Dir(abs), t.jupyter,
		"nbconvert",
		"--to", "notebook",
		"--execute",
		"--inplace",
		fmt.Sprintf("--ExecutePreprocessor.timeout=%d", notebookExecuteTimeoutS),
		filepath.Base(abs),
	)
	if err != nil {
		return ports.ToolOutput{}, err
	}

	executed, loadErr := loadNotebook(abs)
	if result.ExitCode != 0 {
		msg := strings.TrimSpace(lastLines(result.Stderr, 15))
		if loadErr == nil {
			msg = executed.render(notebookOutputLimit) + "\n\n" + msg
		}
		return ports.ToolOutput{}, fmt.Errorf("executing %s failed with exit code %d:\n%s", rel, result.ExitCode, msg)
	}
	if loadErr != nil {
		return ports.ToolOutput{}, fmt.Errorf("%s: %w", rel, loadErr)
	}
	return ports.ToolOutput{
		Text:  executed.render(notebookOutputLimit),
		Files: []ports.ProducedFile{notebookFile(ws, rel)},
	}, nil
}
