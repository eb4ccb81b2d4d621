package builtin

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/vsingh18567/illuminate/internal/tokenutil"
)

// notebook is an nbformat v4 document. Notebook and cell metadata survive a
// rewrite; other unknown fields do not.
type notebook struct {
	Cells         []cell         `json:"cells"`
	Metadata      map[string]any `json:"metadata"`
	NBFormat      int            `json:"nbformat"`
	NBFormatMinor int            `json:"nbformat_minor"`
}

type cell struct {
	ID             string           `json:"id,omitempty"`
	CellType       string           `json:"cell_type"`
	Metadata       map[string]any   `json:"metadata"`
	Source         multilineString  `json:"source"`
	Outputs        []map[string]any `json:"-"`
	ExecutionCount *int             `json:"-"`
}

// multilineString is nbformat's string-or-list-of-lines text field.
type multilineString string

func (m *multilineString) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*m = multilineString(single)
		return nil
	}
	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		return fmt.Errorf("notebook text must be a string or a list of strings")
	}
	*m = multilineString(strings.Join(lines, ""))
	return nil
}

func (m multilineString) MarshalJSON() ([]byte, error) {
	return json.Marshal(splitLines(string(m)))
}

// splitLines splits text the way nbformat stores it: each line keeps its newline.
func splitLines(text string) []string {
	if text == "" {
		return []string{}
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func (c cell) MarshalJSON() ([]byte, error) {
	type plain cell
	raw, err := json.Marshal(plain(c))
	if err != nil {
		return nil, err
	}
	if c.CellType != "code" {
		return raw, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	outputs := c.Outputs
	if outputs == nil {
		outputs = []map[string]any{}
	}
	fields["outputs"] = outputs
	fields["execution_count"] = c.ExecutionCount
	return json.Marshal(fields)
}

func (c *cell) UnmarshalJSON(data []byte) error {
	type plain cell
	var base plain
	if err := json.Unmarshal(data, &base); err != nil {
		return err
	}
	var extra struct {
		Outputs        []map[string]any `json:"outputs"`
		ExecutionCount *int             `json:"execution_count"`
	}
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	*c = cell(base)
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	c.Outputs = extra.Outputs
	c.ExecutionCount = extra.ExecutionCount
	return nil
}

func newNotebook() *notebook {
	return &notebook{
		Cells: []cell{},
		Metadata: map[string]any{
			"kernelspec": map[string]any{
				"display_name": "Python 3",
				"language":     "python",
				"name":         "python3",
			},
			"language_info": map[string]any{"name": "python"},
		},
		NBFormat:      4,
		NBFormatMinor: 5,
	}
}

func newCell(cellType, source string) (cell, error) {
	switch cellType {
	case "code", "markdown", "raw":
	default:
		return cell{}, fmt.Errorf("unknown cell type %q: expected code, markdown or raw", cellType)
	}
	return cell{
		ID:       strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		CellType: cellType,
		Metadata: map[string]any{},
		Source:   multilineString(source),
	}, nil
}

func loadNotebook(path string) (*notebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var nb notebook
	if err := json.Unmarshal(data, &nb); err != nil {
		return nil, fmt.Errorf("parse notebook: %w", err)
	}
	if nb.NBFormat != 4 {
		return nil, fmt.Errorf("unsupported nbformat %d: only version 4 notebooks are supported", nb.NBFormat)
	}
	if nb.Metadata == nil {
		nb.Metadata = map[string]any{}
	}
	if nb.Cells == nil {
		nb.Cells = []cell{}
	}
	return &nb, nil
}

func (nb *notebook) save(path string) error {
	data, err := json.MarshalIndent(nb, "", " ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// outputText flattens a cell output to the text the planner sees.
func outputText(output map[string]any) string {
	switch output["output_type"] {
	case "stream":
		return textField(output["text"])
	case "execute_result", "display_data":
		data, _ := output["data"].(map[string]any)
		if text := textField(data["text/plain"]); text != "" {
			return text
		}
		if _, ok := data["image/png"]; ok {
			return "<image/png>"
		}
		return ""
	case "error":
		name, _ := output["ename"].(string)
		value, _ := output["evalue"].(string)
		return fmt.Sprintf("%s: %s", name, value)
	}
	return ""
}

func textField(v any) string {
	switch typed := v.(type) {
	case string:
		return typed
	case []any:
		var b strings.Builder
		for _, line := range typed {
			b.WriteString(fmt.Sprint(line))
		}
		return b.String()
	}
	return ""
}

// render formats the cells for the planner, limiting each output to limit characters.
func (nb *notebook) render(limit int) string {
	if len(nb.Cells) == 0 {
		return "notebook has no cells"
	}
	var b strings.Builder
	for i, c := range nb.Cells {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s:\n%s", i, c.CellType, strings.TrimRight(string(c.Source), "\n"))
		for _, output := range c.Outputs {
			text := strings.TrimRight(outputText(output), "\n")
			if text == "" {
				continue
			}
			fmt.Fprintf(&b, "\n-- output:\n%s", tokenutil.TruncateRunes(text, limit))
		}
	}
	return b.String()
}
