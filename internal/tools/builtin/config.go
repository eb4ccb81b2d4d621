// Package builtin provides the data-analysis tools registered by default:
// workspace file operations, Python execution, notebooks and PDF rendering.
package builtin

import (
	"fmt"
	"strings"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
	"github.com/vsingh18567/illuminate/internal/toolregistry"
)

// DefaultMaxReadChars caps how much of a file read_file returns.
const DefaultMaxReadChars = 20_000

// Config holds the external binaries and limits used by the builtin tools.
type Config struct {
	Python       string   `mapstructure:"python" yaml:"python"`
	Wkhtmltopdf  string   `mapstructure:"wkhtmltopdf" yaml:"wkhtmltopdf"`
	Jupyter      string   `mapstructure:"jupyter" yaml:"jupyter"`
	MaxReadChars int      `mapstructure:"max_read_chars" yaml:"max_read_chars"`
	Disabled     []string `mapstructure:"disabled" yaml:"disabled"`
}

// DefaultConfig returns the binaries looked up on PATH.
func DefaultConfig() Config {
	return Config{
		Python:       "python3",
		Wkhtmltopdf:  "wkhtmltopdf",
		Jupyter:      "jupyter",
		MaxReadChars: DefaultMaxReadChars,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.Python) == "" {
		c.Python = def.Python
	}
	if strings.TrimSpace(c.Wkhtmltopdf) == "" {
		c.Wkhtmltopdf = def.Wkhtmltopdf
	}
	if strings.TrimSpace(c.Jupyter) == "" {
		c.Jupyter = def.Jupyter
	}
	if c.MaxReadChars <= 0 {
		c.MaxReadChars = def.MaxReadChars
	}
	return c
}

// Tools returns every builtin tool that is not disabled, in registration order.
func Tools(cfg Config) []ports.Tool {
	cfg = cfg.withDefaults()
	all := []ports.Tool{
		&listFiles{},
		&fileInfo{},
		&readFile{maxChars: cfg.MaxReadChars},
		&writeFile{},
		&deleteFile{},
		&runPython{python: cfg.Python},
		&pipInstall{python: cfg.Python},
		&renderPDF{binary: cfg.Wkhtmltopdf},
		&createNotebook{},
		&addNotebookCells{},
		&readNotebook{},
		&removeLastNotebookCell{},
		&executeNotebook{jupyter: cfg.Jupyter},
	}

	disabled := make(map[string]bool, len(cfg.Disabled))
	for _, name := range cfg.Disabled {
		disabled[strings.TrimSpace(name)] = true
	}
	out := make([]ports.Tool, 0, len(all))
	for _, tool := range all {
		if !disabled[tool.Spec().Name] {
			out = append(out, tool)
		}
	}
	return out
}

// Register adds the enabled builtin tools to reg.
func Register(reg *toolregistry.Registry, cfg Config) error {
	known := make(map[string]bool)
	for _, tool := range Tools(Config{}) {
		known[tool.Spec().Name] = true
	}
	for _, name := range cfg.Disabled {
		if !known[strings.TrimSpace(name)] {
			return fmt.Errorf("cannot disable unknown builtin tool %q", name)
		}
	}
	for _, tool := range Tools(cfg) {
		if err := reg.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
