package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vsingh18567/illuminate/internal/agent/ports"
	"github.com/vsingh18567/illuminate/internal/config"
	"github.com/vsingh18567/illuminate/internal/toolregistry"
	"github.com/vsingh18567/illuminate/internal/tools/builtin"
)

func (c *cli) toolsCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools the planner can call",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := c.toolSpecs(cmd)
			if err != nil {
				return err
			}
			return c.printTools(specs, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table, json or yaml")
	return cmd
}

// toolSpecs lists the enabled builtins. The catalog needs no model
// credentials, so validation problems unrelated to tools are ignored.
func (c *cli) toolSpecs(cmd *cobra.Command) ([]ports.ToolSpec, error) {
	cfg, _, err := c.loadConfig(cmd)
	var verr *config.ValidationError
	if err != nil && !errors.As(err, &verr) {
		return nil, err
	}
	registry := toolregistry.NewRegistry()
	if err := builtin.Register(registry, cfg.Tools); err != nil {
		return nil, usageError(err)
	}
	return registry.Specs(), nil
}

func (c *cli) printTools(specs []ports.ToolSpec, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(c.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(specs)
	case "yaml":
		enc := yaml.NewEncoder(c.stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(specs)
	case "table":
		w := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tOUTPUT\tRETENTION\tPARAMETERS")
		for _, spec := range specs {
			retention := string(spec.Output.DefaultRetention)
			if retention == "" {
				retention = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", spec.Name, spec.Output.Kind, retention, parameterList(spec.Parameters))
		}
		return w.Flush()
	default:
		return usageError(fmt.Errorf("unknown format %q (want table, json or yaml)", format))
	}
}

// parameterList renders parameter names, marking optional ones with "?".
func parameterList(schema ports.ParameterSchema) string {
	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}
	names := schema.PropertyNames()
	if len(names) == 0 {
		return "-"
	}
	for i, name := range names {
		if !required[name] {
			names[i] = name + "?"
		}
	}
	return strings.Join(names, ", ")
}
