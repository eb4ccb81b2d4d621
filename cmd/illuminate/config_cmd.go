package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vsingh18567/illuminate/internal/config"
)

func (c *cli) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the resolved configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, meta, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			if file := meta.File(); file != "" {
				fmt.Fprintf(c.stdout, "# loaded from %s\n", file)
			}
			enc := yaml.NewEncoder(c.stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "keys",
		Short: "List every config key with its environment variable and source",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, meta, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tENV\tSOURCE")
			for _, key := range config.Keys() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", key, config.EnvName(key), meta.Source(key))
			}
			return w.Flush()
		},
	})
	return cmd
}
