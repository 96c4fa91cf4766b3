package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kbukum/nodegraph/bootstrap"
	"github.com/kbukum/nodegraph/registry"
)

func newComponentsCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "components",
		Short: "List the registered components",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			app, err := bootstrap.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.Shutdown(context.Background())

			specs := app.Registry.List()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(specs)
			}
			return printComponents(cmd, specs)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full specs as JSON")
	return cmd
}

func printComponents(cmd *cobra.Command, specs []*registry.ComponentSpec) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCATEGORY\tRUNTIME\tINPUTS\tOUTPUTS\tCAPABILITIES")
	for _, s := range specs {
		id := s.ID
		if s.Continuous {
			id += " (continuous)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			id, s.Category, s.Runtime, portList(s.Inputs, true), portList(s.Outputs, false), orDash(strings.Join(s.Capabilities, ",")))
	}
	return tw.Flush()
}

// portList renders ports as name:type, marking optional inputs with "?".
func portList(ports []registry.Port, inputs bool) string {
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		part := p.Name + ":" + p.Type.String()
		if inputs && !p.Required {
			part += "?"
		}
		parts = append(parts, part)
	}
	return orDash(strings.Join(parts, ","))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
