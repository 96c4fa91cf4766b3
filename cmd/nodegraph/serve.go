package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kbukum/nodegraph/bootstrap"
	"github.com/kbukum/nodegraph/graph"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		addr      string
		graphFile string
		quiet     bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the control API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			var preload *graph.Graph
			if graphFile != "" {
				data, err := os.ReadFile(graphFile)
				if err != nil {
					return err
				}
				if preload, err = graph.Parse(data); err != nil {
					return fmt.Errorf("%s: %w", graphFile, err)
				}
			}

			app, err := bootstrap.New(cmd.Context(), cfg, bootstrap.WithServer())
			if err != nil {
				return err
			}
			if preload != nil {
				app.OnStart(func(ctx context.Context) error {
					return app.API.Load(ctx, preload)
				})
			}
			if !quiet {
				app.OnReady(func(context.Context) error {
					app.DisplaySummary(cmd.ErrOrStderr())
					return nil
				})
			}
			return app.Run(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	f.StringVar(&graphFile, "graph", "", "graph file to load at startup")
	f.BoolVarP(&quiet, "quiet", "q", false, "do not print the startup summary")
	return cmd
}
