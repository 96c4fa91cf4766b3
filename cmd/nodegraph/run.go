package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kbukum/nodegraph/bootstrap"
	"github.com/kbukum/nodegraph/continuous"
	"github.com/kbukum/nodegraph/executor"
	"github.com/kbukum/nodegraph/graph"
	"github.com/kbukum/nodegraph/logger"
)

type runOptions struct {
	startEnabled bool
	warmup       time.Duration
	timeout      time.Duration
	format       string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <graph-file>",
		Short: "Run a graph once and print the per-node results",
		Long: `Run executes every node of the graph once in dependency order. Continuous
nodes are not called; their latest outputs are used instead, so with
--start-enabled the nodes marked enabled are started first and given up to
--warmup to complete a cycle.

The command exits non-zero when any node failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraphFile(cmd, root, opts, args[0])
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.startEnabled, "start-enabled", false, "start the continuous nodes marked enabled before running")
	f.DurationVar(&opts.warmup, "warmup", 2*time.Second, "how long to wait for started continuous nodes to produce outputs")
	f.DurationVar(&opts.timeout, "timeout", 0, "cancel the run after this long (0 disables)")
	f.StringVarP(&opts.format, "output", "o", "json", "output format: json or table")
	return cmd
}

func runGraphFile(cmd *cobra.Command, root *rootOptions, opts *runOptions, path string) error {
	if opts.format != "json" && opts.format != "table" {
		return fmt.Errorf("unknown output format %q", opts.format)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	g, err := graph.Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	cfg, err := root.load()
	if err != nil {
		return err
	}
	app, err := bootstrap.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	return app.RunTask(cmd.Context(), func(ctx context.Context) error {
		if err := g.Validate(app.Registry); err != nil {
			return err
		}
		if opts.startEnabled {
			if err := startEnabled(ctx, app, g, opts.warmup); err != nil {
				return err
			}
		}
		if opts.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.timeout)
			defer cancel()
		}

		res, err := app.Executor.Run(ctx, g)
		if err != nil {
			return err
		}
		if err := printResult(cmd.OutOrStdout(), opts.format, res); err != nil {
			return err
		}
		if failed := res.Failed(); len(failed) > 0 {
			return fmt.Errorf("%d of %d nodes failed: %s", len(failed), len(res.Nodes), strings.Join(failed, ", "))
		}
		return nil
	})
}

// startEnabled starts every enabled continuous node and waits until each
// has completed a cycle or failed, or warmup elapses.
func startEnabled(ctx context.Context, app *bootstrap.App, g *graph.Graph, warmup time.Duration) error {
	var started []string
	for _, n := range g.Nodes {
		if !n.Continuous || !n.Enabled {
			continue
		}
		if err := app.Manager.Start(n.ID, n.ComponentID); err != nil {
			return fmt.Errorf("start %s: %w", n.ID, err)
		}
		started = append(started, n.ID)
	}
	if len(started) == 0 {
		return nil
	}

	deadline := time.NewTimer(warmup)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		if warm(app.Manager, started) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			app.Logger.Warn("Continuous nodes still warming up", logger.Fields("nodes", started, "warmup", warmup.String()))
			return nil
		case <-tick.C:
		}
	}
}

func warm(m *continuous.Manager, ids []string) bool {
	for _, id := range ids {
		s := m.Snapshot(id)
		if s.Cycles == 0 && s.Phase != continuous.PhaseFailed {
			return false
		}
	}
	return true
}

func printResult(w io.Writer, format string, res *executor.Result) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	ids := make([]string, 0, len(res.Nodes))
	for id := range res.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tCOMPONENT\tSTATUS\tRESULT")
	for _, id := range ids {
		nr := res.Nodes[id]
		status := "ok"
		if nr.Continuous {
			status = "continuous"
		}
		var detail string
		if raw, err := json.Marshal(nr.Outputs); err == nil {
			detail = string(raw)
		}
		if nr.Err != nil {
			status = string(nr.Err.Category)
			detail = nr.Err.Message
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", id, nr.ComponentID, status, detail)
	}
	return tw.Flush()
}
