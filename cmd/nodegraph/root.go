package main

import (
	"github.com/spf13/cobra"

	"github.com/kbukum/nodegraph/config"
)

const serviceName = "nodegraph"

type rootOptions struct {
	configFile string
	envFile    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   serviceName,
		Short: "Execute node graphs of sandboxed components",
		Long: `nodegraph executes graphs of sandboxed components. Batch runs call each
node once in dependency order; continuous nodes run in repeated cycles until
stopped. The serve command exposes the same operations over HTTP.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file (default: searched in cmd/nodegraph, config/ and the working directory)")
	flags.StringVar(&opts.envFile, "env-file", "", ".env file to load before reading the environment")
	flags.StringVar(&opts.logLevel, "log-level", "", "override logging.level")

	cmd.AddCommand(
		newRunCmd(opts),
		newServeCmd(opts),
		newComponentsCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load reads the configuration the way every subcommand needs it: file,
// then .env, then NODEGRAPH_* variables, then flags.
func (o *rootOptions) load() (*config.Config, error) {
	var loaderOpts []config.LoaderOption
	if o.configFile != "" {
		loaderOpts = append(loaderOpts, config.WithConfigFile(o.configFile))
	}
	if o.envFile != "" {
		loaderOpts = append(loaderOpts, config.WithEnvFile(o.envFile))
	}

	cfg := &config.Config{}
	if err := config.Load(serviceName, cfg, loaderOpts...); err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, cfg.Validate()
}
