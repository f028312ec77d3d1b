package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{
		configPath: envOr("GARAGE_CONFIG", "garagedesk.yaml"),
		logConfigs: envOr("GARAGE_LOG_CONFIG", ""),
	}

	root := &cobra.Command{
		Use:           "garagedesk",
		Short:         "Garage back-office API and administration tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", opts.configPath, "path to the config file (env GARAGE_CONFIG)")
	root.PersistentFlags().StringVar(&opts.logConfigs, "log-config", opts.logConfigs, "comma-separated log config files, added to log.config.json (env GARAGE_LOG_CONFIG)")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newBootstrapCmd(opts),
		newUserCmd(opts),
		newSessionCmd(opts),
	)
	return root
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
