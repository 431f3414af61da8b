// Package main provides the crash processor command.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "crashproc",
		Short: "Normalize raw crash reports into processed crashes",
		Long: "crashproc runs the crash processing rule pipeline over raw crashes\n" +
			"read from a filesystem or S3 store and saves the processed crashes.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.configPath, "config", os.Getenv("CRASHPROC_CONFIG"), "Path to YAML config file")
	f.StringVar(&opts.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	cmd.AddCommand(
		newProcessCmd(opts),
		newBatchCmd(opts),
		newSummaryCmd(opts),
		newServeMetricsCmd(opts),
		newSeedCmd(opts),
	)

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
