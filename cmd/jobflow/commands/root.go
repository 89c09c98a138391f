// Package commands implements the jobflow command line.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// options holds the persistent flags. Non-empty values override the
// configuration file.
type options struct {
	configPath   string
	logLevel     string
	logFormat    string
	metricsAddr  string
	redisAddr    string
	redisChannel string
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "jobflow",
		Short: "jobflow - in-process job execution engines",
		Long: `jobflow runs demo workloads through its job execution engines.

Engines:
  - channel     FIFO drained by a polling agent
  - queue       lock-free queue gated by a counting semaphore
  - scheduled   unordered bag dispatched earliest deadline first
  - stack       lock-free stack shared by producers and consumers
  - waithandle  jobs triggered by signalled wait handles

Every lifecycle event is logged. Prometheus metrics and Redis event
publishing are enabled with --metrics-addr and --redis-addr.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format (console, json)")
	rootCmd.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.PersistentFlags().StringVar(&opts.redisAddr, "redis-addr", "", "publish lifecycle events to this Redis server")
	rootCmd.PersistentFlags().StringVar(&opts.redisChannel, "redis-channel", "", "Redis channel for lifecycle events")

	rootCmd.AddCommand(newChannelCommand(opts))
	rootCmd.AddCommand(newQueueCommand(opts))
	rootCmd.AddCommand(newScheduledCommand(opts))
	rootCmd.AddCommand(newStackCommand(opts))
	rootCmd.AddCommand(newWaitHandleCommand(opts))
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

func newVersionCommand(version, commit, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "jobflow %s\ncommit: %s\nbuilt: %s\n", version, commit, buildDate)
		},
	}
}
