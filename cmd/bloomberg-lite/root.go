package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"bloomberg-lite/pipeline"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	flagConfig    string
	flagFetchOnly bool
	flagGenOnly   bool
)

var rootCmd = &cobra.Command{
	Use:   "bloomberg-lite",
	Short: "Fetch economic indicators and tech news into a static dashboard",
	Long: `bloomberg-lite pulls macro indicators from FRED, the ECB and the World Bank
and stories from Hacker News, stores them in SQLite and renders a single
static HTML dashboard.

Without a subcommand it performs one run and exits non-zero when the run
did not produce a usable result.`,
	SilenceUsage: true,
	RunE:         runOnce,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "./config.yaml", "path to config file")
	rootCmd.Flags().BoolVar(&flagFetchOnly, "fetch-only", false, "fetch and store data without generating the dashboard")
	rootCmd.Flags().BoolVar(&flagGenOnly, "gen-only", false, "generate the dashboard from stored data without fetching")
	rootCmd.MarkFlagsMutuallyExclusive("fetch-only", "gen-only")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
}

func runMode() pipeline.Mode {
	switch {
	case flagFetchOnly:
		return pipeline.ModeFetchOnly
	case flagGenOnly:
		return pipeline.ModeGenOnly
	}
	return pipeline.ModeFull
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(flagConfig)
	if err != nil {
		return err
	}
	defer a.Close()

	sum, err := a.runner.Run(ctx, runMode())
	if err != nil {
		return err
	}
	if !sum.Usable() {
		return fmt.Errorf("run %s finished without a usable result", sum.RunID)
	}
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "bloomberg-lite %s (commit: %s)\n", version, commit)
	},
}
