package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var flagPruneOlderThan time.Duration

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete stories older than the retention window",
	Long: `Delete stored stories retrieved before the retention window.

Uses story_retention_days from config unless overridden with --older-than.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(flagConfig)
		if err != nil {
			return err
		}
		store, err := openStore(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		retention := cfg.StoryRetention()
		if flagPruneOlderThan > 0 {
			retention = flagPruneOlderThan
		}

		deleted, err := store.PruneStories(cmd.Context(), time.Now().Add(-retention))
		if err != nil {
			return fmt.Errorf("pruning: %w", err)
		}

		out := cmd.OutOrStdout()
		if deleted == 0 {
			fmt.Fprintln(out, "Nothing to prune.")
		} else {
			fmt.Fprintf(out, "Pruned %s stories older than %s.\n", humanize.Comma(deleted), retention)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics and the last run",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(flagConfig)
		if err != nil {
			return err
		}
		store, err := openStore(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		st, err := store.Stats(ctx)
		if err != nil {
			return err
		}
		run, err := store.LastRun(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Database: %s\n", cfg.DBPath)
		fmt.Fprintf(out, "Observations: %s\n", humanize.Comma(int64(st.Observations)))
		fmt.Fprintf(out, "Metrics: %s\n", humanize.Comma(int64(st.Metrics)))
		fmt.Fprintf(out, "Stories: %s\n", humanize.Comma(int64(st.Stories)))
		fmt.Fprintf(out, "Runs: %s\n", humanize.Comma(int64(st.Runs)))
		if run == nil {
			fmt.Fprintln(out, "Last run: never")
			return nil
		}
		status := "usable"
		if !run.Usable {
			status = "not usable"
		}
		fmt.Fprintf(out, "Last run: %s (%s, %s, %s)\n", run.ID, run.Mode, status, humanize.Time(run.FinishedAt))
		return nil
	},
}

func init() {
	pruneCmd.Flags().DurationVar(&flagPruneOlderThan, "older-than", 0, "override the retention window (e.g. 72h)")
}
