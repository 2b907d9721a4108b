package main

import (
	"github.com/spf13/cobra"

	"github.com/rohankatakam/entitystore/internal/query"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the parse and query cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached entry in every tier",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.cache.Clear(cmd.Context()); err != nil {
			return err
		}
		a.printer.Success("Cleared cache tiers: %v", a.cache.Tiers())
		return nil
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache hit counters",
	Long: `Runs the default listing query and reports which tier served it.
Entries left by earlier runs show up as hits in the persistent tiers.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.engine.Query(cmd.Context(), query.Options{}); err != nil {
			return err
		}
		return a.printer.CacheStats(a.cache.Stats())
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
}
