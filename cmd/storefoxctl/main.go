package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "storefoxctl",
	Short: "StoreFox operator commands",
	Long: `Operator commands for StoreFox: seed the plan catalog and re-run
the indexer notifications or cache purges of a store after an outage.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(plansCmd)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(sitemapCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
