package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/StoreFox/internal/pkg/env"
	"github.com/ManuelReschke/StoreFox/internal/pkg/plancatalog"
)

var catalogFile string

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Plan catalog commands",
}

var plansValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a plan catalog file without touching the database",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := catalogFile
		if len(args) == 1 {
			path = args[0]
		}
		plans, err := plancatalog.LoadFile(path)
		if err != nil {
			return err
		}
		for _, p := range plans {
			rewrites := "unlimited"
			if p.Features.AIRewritesPerMonth != nil {
				rewrites = fmt.Sprint(*p.Features.AIRewritesPerMonth)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\tmaxStores=%d\tmaxPhotosPerStore=%d\taiRewrites=%s\n",
				p.ID, p.Name, p.Type, p.Features.MaxStores, p.Features.MaxPhotosPerStore, rewrites)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d plan(s) OK\n", len(plans))
		return nil
	},
}

var plansSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Upsert the plan catalog into the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		plans, err := plancatalog.LoadFile(catalogFile)
		if err != nil {
			return err
		}
		store := connect()
		if err := plancatalog.Seed(context.Background(), store, plans); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d plan(s)\n", len(plans))
		return nil
	},
}

func init() {
	plansCmd.PersistentFlags().StringVarP(&catalogFile, "file", "f",
		env.GetEnv("PLAN_CATALOG_FILE", "configs/plans.yaml"), "plan catalog file")
	plansCmd.AddCommand(plansValidateCmd)
	plansCmd.AddCommand(plansSeedCmd)
}
