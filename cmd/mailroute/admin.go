package main

import (
	"context"
	"fmt"

	"github.com/rbaliyan/mailroute/internal/app"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(migrateCmd, seedCmd, reclaimCmd)
}

// migrateCmd connects once; every store creates or upgrades its schema
// on connect.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s)\n", a.Config.Database.Type)
			return nil
		})
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create demo users and messages in an empty store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res, err := a.Engine.SeedDemo(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		})
	},
}

var reclaimCmd = &cobra.Command{
	Use:   "reclaim",
	Short: "Permanently remove trash older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res, err := a.Engine.Reclaim(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		})
	},
}
