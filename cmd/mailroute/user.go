package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rbaliyan/mailroute/internal/app"
	"github.com/spf13/cobra"
)

var (
	userName       string
	userEmail      string
	userCredential string
)

func init() {
	userCreateCmd.Flags().StringVarP(&userName, "name", "n", "", "display name")
	userCreateCmd.Flags().StringVarP(&userEmail, "email", "e", "", "email, unique")
	userCreateCmd.Flags().StringVarP(&userCredential, "credential", "p", "", "credential")
	for _, f := range []string{"name", "email", "credential"} {
		_ = userCreateCmd.MarkFlagRequired(f)
	}

	userCmd.AddCommand(userCreateCmd, userListCmd, userDeleteCmd)
	rootCmd.AddCommand(userCmd)
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			u, err := a.Engine.CreateUser(ctx, userName, userEmail, userCredential)
			if err != nil {
				return err
			}
			return printJSON(cmd, u)
		})
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			users, err := a.Engine.ListUsers(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, users)
		})
	},
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a user and every message they sent or received",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid user id %q", args[0])
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			n, err := a.Engine.DeleteUser(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted user %d and %d messages\n", id, n)
			return nil
		})
	},
}
