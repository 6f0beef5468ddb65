package main

import (
	"context"
	"fmt"

	"github.com/rbaliyan/mailroute/internal/app"
	"github.com/rbaliyan/mailroute/store"
	"github.com/spf13/cobra"
)

var (
	sendFrom    string
	sendTo      string
	sendSubject string
	sendBody    string
	sendRank    int

	listUser   string
	searchTerm string
)

func init() {
	sendCmd.Flags().StringVarP(&sendFrom, "from", "f", "", "sender email")
	sendCmd.Flags().StringVarP(&sendTo, "to", "t", "", "recipient email")
	sendCmd.Flags().StringVarP(&sendSubject, "subject", "s", "", "subject")
	sendCmd.Flags().StringVarP(&sendBody, "body", "b", "", "body; routing rules apply to it")
	sendCmd.Flags().IntVarP(&sendRank, "rank", "r", 0, "priority rank, 1 is most urgent (default 5)")
	_ = sendCmd.MarkFlagRequired("from")
	_ = sendCmd.MarkFlagRequired("to")

	for _, c := range []*cobra.Command{inboxCmd, stagedCmd, trashCmd} {
		c.Flags().StringVarP(&listUser, "user", "u", "", "recipient email; empty lists every recipient where supported")
	}
	inboxCmd.Flags().StringVarP(&searchTerm, "search", "q", "", "only messages whose subject contains this text")
	_ = inboxCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(sendCmd, inboxCmd, stagedCmd, trashCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Submit a message",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			from, err := a.Engine.FindUserByEmail(ctx, sendFrom)
			if err != nil {
				return fmt.Errorf("sender %s: %w", sendFrom, err)
			}
			to, err := a.Engine.FindUserByEmail(ctx, sendTo)
			if err != nil {
				return fmt.Errorf("recipient %s: %w", sendTo, err)
			}
			res, err := a.Engine.Submit(ctx, &store.Message{
				SenderID:    from.ID,
				RecipientID: to.ID,
				Subject:     sendSubject,
				Body:        sendBody,
				Rank:        sendRank,
			})
			if err != nil && res == nil {
				return err
			}
			if err != nil {
				a.Logger.Warn("message routed with error", "error", err)
			}
			return printJSON(cmd, res)
		})
	},
}

// recipient resolves --user, or store.AllRecipients when unset.
func recipient(ctx context.Context, a *app.App) (int64, error) {
	if listUser == "" {
		return store.AllRecipients, nil
	}
	u, err := a.Engine.FindUserByEmail(ctx, listUser)
	if err != nil {
		return 0, fmt.Errorf("user %s: %w", listUser, err)
	}
	return u.ID, nil
}

// listCommand runs a recipient-scoped listing and prints it.
func listCommand(list func(ctx context.Context, a *app.App, recipientID int64) ([]*store.Message, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			id, err := recipient(ctx, a)
			if err != nil {
				return err
			}
			msgs, err := list(ctx, a, id)
			if err != nil {
				return err
			}
			if msgs == nil {
				msgs = []*store.Message{}
			}
			return printJSON(cmd, msgs)
		})
	}
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "List a user's active messages, newest first",
	RunE: listCommand(func(ctx context.Context, a *app.App, id int64) ([]*store.Message, error) {
		if searchTerm != "" {
			return a.Engine.Search(ctx, id, store.FieldSubject, searchTerm)
		}
		return a.Engine.Inbox(ctx, id)
	}),
}

var stagedCmd = &cobra.Command{
	Use:   "staged",
	Short: "List staged messages",
	RunE: listCommand(func(ctx context.Context, a *app.App, id int64) ([]*store.Message, error) {
		return a.Engine.Staged(ctx, id)
	}),
}

var trashCmd = &cobra.Command{
	Use:   "trash",
	Short: "List messages trashed within the retention window",
	RunE: listCommand(func(ctx context.Context, a *app.App, id int64) ([]*store.Message, error) {
		return a.Engine.Trash(ctx, id)
	}),
}
