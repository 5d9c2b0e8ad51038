package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/abhisek/studyloop/internal/app"
	"github.com/spf13/cobra"
)

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Inspect and retry notification deliveries",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list <student-id>",
	Short: "List a student's notifications, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			ns, err := a.Store.NotificationRepo().FindByStudent(ctx, args[0], limit)
			if err != nil {
				return err
			}
			if len(ns) == 0 {
				fmt.Println("No notifications.")
				return nil
			}
			fmt.Printf("%-36s  %-16s  %-9s  %-9s  %5s  %s\n", "ID", "Created", "Channel", "Status", "Tries", "Subject")
			fmt.Println(strings.Repeat("─", 110))
			for _, n := range ns {
				fmt.Printf("%-36s  %-16s  %-9s  %-9s  %5d  %s\n",
					n.ID, n.CreatedAt.Local().Format("2006-01-02 15:04"), n.Channel, n.Status, n.RetryCount,
					oneLine(n.Subject, 30))
				if n.Error != "" {
					fmt.Printf("%38s%s\n", "", oneLine(n.Error, 70))
				}
			}
			return nil
		})
	},
}

var notificationsRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Retry a failed notification on its original channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			n, err := a.Dispatcher.Retry(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Notification %s is %s after %d retries.\n", n.ID, n.Status, n.RetryCount)
			return nil
		})
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read <id>",
	Short: "Mark a notification as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.Dispatcher.MarkRead(ctx, args[0])
		})
	},
}

func init() {
	notificationsListCmd.Flags().IntP("limit", "n", 20, "Number of notifications to show (0 = all)")

	notificationsCmd.AddCommand(notificationsListCmd)
	notificationsCmd.AddCommand(notificationsRetryCmd)
	notificationsCmd.AddCommand(notificationsReadCmd)
}
