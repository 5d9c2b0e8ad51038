package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/abhisek/studyloop/internal/app"
	"github.com/abhisek/studyloop/internal/reminders"
	"github.com/spf13/cobra"
)

var remindersCmd = &cobra.Command{
	Use:   "reminders",
	Short: "Create, list and send reminders",
}

var remindersSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send every due reminder",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res, err := a.Reminders.SendDue(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Sent %d, failed %d.\n", res.Sent, res.Failed)
			return nil
		})
	},
}

var remindersReviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Nudge students about review items that are due",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res, err := a.Reminders.SendReviewReminders(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%d items due: sent %d, failed %d.\n", res.TotalDue, res.Sent, res.Failed)
			return nil
		})
	},
}

var remindersInactivityCmd = &cobra.Command{
	Use:   "inactivity",
	Short: "Schedule nudges for students who stopped studying",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			found, err := a.Inactivity.Detect(ctx)
			if err != nil {
				return err
			}
			if len(found) == 0 {
				fmt.Println("Everyone is active.")
				return nil
			}
			for _, in := range found {
				fmt.Printf("%-24s  inactive %d days\n", in.StudentID, in.DaysInactive)
			}
			return nil
		})
	},
}

var remindersExamCmd = &cobra.Command{
	Use:   "exam <YYYY-MM-DD>",
	Short: "Schedule reminders a week and a day before an exam",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		studentID, kbID := studentAndKB(cmd)
		examDate, err := time.ParseInLocation("2006-01-02", args[0], time.Local)
		if err != nil {
			return fmt.Errorf("invalid exam date %q: %w", args[0], err)
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			rs, err := a.Reminders.ScheduleExamReminder(ctx, studentID, kbID, examDate)
			if err != nil {
				return err
			}
			printReminders(rs)
			return nil
		})
	},
}

var remindersCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a custom reminder",
	RunE: func(cmd *cobra.Command, args []string) error {
		studentID, kbID := studentAndKB(cmd)
		typ, _ := cmd.Flags().GetString("type")
		title, _ := cmd.Flags().GetString("title")
		message, _ := cmd.Flags().GetString("message")
		at, _ := cmd.Flags().GetString("at")
		repeat, _ := cmd.Flags().GetString("repeat")
		priority, _ := cmd.Flags().GetFloat64("priority")

		scheduled := time.Now()
		if at != "" {
			t, err := time.ParseInLocation("2006-01-02 15:04", at, time.Local)
			if err != nil {
				return fmt.Errorf("invalid --at %q (want YYYY-MM-DD HH:MM): %w", at, err)
			}
			scheduled = t
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			r, err := a.Reminders.Create(ctx, reminders.NewReminder{
				StudentID:       studentID,
				KnowledgeBaseID: kbID,
				Type:            reminders.Type(typ),
				Title:           title,
				Message:         message,
				ScheduledAt:     scheduled,
				Recurring:       repeat != "",
				Pattern:         repeat,
				Priority:        priority,
			})
			if err != nil {
				return err
			}
			printReminders([]*reminders.Reminder{r})
			return nil
		})
	},
}

var remindersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a student's active reminders",
	RunE: func(cmd *cobra.Command, args []string) error {
		studentID, _ := studentAndKB(cmd)
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			rs, err := a.Reminders.Active(ctx, studentID)
			if err != nil {
				return err
			}
			if len(rs) == 0 {
				fmt.Println("No active reminders.")
				return nil
			}
			printReminders(rs)
			return nil
		})
	},
}

var remindersCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Deactivate a reminder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Reminders.Cancel(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Reminder %s cancelled.\n", args[0])
			return nil
		})
	},
}

func printReminders(rs []*reminders.Reminder) {
	fmt.Printf("%-36s  %-20s  %-16s  %4s  %-8s  %s\n", "ID", "Type", "Scheduled", "Prio", "Repeat", "Title")
	fmt.Println(strings.Repeat("─", 110))
	for _, r := range rs {
		repeat := "-"
		if r.Recurring {
			repeat = r.Pattern
		}
		fmt.Printf("%-36s  %-20s  %-16s  %4.1f  %-8s  %s\n",
			r.ID, r.Type, r.ScheduledAt.Local().Format("2006-01-02 15:04"), r.Priority, repeat, oneLine(r.Title, 30))
	}
}

func init() {
	addStudentKBFlags(true, remindersExamCmd)
	addStudentKBFlags(false, remindersCreateCmd, remindersListCmd)
	remindersCreateCmd.Flags().String("type", string(reminders.TypeCustom), "Reminder type")
	remindersCreateCmd.Flags().String("title", "", "Title")
	remindersCreateCmd.Flags().String("message", "", "Message body")
	remindersCreateCmd.Flags().String("at", "", "Send time as YYYY-MM-DD HH:MM (default now)")
	remindersCreateCmd.Flags().String("repeat", "", "Recurrence: daily, weekly or monthly")
	remindersCreateCmd.Flags().Float64("priority", 0, "Priority (0 = type default)")

	remindersCmd.AddCommand(remindersSendCmd)
	remindersCmd.AddCommand(remindersReviewCmd)
	remindersCmd.AddCommand(remindersInactivityCmd)
	remindersCmd.AddCommand(remindersExamCmd)
	remindersCmd.AddCommand(remindersCreateCmd)
	remindersCmd.AddCommand(remindersListCmd)
	remindersCmd.AddCommand(remindersCancelCmd)
}
