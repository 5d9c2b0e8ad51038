package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/abhisek/studyloop/internal/app"
	"github.com/abhisek/studyloop/internal/apperr"
	"github.com/abhisek/studyloop/internal/notify"
	"github.com/abhisek/studyloop/internal/store"
	"github.com/spf13/cobra"
)

var studentsCmd = &cobra.Command{
	Use:   "students",
	Short: "Manage students, subscriptions and notification preferences",
}

var studentsAddCmd = &cobra.Command{
	Use:   "add <id> [name]",
	Short: "Register a student, or rename an existing one",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st := &store.Student{ID: args[0], Name: args[0], CreatedAt: time.Now()}
		if len(args) == 2 {
			st.Name = args[1]
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Students.Save(ctx, st); err != nil {
				return err
			}
			fmt.Printf("Student %s saved.\n", st.ID)
			return nil
		})
	},
}

var studentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered students",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			list, err := a.Students.List(ctx)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No students registered.")
				return nil
			}
			for _, st := range list {
				fmt.Printf("%-24s  %-30s  %s\n", st.ID, st.Name, st.CreatedAt.Local().Format("2006-01-02"))
			}
			return nil
		})
	},
}

var studentsSubscribeCmd = &cobra.Command{
	Use:   "subscribe <student-id> <kb-id>",
	Short: "Enrol a student in daily challenges for a knowledge base",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Students.Subscribe(ctx, args[0], args[1], time.Now()); err != nil {
				return err
			}
			fmt.Printf("%s subscribed to %s.\n", args[0], args[1])
			return nil
		})
	},
}

var studentsUnsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe <student-id> <kb-id>",
	Short: "Stop daily challenges for a knowledge base",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Students.Unsubscribe(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("%s unsubscribed from %s.\n", args[0], args[1])
			return nil
		})
	},
}

var studentsPrefsCmd = &cobra.Command{
	Use:   "prefs <student-id>",
	Short: "Show or update a student's notification contacts and channel order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		studentID := args[0]
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			prefs := a.Store.PreferenceRepo()
			now := time.Now()
			p, err := prefs.FindByStudent(ctx, studentID)
			if apperr.IsNotFound(err) {
				p = notify.NewPreference(studentID, now)
			} else if err != nil {
				return err
			}

			changed := false
			for _, ch := range []notify.Channel{notify.ChannelTelegram, notify.ChannelWhatsApp, notify.ChannelEmail} {
				if f := cmd.Flags().Lookup(string(ch)); f != nil && f.Changed {
					p.SetContact(ch, f.Value.String(), now)
					changed = true
				}
			}
			if cmd.Flags().Changed("priority") {
				order, _ := cmd.Flags().GetStringSlice("priority")
				channels := make([]notify.Channel, 0, len(order))
				for _, name := range order {
					ch, ok := notify.ParseChannel(strings.TrimSpace(name))
					if !ok {
						return fmt.Errorf("unknown channel %q", name)
					}
					channels = append(channels, ch)
				}
				p.Priority = channels
				p.UpdatedAt = now
				changed = true
			}
			if cmd.Flags().Changed("enabled") {
				p.Enabled, _ = cmd.Flags().GetBool("enabled")
				p.UpdatedAt = now
				changed = true
			}
			if changed {
				if err := prefs.Save(ctx, p); err != nil {
					return err
				}
			}

			fmt.Printf("Enabled:   %v\n", p.Enabled)
			order := make([]string, len(p.Priority))
			for i, ch := range p.Priority {
				order[i] = string(ch)
			}
			fmt.Printf("Priority:  %s\n", strings.Join(order, ", "))
			for _, ch := range p.Priority {
				if c := p.Contact(ch); c != "" {
					fmt.Printf("%-9s  %s\n", ch+":", c)
				}
			}
			return nil
		})
	},
}

func init() {
	studentsPrefsCmd.Flags().String(string(notify.ChannelTelegram), "", "Telegram chat ID (empty clears)")
	studentsPrefsCmd.Flags().String(string(notify.ChannelWhatsApp), "", "WhatsApp phone number (empty clears)")
	studentsPrefsCmd.Flags().String(string(notify.ChannelEmail), "", "Email address (empty clears)")
	studentsPrefsCmd.Flags().StringSlice("priority", nil, "Channel order, e.g. email,telegram")
	studentsPrefsCmd.Flags().Bool("enabled", true, "Enable or disable all notifications")

	studentsCmd.AddCommand(studentsAddCmd)
	studentsCmd.AddCommand(studentsListCmd)
	studentsCmd.AddCommand(studentsSubscribeCmd)
	studentsCmd.AddCommand(studentsUnsubscribeCmd)
	studentsCmd.AddCommand(studentsPrefsCmd)
}
