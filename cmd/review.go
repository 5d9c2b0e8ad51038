package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abhisek/studyloop/internal/app"
	"github.com/abhisek/studyloop/internal/apperr"
	"github.com/spf13/cobra"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Spaced repetition reviews of knowledge-base chunks",
}

var reviewInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create review items for every chunk of a knowledge base",
	RunE: func(cmd *cobra.Command, args []string) error {
		studentID, kbID := studentAndKB(cmd)
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			n, err := a.Reviews.InitializeForStudent(ctx, studentID, kbID)
			if err != nil {
				return err
			}
			fmt.Printf("Created %d review items.\n", n)
			return nil
		})
	},
}

var reviewDueCmd = &cobra.Command{
	Use:   "due",
	Short: "List items due for review, most overdue first",
	RunE: func(cmd *cobra.Command, args []string) error {
		studentID, kbID := studentAndKB(cmd)
		limit, _ := cmd.Flags().GetInt("limit")

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			items, err := a.Reviews.DueItems(ctx, studentID, kbID, limit)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Println("Nothing to review. Well done!")
				return nil
			}

			now := time.Now()
			fmt.Printf("%-36s  %-8s  %7s  %s\n", "Item", "Status", "Overdue", "Content")
			fmt.Println(strings.Repeat("─", 100))
			for _, it := range items {
				content := "(chunk missing)"
				if c, err := a.Index.Get(ctx, it.ChunkID); err == nil {
					content = oneLine(c.Content, 40)
				} else if !apperr.IsNotFound(err) {
					return err
				}
				fmt.Printf("%-36s  %-8s  %6.1fd  %s\n", it.ID, it.Status(), it.OverdueDays(now), content)
			}
			return nil
		})
	},
}

var reviewRateCmd = &cobra.Command{
	Use:   "rate <item-id> <quality 0-5>",
	Short: "Record how well an item was recalled",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		quality, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid quality %q: %w", args[1], err)
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			it, err := a.Reviews.ReviewItem(ctx, args[0], quality)
			if err != nil {
				return err
			}
			fmt.Printf("Next review in %d day(s), on %s (easiness %.2f, repetitions %d).\n",
				it.IntervalDays, it.NextReviewAt.Local().Format("2006-01-02"), it.EasinessFactor, it.Repetitions)
			return nil
		})
	},
}

var reviewStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise a student's review schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		studentID, kbID := studentAndKB(cmd)
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			st, err := a.Reviews.Stats(ctx, studentID, kbID)
			if err != nil {
				return err
			}
			fmt.Printf("Total:     %d\n", st.Total)
			fmt.Printf("Due:       %d\n", st.Due)
			fmt.Printf("New:       %d\n", st.New)
			fmt.Printf("Learning:  %d\n", st.Learning)
			fmt.Printf("Mature:    %d\n", st.Mature)
			fmt.Printf("Easiness:  %.2f avg\n", st.AverageEasiness)
			return nil
		})
	},
}

// studentAndKB reads the --student and --kb flags.
func studentAndKB(cmd *cobra.Command) (string, string) {
	studentID, _ := cmd.Flags().GetString("student")
	kbID, _ := cmd.Flags().GetString("kb")
	return studentID, kbID
}

// addStudentKBFlags registers --student (required) and --kb on each command.
func addStudentKBFlags(kbRequired bool, cmds ...*cobra.Command) {
	for _, c := range cmds {
		c.Flags().String("student", "", "Student ID")
		c.Flags().String("kb", "", "Knowledge base ID")
		_ = c.MarkFlagRequired("student")
		if kbRequired {
			_ = c.MarkFlagRequired("kb")
		}
	}
}

func init() {
	addStudentKBFlags(true, reviewInitCmd)
	addStudentKBFlags(false, reviewDueCmd, reviewStatsCmd)
	reviewDueCmd.Flags().IntP("limit", "n", 20, "Maximum items to show (0 = all)")

	reviewCmd.AddCommand(reviewInitCmd)
	reviewCmd.AddCommand(reviewDueCmd)
	reviewCmd.AddCommand(reviewRateCmd)
	reviewCmd.AddCommand(reviewStatsCmd)
}
