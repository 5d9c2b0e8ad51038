package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/abhisek/studyloop/internal/app"
	"github.com/abhisek/studyloop/internal/challenge"
	"github.com/spf13/cobra"
)

var challengesCmd = &cobra.Command{
	Use:     "challenges",
	Aliases: []string{"challenge"},
	Short:   "Daily challenges: generate, send, answer",
}

var challengesGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate one challenge now",
	RunE: func(cmd *cobra.Command, args []string) error {
		studentID, kbID := studentAndKB(cmd)
		typ, _ := cmd.Flags().GetString("type")
		difficulty, _ := cmd.Flags().GetInt("difficulty")

		req := challenge.GenerateRequest{StudentID: studentID, KnowledgeBaseID: kbID, Difficulty: difficulty}
		if typ != "" {
			t, ok := challenge.ParseType(typ)
			if !ok {
				return fmt.Errorf("unknown challenge type %q", typ)
			}
			req.Type = t
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if a.Generator == nil {
				return a.LLMErr
			}
			c, err := a.Generator.Generate(ctx, req)
			if err != nil {
				return err
			}
			printChallenge(c)
			return nil
		})
	},
}

var challengesNextDayCmd = &cobra.Command{
	Use:   "next-day",
	Short: "Generate tomorrow's challenge for every active subscription",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if a.LLMErr != nil {
				return a.LLMErr
			}
			st, err := a.Challenges.GenerateNextDay(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Processed %d subscriptions: generated %d, skipped %d, failed %d.\n",
				st.StudentsProcessed, st.Generated, st.Skipped, st.Failed)
			return nil
		})
	},
}

var challengesSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send every scheduled challenge that is due",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			st, err := a.Challenges.ProcessDaily(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Processed %d: sent %d, failed %d.\n", st.Processed, st.Sent, st.Failed)
			return nil
		})
	},
}

var challengesAnswerCmd = &cobra.Command{
	Use:   "answer <id> <answer>",
	Short: "Submit an answer to a challenge",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		answer := strings.Join(args[1:], " ")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res, err := a.Evaluator.SubmitAnswer(ctx, args[0], answer)
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		})
	},
}

var challengesSkipCmd = &cobra.Command{
	Use:   "skip <id>",
	Short: "Skip a challenge without points",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res, err := a.Evaluator.Skip(ctx, args[0])
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		})
	},
}

var challengesStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show today's challenge and standing",
	RunE: func(cmd *cobra.Command, args []string) error {
		studentID, kbID := studentAndKB(cmd)
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			st, err := a.Evaluator.DailyStatus(ctx, studentID, kbID)
			if err != nil {
				return err
			}
			fmt.Printf("Streak:  %d days\n", st.CurrentStreak)
			fmt.Printf("Points:  %d (level %d, %d to next)\n", st.TotalPoints, st.Level, st.PointsToNextLevel)
			fmt.Println()
			if st.Challenge == nil {
				fmt.Println("No challenge scheduled today.")
				return nil
			}
			printChallenge(st.Challenge)
			return nil
		})
	},
}

var challengesLeaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Rank the students of a knowledge base by points",
	RunE: func(cmd *cobra.Command, args []string) error {
		kbID, _ := cmd.Flags().GetString("kb")
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			entries, err := a.Evaluator.Leaderboard(ctx, kbID, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No scores yet.")
				return nil
			}
			fmt.Printf("%4s  %-24s  %7s  %5s  %6s  %8s\n", "Rank", "Student", "Points", "Level", "Streak", "Accuracy")
			fmt.Println(strings.Repeat("─", 64))
			for _, e := range entries {
				fmt.Printf("%4d  %-24s  %7d  %5d  %6d  %7.0f%%\n",
					e.Rank, truncate(e.StudentID, 24), e.TotalPoints, e.Level, e.CurrentStreak, e.Accuracy)
			}
			return nil
		})
	},
}

func printChallenge(c *challenge.Challenge) {
	fmt.Printf("%s · %s · %d points\n", c.ID, c.Type.Label(), c.Points)
	fmt.Printf("Scheduled: %s\n\n", c.ScheduledFor.Local().Format("2006-01-02 15:04"))
	fmt.Println(c.Title)
	fmt.Println(c.Content)
	for i, opt := range c.Options {
		fmt.Printf("  %c) %s\n", 'A'+i, opt)
	}
	if c.IsAnswered() {
		fmt.Printf("\nAnswered: %s (%d points)\n", c.StudentAnswer, c.PointsEarned)
	}
}

func printResult(res *challenge.Result) {
	c := res.Challenge
	switch {
	case c.IsCorrect == nil:
		fmt.Println("Submitted for review.")
	case *c.IsCorrect:
		fmt.Printf("Correct! +%d points\n", c.PointsEarned)
	default:
		fmt.Printf("Not quite. +%d points\n", c.PointsEarned)
	}
	if c.Feedback != "" {
		fmt.Println(c.Feedback)
	}
	if c.Explanation != "" {
		fmt.Println(c.Explanation)
	}
	p := res.Progress
	fmt.Printf("\nStreak %d · %d points · level %d\n", p.CurrentStreak, p.TotalPoints, p.Level())
	for _, ach := range res.NewAchievements {
		fmt.Printf("Achievement unlocked: %s: %s\n", ach.Name, ach.Description)
	}
}

func init() {
	addStudentKBFlags(true, challengesGenerateCmd, challengesStatusCmd)
	challengesGenerateCmd.Flags().String("type", "", "Challenge type (default random): quiz, puzzle, scenario, flashcard, code, matching")
	challengesGenerateCmd.Flags().Int("difficulty", challenge.DefaultDifficulty, "Difficulty 1-5")

	challengesLeaderboardCmd.Flags().String("kb", "", "Knowledge base ID")
	challengesLeaderboardCmd.Flags().IntP("limit", "n", 10, "Number of students to show")
	_ = challengesLeaderboardCmd.MarkFlagRequired("kb")

	challengesCmd.AddCommand(challengesGenerateCmd)
	challengesCmd.AddCommand(challengesNextDayCmd)
	challengesCmd.AddCommand(challengesSendCmd)
	challengesCmd.AddCommand(challengesAnswerCmd)
	challengesCmd.AddCommand(challengesSkipCmd)
	challengesCmd.AddCommand(challengesStatusCmd)
	challengesCmd.AddCommand(challengesLeaderboardCmd)
}
