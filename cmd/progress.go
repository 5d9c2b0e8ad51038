package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/abhisek/studyloop/internal/app"
	"github.com/spf13/cobra"
)

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Show a student's streak, points and achievements",
	RunE: func(cmd *cobra.Command, args []string) error {
		studentID, kbID := studentAndKB(cmd)
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			p, err := a.Progress.Get(ctx, studentID, kbID)
			if err != nil {
				return err
			}

			fmt.Printf("Student:     %s\n", p.StudentID)
			fmt.Printf("Knowledge:   %s\n", p.KnowledgeBaseID)
			fmt.Printf("Level:       %d (%d points, %d to next)\n", p.Level(), p.TotalPoints, p.PointsToNextLevel())
			fmt.Printf("Streak:      %d days (longest %d)\n", p.CurrentStreak, p.LongestStreak)
			fmt.Printf("Challenges:  %d completed, %d correct (%.0f%%)\n",
				p.ChallengesCompleted, p.ChallengesCorrect, p.Accuracy())
			if !p.LastChallengeAt.IsZero() {
				fmt.Printf("Last:        %s\n", p.LastChallengeAt.Local().Format("2006-01-02 15:04"))
			}

			if len(p.Achievements) == 0 {
				return nil
			}
			achs := make([]string, 0, len(p.Achievements))
			for _, ach := range p.Achievements {
				achs = append(achs, fmt.Sprintf("%s  %-20s  %s",
					ach.EarnedAt.Local().Format("2006-01-02"), ach.Name, ach.Description))
			}
			sort.Strings(achs)
			fmt.Println()
			fmt.Println("Achievements")
			fmt.Println(strings.Repeat("─", 72))
			for _, line := range achs {
				fmt.Println(line)
			}
			return nil
		})
	},
}

func init() {
	addStudentKBFlags(true, progressCmd)
}
