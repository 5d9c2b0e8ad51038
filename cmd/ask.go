package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/abhisek/studyloop/internal/app"
	"github.com/abhisek/studyloop/internal/rag"
	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the tutor a question about a knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		studentID, _ := cmd.Flags().GetString("student")
		kbID, _ := cmd.Flags().GetString("kb")
		convID, _ := cmd.Flags().GetString("conversation")
		mode, _ := cmd.Flags().GetString("mode")
		stream, _ := cmd.Flags().GetBool("stream")

		if !rag.Mode(mode).Known() {
			return fmt.Errorf("unknown mode %q (want tutor, quiz, summary or storytelling)", mode)
		}
		req := rag.AskRequest{
			StudentID:       studentID,
			KnowledgeBaseID: kbID,
			ConversationID:  convID,
			Query:           strings.Join(args, " "),
			Mode:            rag.Mode(mode),
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			tutor, err := a.RequireTutor()
			if err != nil {
				return err
			}

			var ans *rag.Answer
			if stream {
				ans, err = tutor.AskStream(ctx, req, func(delta string) error {
					fmt.Print(delta)
					return nil
				})
				fmt.Println()
			} else {
				ans, err = tutor.Ask(ctx, req)
				if err == nil {
					fmt.Println(ans.Text)
				}
			}
			if err != nil {
				return err
			}

			if len(ans.Sources) > 0 {
				fmt.Println()
				fmt.Println("Sources")
				fmt.Println(strings.Repeat("─", 60))
				for _, src := range ans.Sources {
					fmt.Printf("%.2f  %s  %s\n", src.Score, src.ChunkID, oneLine(src.Content, 40))
				}
			}
			if ans.Conversation != nil {
				fmt.Printf("\nconversation %s · %d tokens\n", ans.Conversation.ID, ans.TokensUsed)
			}
			return nil
		})
	},
}

func init() {
	askCmd.Flags().String("student", "", "Student ID")
	askCmd.Flags().String("kb", "", "Knowledge base ID")
	askCmd.Flags().String("conversation", "", "Continue a specific conversation")
	askCmd.Flags().String("mode", string(rag.ModeTutor), "Persona: tutor, quiz, summary or storytelling")
	askCmd.Flags().Bool("stream", false, "Print the answer as it is generated")
	_ = askCmd.MarkFlagRequired("student")
	_ = askCmd.MarkFlagRequired("kb")
}
