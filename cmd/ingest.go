package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/abhisek/studyloop/internal/app"
	"github.com/abhisek/studyloop/internal/chunks"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|->",
	Short: "Split a text file into chunks of a knowledge base",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kbID, _ := cmd.Flags().GetString("kb")
		srcType, _ := cmd.Flags().GetString("source-type")
		page, _ := cmd.Flags().GetInt("page")
		section, _ := cmd.Flags().GetString("section")

		text, err := readInput(args[0])
		if err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			created, err := a.Index.Ingest(ctx, kbID, text, chunks.Source{Type: srcType, Page: page, Section: section})
			if err != nil {
				return err
			}
			fmt.Printf("Ingested %d chunks into %s. Run `studyloop embed` to index them.\n", len(created), kbID)
			return nil
		})
	},
}

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Compute embeddings for pending chunks",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if a.EmbedErr != nil {
				return a.EmbedErr
			}
			batch := a.Config.Chunking.BatchSize
			var total chunks.EmbedStats
			for {
				st, err := a.Index.ProcessPending(ctx, batch)
				total.Claimed += st.Claimed
				total.Embedded += st.Embedded
				total.Failed += st.Failed
				if err != nil {
					fmt.Printf("Embedded %d, failed %d before error.\n", total.Embedded, total.Failed)
					return err
				}
				if !all || st.Claimed == 0 || st.Embedded == 0 {
					break
				}
			}
			fmt.Printf("Claimed %d, embedded %d, failed %d.\n", total.Claimed, total.Embedded, total.Failed)
			return nil
		})
	},
}

var chunksCmd = &cobra.Command{
	Use:   "chunks",
	Short: "Inspect and edit knowledge-base chunks",
}

var chunksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the chunks of a knowledge base",
	RunE: func(cmd *cobra.Command, args []string) error {
		kbID, _ := cmd.Flags().GetString("kb")

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			list, err := a.Index.List(ctx, kbID)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No chunks found.")
				return nil
			}

			fmt.Printf("%-26s  %4s  %-8s  %s\n", "ID", "Pos", "Embedded", "Content")
			fmt.Println(strings.Repeat("─", 100))
			for _, c := range list {
				embedded := "no"
				if c.Embedding != nil {
					embedded = "yes"
				}
				fmt.Printf("%-26s  %4d  %-8s  %s\n", c.ID, c.Position, embedded, oneLine(c.Content, 56))
			}
			fmt.Printf("\n%d chunks\n", len(list))
			return nil
		})
	},
}

var chunksEditCmd = &cobra.Command{
	Use:   "edit <id> <file|->",
	Short: "Replace a chunk's content; it is re-embedded on the next embed run",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readInput(args[1])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			c, err := a.Index.UpdateContent(ctx, args[0], text)
			if err != nil {
				return err
			}
			fmt.Printf("Chunk %s updated and queued for embedding.\n", c.ID)
			return nil
		})
	},
}

// readInput reads a file, or stdin when path is "-".
func readInput(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// oneLine collapses whitespace and cuts s to max runes.
func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func init() {
	ingestCmd.Flags().String("kb", "", "Knowledge base ID")
	ingestCmd.Flags().String("source-type", "text", "Source type recorded on each chunk (e.g. pdf, text)")
	ingestCmd.Flags().Int("page", 0, "Source page number")
	ingestCmd.Flags().String("section", "", "Source section title")
	_ = ingestCmd.MarkFlagRequired("kb")

	embedCmd.Flags().Bool("all", false, "Keep processing batches until nothing is pending")

	chunksListCmd.Flags().String("kb", "", "Knowledge base ID")
	_ = chunksListCmd.MarkFlagRequired("kb")

	chunksCmd.AddCommand(chunksListCmd)
	chunksCmd.AddCommand(chunksEditCmd)
}
