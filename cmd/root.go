package cmd

import (
	"context"
	"fmt"

	"github.com/abhisek/studyloop/internal/app"
	"github.com/abhisek/studyloop/internal/config"
	"github.com/abhisek/studyloop/internal/logging"
	"github.com/abhisek/studyloop/internal/store"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "studyloop",
	Short: "Knowledge-base tutor with spaced repetition and daily challenges",
	Long: "Studyloop answers questions from ingested study material, schedules SM-2 reviews, " +
		"sends reminders and runs daily challenges with streaks and points.",
	SilenceUsage: true,
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "SQLite path or postgres:// URL (overrides STUDYLOOP_DB)")
	rootCmd.PersistentFlags().String("config", "", "Path to config.yaml (overrides STUDYLOOP_CONFIG)")
	rootCmd.PersistentFlags().String("log-mode", "", "Log output: dev or prod")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(llmCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(embedCmd)
	rootCmd.AddCommand(chunksCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(remindersCmd)
	rootCmd.AddCommand(challengesCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(studentsCmd)
	rootCmd.AddCommand(notificationsCmd)
}

// loadConfig reads the config file and applies --db and --log-mode, which
// take priority over both the file and the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		cfg.Database.DSN = v
	}
	if v, _ := cmd.Flags().GetString("log-mode"); v != "" {
		cfg.Log.Mode = v
	}
	return cfg, nil
}

// withApp builds the App for one command and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Mode)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// withStore opens only the database, for commands that just read it.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, s *store.Store) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dsn := cfg.Database.DSN
	if dsn == "" {
		if dsn, err = store.DefaultDBPath(); err != nil {
			return fmt.Errorf("resolve database path: %w", err)
		}
	}
	ctx := cmd.Context()
	s, err := store.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer s.Close()
	return fn(ctx, s)
}
