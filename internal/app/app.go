// Package app wires the store, providers and services into one App.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/abhisek/studyloop/internal/challenge"
	"github.com/abhisek/studyloop/internal/chunks"
	"github.com/abhisek/studyloop/internal/config"
	"github.com/abhisek/studyloop/internal/embedding"
	"github.com/abhisek/studyloop/internal/llm"
	"github.com/abhisek/studyloop/internal/lock"
	"github.com/abhisek/studyloop/internal/logging"
	"github.com/abhisek/studyloop/internal/notify"
	"github.com/abhisek/studyloop/internal/progress"
	"github.com/abhisek/studyloop/internal/rag"
	"github.com/abhisek/studyloop/internal/reminders"
	"github.com/abhisek/studyloop/internal/spacedrep"
	"github.com/abhisek/studyloop/internal/store"
)

// App holds every long-lived dependency of a command.
type App struct {
	Config *config.Config
	Log    *logging.Logger
	Store  *store.Store
	Events *store.EventRepo

	Students   *store.StudentRepo
	Index      *chunks.Index
	Reviews    *spacedrep.Service
	Progress   *progress.Service
	Dispatcher *notify.Dispatcher
	Reminders  *reminders.Scheduler
	Inactivity *reminders.InactivityDetector
	Evaluator  *challenge.Evaluator
	Challenges *challenge.Scheduler

	// Tutor and Generator are nil when no LLM provider is configured;
	// LLMErr says why.
	Tutor     *rag.Tutor
	Generator *challenge.Generator
	LLMErr    error
	// EmbedErr is set when no embedding provider is configured. The index
	// still ingests, but cannot backfill or retrieve.
	EmbedErr error

	closers []func() error
}

// New opens the store and builds the services from cfg. Missing LLM or
// embedding credentials are not fatal; the features that need them report
// the stored error.
func New(ctx context.Context, cfg *config.Config, log *logging.Logger) (*App, error) {
	log = logging.Or(log)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dsn := cfg.Database.DSN
	if dsn == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve database path: %w", err)
		}
		dsn = p
	}
	st, err := store.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &App{Config: cfg, Log: log, Store: st, Events: st.EventRepo(), Students: st.StudentRepo()}
	a.closers = append(a.closers, st.Close)

	locker, err := a.locker(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	embedder, err := embedding.New(ctx, cfg.Embedding)
	if err != nil {
		a.EmbedErr = fmt.Errorf("embedding provider unavailable: %w", err)
		log.Warn("embedding provider unavailable", "provider", cfg.Embedding.Provider, "error", err)
	}
	a.Index = chunks.NewIndex(st.ChunkRepo(), embedder,
		chunks.WithLogger(log),
		chunks.WithChunking(cfg.Chunking.Size, cfg.Chunking.Overlap),
		chunks.WithLeaseTTL(cfg.Chunking.LeaseTTL),
	)

	a.Reviews = spacedrep.NewService(st.ReviewRepo(), a.Index,
		spacedrep.WithLogger(log), spacedrep.WithLocker(locker))
	a.Progress = progress.NewService(st.ProgressRepo(),
		progress.WithLogger(log), progress.WithLocker(locker))

	a.Dispatcher = notify.NewDispatcher(st.NotificationRepo(), st.PreferenceRepo(), cfg.Notify.Senders(),
		notify.WithLogger(log), notify.WithMaxRetries(cfg.Notify.MaxRetries))

	a.Reminders = reminders.NewScheduler(st.ReminderRepo(), a.Dispatcher,
		reminders.WithLogger(log),
		reminders.WithConcurrency(cfg.Reminders.Concurrency),
		reminders.WithReviewSource(st.ReviewRepo(), st.ChunkRepo()),
	)
	a.Inactivity = reminders.NewInactivityDetector(a.Students, st.ConversationRepo(), a.Reminders,
		cfg.Reminders.InactivityDays)

	var (
		grader   challenge.Grader
		gen      challenge.ChallengeGenerator
		provider llm.Provider
	)
	err = cfg.LLM.Validate()
	if err == nil {
		provider, err = llm.NewProvider(ctx, cfg.LLM, a.Events, log)
	}
	if err != nil {
		a.LLMErr = fmt.Errorf("LLM provider unavailable: %w", err)
		gen = unavailableGenerator{err: a.LLMErr}
		log.Warn("LLM provider unavailable", "provider", cfg.LLM.Provider, "error", err)
	} else {
		a.Generator = challenge.NewGenerator(provider, a.Index, st.ChallengeRepo(),
			challenge.WithGeneratorLogger(log))
		gen = a.Generator
		grader = challenge.NewLLMGrader(provider, log)
		if a.EmbedErr == nil {
			retriever := rag.NewRetriever(a.Index, embedder, cfg.Retrieval.Threshold)
			a.Tutor = rag.NewTutor(retriever, provider, st.ConversationRepo(),
				rag.WithLogger(log),
				rag.WithTopK(cfg.Retrieval.TopK),
				rag.WithMaxTokens(cfg.Retrieval.MaxTokens),
			)
		}
	}

	a.Evaluator = challenge.NewEvaluator(st.ChallengeRepo(), a.Progress, grader,
		challenge.WithEvaluatorLogger(log), challenge.WithEvaluatorLocker(locker))
	a.Challenges = challenge.NewScheduler(st.ChallengeRepo(), gen, a.Dispatcher, a.Students,
		challenge.WithSchedulerLogger(log),
		challenge.WithConcurrency(cfg.Challenges.Concurrency),
		challenge.WithSendHour(cfg.Challenges.SendHour),
		challenge.WithDifficulty(cfg.Challenges.Difficulty),
	)
	return a, nil
}

// locker returns a Redis lock when one is configured so several processes
// can share a database, and an in-process lock otherwise.
func (a *App) locker(ctx context.Context) (lock.Locker, error) {
	if a.Config.Redis.Addr == "" {
		return lock.NewKeyedMutex(), nil
	}
	rl, err := lock.NewRedis(ctx, a.Config.Redis, lock.DefaultTTL)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.closers = append(a.closers, rl.Close)
	return rl, nil
}

// RequireTutor returns the tutor or the reason it is unavailable.
func (a *App) RequireTutor() (*rag.Tutor, error) {
	if a.LLMErr != nil {
		return nil, a.LLMErr
	}
	if a.EmbedErr != nil {
		return nil, a.EmbedErr
	}
	return a.Tutor, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.Log.Sync()
	return errors.Join(errs...)
}

type unavailableGenerator struct{ err error }

func (g unavailableGenerator) Generate(context.Context, challenge.GenerateRequest) (*challenge.Challenge, error) {
	return nil, g.err
}
