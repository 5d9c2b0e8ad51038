package challenge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/abhisek/studyloop/internal/logging"
	"github.com/abhisek/studyloop/internal/notify"
	"golang.org/x/sync/errgroup"
)

// Notifier delivers a message to a student. notify.Dispatcher satisfies it.
type Notifier interface {
	Send(ctx context.Context, msg notify.Message) (*notify.Notification, error)
}

// Subscription links a student to a knowledge base they study.
type Subscription struct {
	StudentID       string
	KnowledgeBaseID string
}

// SubscriptionSource lists active subscriptions.
type SubscriptionSource interface {
	ActiveSubscriptions(ctx context.Context) ([]Subscription, error)
}

// ChallengeGenerator creates one challenge. *Generator satisfies it.
type ChallengeGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Challenge, error)
}

const (
	DefaultConcurrency = 4
	DefaultSendHour    = 8
)

// DailyStats summarises a send run.
type DailyStats struct {
	Processed int
	Sent      int
	Failed    int
}

// GenerationStats summarises a next-day generation run.
type GenerationStats struct {
	StudentsProcessed int
	Generated         int
	Skipped           int
	Failed            int
}

// Scheduler sends due challenges and prepares the next day's.
type Scheduler struct {
	repo        Repository
	gen         ChallengeGenerator
	notifier    Notifier
	subs        SubscriptionSource
	concurrency int
	sendHour    int
	difficulty  int
	log         *logging.Logger
	now         func() time.Time
}

type SchedulerOption func(*Scheduler)

func WithSchedulerLogger(l *logging.Logger) SchedulerOption {
	return func(s *Scheduler) { s.log = logging.Or(l) }
}

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

func WithConcurrency(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithSendHour sets the local hour next-day challenges are scheduled for.
func WithSendHour(h int) SchedulerOption {
	return func(s *Scheduler) {
		if h >= 0 && h < 24 {
			s.sendHour = h
		}
	}
}

func WithDifficulty(d int) SchedulerOption {
	return func(s *Scheduler) { s.difficulty = clampDifficulty(d) }
}

func NewScheduler(repo Repository, gen ChallengeGenerator, n Notifier, subs SubscriptionSource, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		repo:        repo,
		gen:         gen,
		notifier:    n,
		subs:        subs,
		concurrency: DefaultConcurrency,
		sendHour:    DefaultSendHour,
		difficulty:  DefaultDifficulty,
		log:         logging.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessDaily notifies students of every unsent challenge whose time has
// come and marks it sent. Failures are counted, never returned.
func (s *Scheduler) ProcessDaily(ctx context.Context) (DailyStats, error) {
	pending, err := s.repo.FindUnsent(ctx, s.now())
	if err != nil {
		return DailyStats{}, fmt.Errorf("find unsent challenges: %w", err)
	}
	s.log.Info("processing daily challenges", "pending", len(pending))

	var sent, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, c := range pending {
		g.Go(func() error {
			if err := s.send(gctx, c); err != nil {
				failed.Add(1)
				msg := "challenge send failed"
				if errors.Is(err, errNotSaved) {
					msg = "challenge sent but not saved, it will be sent again"
				}
				s.log.Error(msg, "challenge_id", c.ID, "student_id", c.StudentID, "error", err)
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	st := DailyStats{Processed: len(pending), Sent: int(sent.Load()), Failed: int(failed.Load())}
	s.log.Info("daily challenges processed", "processed", st.Processed, "sent", st.Sent, "failed", st.Failed)
	return st, nil
}

func (s *Scheduler) send(ctx context.Context, c *Challenge) error {
	content := fmt.Sprintf("Your daily challenge is ready!\n\nType: %s\nTitle: %s\nPoints: %d\n\nAnswer it to keep your streak going.",
		c.Type.Label(), c.Title, c.Points)
	if _, err := s.notifier.Send(ctx, notify.Message{
		StudentID: c.StudentID,
		Subject:   "Daily challenge",
		Content:   content,
	}); err != nil {
		return err
	}
	c.MarkSent(s.now())
	if err := s.repo.Save(ctx, c); err != nil {
		return fmt.Errorf("%w: %w", errNotSaved, err)
	}
	return nil
}

// errNotSaved marks a challenge that was delivered but whose sent time
// could not be stored.
var errNotSaved = errors.New("delivered but not saved")

// GenerateNextDay creates tomorrow's challenge for every active
// subscription, scheduled at the send hour. Pairs that already have a
// challenge tomorrow are skipped.
func (s *Scheduler) GenerateNextDay(ctx context.Context) (GenerationStats, error) {
	subs, err := s.subs.ActiveSubscriptions(ctx)
	if err != nil {
		return GenerationStats{}, fmt.Errorf("list subscriptions: %w", err)
	}

	_, from := dayBounds(s.now())
	to := from.AddDate(0, 0, 1)
	at := time.Date(from.Year(), from.Month(), from.Day(), s.sendHour, 0, 0, 0, from.Location())

	students := make(map[string]struct{})
	for _, sub := range subs {
		students[sub.StudentID] = struct{}{}
	}

	var generated, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, sub := range subs {
		g.Go(func() error {
			existing, err := s.repo.FindScheduled(gctx, sub.StudentID, sub.KnowledgeBaseID, from, to)
			if err != nil {
				failed.Add(1)
				s.log.Error("challenge lookup failed", "student_id", sub.StudentID, "error", err)
				return nil
			}
			if len(existing) > 0 {
				skipped.Add(1)
				return nil
			}
			_, err = s.gen.Generate(gctx, GenerateRequest{
				StudentID:       sub.StudentID,
				KnowledgeBaseID: sub.KnowledgeBaseID,
				Difficulty:      s.difficulty,
				ScheduledFor:    at,
			})
			if err != nil {
				failed.Add(1)
				if !errors.Is(err, ErrNoChallengeAvailable) {
					s.log.Error("challenge generation failed", "student_id", sub.StudentID, "error", err)
				}
				return nil
			}
			generated.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	st := GenerationStats{
		StudentsProcessed: len(students),
		Generated:         int(generated.Load()),
		Skipped:           int(skipped.Load()),
		Failed:            int(failed.Load()),
	}
	s.log.Info("next day challenges generated", "students", st.StudentsProcessed,
		"generated", st.Generated, "skipped", st.Skipped, "failed", st.Failed)
	return st, nil
}
