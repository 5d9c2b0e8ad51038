package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/abhisek/studyloop/internal/apperr"
	"github.com/abhisek/studyloop/internal/lock"
	"github.com/abhisek/studyloop/internal/logging"
)

// Repository persists progress, one row per student and knowledge base.
type Repository interface {
	// Find returns a NotFound error when the student has no progress in kbID.
	Find(ctx context.Context, studentID, kbID string) (*Progress, error)
	Save(ctx context.Context, p *Progress) error
	// Top returns the highest TotalPoints first.
	Top(ctx context.Context, kbID string, limit int) ([]*Progress, error)
}

// Service records challenge results against stored progress.
type Service struct {
	repo    Repository
	tracker *Tracker
	locker  lock.Locker
	log     *logging.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(l *logging.Logger) Option { return func(s *Service) { s.log = logging.Or(l) } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithLocker(l lock.Locker) Option { return func(s *Service) { s.locker = l } }

func WithTracker(t *Tracker) Option { return func(s *Service) { s.tracker = t } }

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		tracker: NewTracker(),
		locker:  lock.NewKeyedMutex(),
		log:     logging.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns stored progress, or fresh unsaved progress for a student with
// no challenges yet.
func (s *Service) Get(ctx context.Context, studentID, kbID string) (*Progress, error) {
	p, err := s.repo.Find(ctx, studentID, kbID)
	if apperr.IsNotFound(err) {
		return New(studentID, kbID, s.now()), nil
	}
	return p, err
}

// RecordChallenge applies one challenge result and saves it. Records for
// the same student and knowledge base are serialized.
func (s *Service) RecordChallenge(ctx context.Context, studentID, kbID string, correct bool, points int) (*Progress, []Achievement, error) {
	unlock, err := s.locker.Lock(ctx, "progress:"+studentID+":"+kbID)
	if err != nil {
		return nil, nil, fmt.Errorf("lock progress: %w", err)
	}
	defer unlock()

	p, err := s.Get(ctx, studentID, kbID)
	if err != nil {
		return nil, nil, err
	}
	earned, err := s.tracker.Record(p, correct, points, s.now())
	if err != nil {
		return nil, nil, err
	}
	if err := s.repo.Save(ctx, p); err != nil {
		return nil, nil, fmt.Errorf("save progress: %w", err)
	}
	for _, a := range earned {
		s.log.Info("achievement earned", "student_id", studentID, "knowledge_base_id", kbID, "achievement", a.ID)
	}
	return p, earned, nil
}

// Entry is one leaderboard row.
type Entry struct {
	Rank          int
	StudentID     string
	TotalPoints   int
	Level         int
	CurrentStreak int
	Accuracy      float64
}

// Leaderboard ranks students of kbID by total points.
func (s *Service) Leaderboard(ctx context.Context, kbID string, limit int) ([]Entry, error) {
	if limit < 1 {
		limit = 10
	}
	ps, err := s.repo.Top(ctx, kbID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(ps))
	for i, p := range ps {
		out[i] = Entry{
			Rank:          i + 1,
			StudentID:     p.StudentID,
			TotalPoints:   p.TotalPoints,
			Level:         p.Level(),
			CurrentStreak: p.CurrentStreak,
			Accuracy:      p.Accuracy(),
		}
	}
	return out, nil
}
