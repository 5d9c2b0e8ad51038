package challenge

import (
	"context"
	"fmt"
	"time"

	"github.com/abhisek/studyloop/internal/apperr"
	"github.com/abhisek/studyloop/internal/lock"
	"github.com/abhisek/studyloop/internal/logging"
	"github.com/abhisek/studyloop/internal/progress"
)

// ProgressRecorder applies challenge results to progress. progress.Service
// satisfies it.
type ProgressRecorder interface {
	RecordChallenge(ctx context.Context, studentID, kbID string, correct bool, points int) (*progress.Progress, []progress.Achievement, error)
	Get(ctx context.Context, studentID, kbID string) (*progress.Progress, error)
	Leaderboard(ctx context.Context, kbID string, limit int) ([]progress.Entry, error)
}

// Result is what a student sees after answering.
type Result struct {
	Challenge       *Challenge
	Progress        *progress.Progress
	NewAchievements []progress.Achievement
}

// Evaluator grades answers and updates progress.
type Evaluator struct {
	repo     Repository
	progress ProgressRecorder
	grader   Grader
	locker   lock.Locker
	log      *logging.Logger
	now      func() time.Time
}

type EvaluatorOption func(*Evaluator)

func WithEvaluatorLogger(l *logging.Logger) EvaluatorOption {
	return func(e *Evaluator) { e.log = logging.Or(l) }
}

// WithEvaluatorLocker replaces the in-process challenge lock, e.g. with Redis.
func WithEvaluatorLocker(l lock.Locker) EvaluatorOption {
	return func(e *Evaluator) { e.locker = l }
}

func WithEvaluatorClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator creates an Evaluator. A nil grader leaves free-text answers
// ungraded.
func NewEvaluator(repo Repository, pr ProgressRecorder, g Grader, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		repo:     repo,
		progress: pr,
		grader:   g,
		locker:   lock.NewKeyedMutex(),
		log:      logging.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SubmitAnswer grades and stores answer, then records it in progress.
// Auto-gradable challenges with an expected answer are compared directly;
// others go to the grader. Submissions for the same challenge are
// serialized and only the first one is accepted.
func (e *Evaluator) SubmitAnswer(ctx context.Context, id, answer string) (*Result, error) {
	return e.answer(ctx, "challenge.SubmitAnswer", id, func(c *Challenge) (string, Grade) {
		switch {
		case c.Type.AutoGradable() && c.CorrectAnswer != "":
			return answer, c.AutoGrade(answer)
		case e.grader != nil:
			return answer, e.grader.Grade(ctx, c, answer)
		default:
			return answer, Ungraded()
		}
	})
}

// Skip closes the challenge with no points. It still counts as a completed
// challenge for the streak.
func (e *Evaluator) Skip(ctx context.Context, id string) (*Result, error) {
	return e.answer(ctx, "challenge.Skip", id, func(*Challenge) (string, Grade) {
		wrong := false
		return SkippedAnswer, Grade{IsCorrect: &wrong}
	})
}

// answer loads, grades and stores one answer while holding the challenge
// lock. The store write is also conditional on the challenge being
// unanswered.
func (e *Evaluator) answer(ctx context.Context, op, id string, grade func(*Challenge) (string, Grade)) (*Result, error) {
	unlock, err := e.locker.Lock(ctx, "challenge:"+id)
	if err != nil {
		return nil, fmt.Errorf("lock challenge %s: %w", id, err)
	}
	defer unlock()

	c, err := e.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.IsAnswered() {
		return nil, apperr.InvalidState(op, "challenge %s was already answered", c.ID)
	}
	answer, g := grade(c)
	if err := c.Submit(answer, g, e.now()); err != nil {
		return nil, err
	}
	if err := e.repo.SaveAnswer(ctx, c); err != nil {
		return nil, fmt.Errorf("save answer: %w", err)
	}
	p, earned, err := e.progress.RecordChallenge(ctx, c.StudentID, c.KnowledgeBaseID, g.Correct(), c.PointsEarned)
	if err != nil {
		return nil, fmt.Errorf("record progress: %w", err)
	}
	e.log.Info("challenge answered", "challenge_id", c.ID, "student_id", c.StudentID,
		"correct", g.Correct(), "points", c.PointsEarned)
	return &Result{Challenge: c, Progress: p, NewAchievements: earned}, nil
}

// DailyStatus summarises today's challenge and standing.
type DailyStatus struct {
	// Challenge is today's challenge, or nil.
	Challenge         *Challenge
	CurrentStreak     int
	TotalPoints       int
	Level             int
	PointsToNextLevel int
}

func (e *Evaluator) DailyStatus(ctx context.Context, studentID, kbID string) (*DailyStatus, error) {
	from, to := dayBounds(e.now())
	cs, err := e.repo.FindScheduled(ctx, studentID, kbID, from, to)
	if err != nil {
		return nil, err
	}
	p, err := e.progress.Get(ctx, studentID, kbID)
	if err != nil {
		return nil, err
	}
	st := &DailyStatus{
		CurrentStreak:     p.CurrentStreak,
		TotalPoints:       p.TotalPoints,
		Level:             p.Level(),
		PointsToNextLevel: p.PointsToNextLevel(),
	}
	if len(cs) > 0 {
		st.Challenge = cs[0]
	}
	return st, nil
}

// Leaderboard ranks students of kbID by points.
func (e *Evaluator) Leaderboard(ctx context.Context, kbID string, limit int) ([]progress.Entry, error) {
	return e.progress.Leaderboard(ctx, kbID, limit)
}
