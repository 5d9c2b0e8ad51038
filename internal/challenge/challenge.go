package challenge

import (
	"context"
	"strings"
	"time"

	"github.com/abhisek/studyloop/internal/apperr"
	"github.com/google/uuid"
)

// SkippedAnswer is stored as the answer of a skipped challenge.
const SkippedAnswer = "SKIPPED"

// Challenge is one daily challenge for a student.
type Challenge struct {
	ID              string
	StudentID       string
	KnowledgeBaseID string
	Type            Type
	Title           string
	Content         string
	CorrectAnswer   string
	Options         []string
	Explanation     string
	Points          int
	ScheduledFor    time.Time

	SentAt        time.Time
	AnsweredAt    time.Time
	StudentAnswer string
	// IsCorrect is nil until graded; it stays nil for answers left for
	// human review.
	IsCorrect    *bool
	PointsEarned int
	Feedback     string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func newChallenge(studentID, kbID string, t Type, scheduledFor, now time.Time) *Challenge {
	return &Challenge{
		ID:              uuid.NewString(),
		StudentID:       studentID,
		KnowledgeBaseID: kbID,
		Type:            t,
		ScheduledFor:    scheduledFor,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (c *Challenge) IsPending() bool  { return c.SentAt.IsZero() }
func (c *Challenge) IsAnswered() bool { return !c.AnsweredAt.IsZero() }

// CanBeSent reports whether the challenge is unsent and its time has come.
func (c *Challenge) CanBeSent(now time.Time) bool {
	return c.IsPending() && !c.ScheduledFor.After(now)
}

func (c *Challenge) MarkSent(now time.Time) {
	c.SentAt = now
	c.UpdatedAt = now
}

// Grade is the outcome of evaluating an answer.
type Grade struct {
	IsCorrect *bool
	// Score is 0-100.
	Score    int
	Feedback string
	// PointsPercent is the share of Points awarded, 0-1.
	PointsPercent float64
}

// Correct reports a definite correct grade.
func (g Grade) Correct() bool { return g.IsCorrect != nil && *g.IsCorrect }

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// AutoGrade compares answer to the correct answer ignoring case and
// surrounding space.
func (c *Challenge) AutoGrade(answer string) Grade {
	ok := normalize(answer) == normalize(c.CorrectAnswer)
	g := Grade{IsCorrect: &ok}
	if ok {
		g.Score, g.PointsPercent = 100, 1
	}
	return g
}

// Submit records answer with grade. A challenge is answered once.
func (c *Challenge) Submit(answer string, g Grade, now time.Time) error {
	if c.IsAnswered() {
		return apperr.InvalidState("challenge.Submit", "challenge %s was already answered", c.ID)
	}
	pct := min(max(g.PointsPercent, 0), 1)

	c.StudentAnswer = answer
	c.AnsweredAt = now
	c.IsCorrect = g.IsCorrect
	c.Feedback = g.Feedback
	c.PointsEarned = 0
	if g.IsCorrect != nil {
		c.PointsEarned = int(float64(c.Points) * pct)
	}
	c.UpdatedAt = now
	return nil
}

// Repository persists challenges.
type Repository interface {
	Save(ctx context.Context, c *Challenge) error
	FindByID(ctx context.Context, id string) (*Challenge, error)
	// SaveAnswer writes c's answer fields only while the stored challenge
	// is unanswered. Otherwise it returns an InvalidState error.
	SaveAnswer(ctx context.Context, c *Challenge) error
	// FindScheduled returns the student's challenges in kbID scheduled in
	// [from, to). An empty kbID matches every knowledge base.
	FindScheduled(ctx context.Context, studentID, kbID string, from, to time.Time) ([]*Challenge, error)
	// FindUnsent returns unsent challenges scheduled at or before until.
	FindUnsent(ctx context.Context, until time.Time) ([]*Challenge, error)
}

// dayBounds returns the start of t's calendar day and of the next.
func dayBounds(t time.Time) (time.Time, time.Time) {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
