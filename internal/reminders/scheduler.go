package reminders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/abhisek/studyloop/internal/apperr"
	"github.com/abhisek/studyloop/internal/chunks"
	"github.com/abhisek/studyloop/internal/logging"
	"github.com/abhisek/studyloop/internal/notify"
	"github.com/abhisek/studyloop/internal/spacedrep"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Notifier delivers a message to a student. notify.Dispatcher satisfies it.
type Notifier interface {
	Send(ctx context.Context, msg notify.Message) (*notify.Notification, error)
}

// DueItemSource lists review items due across all students.
type DueItemSource interface {
	FindDue(ctx context.Context, now time.Time) ([]*spacedrep.Item, error)
}

// ChunkFinder loads a chunk by id.
type ChunkFinder interface {
	FindByID(ctx context.Context, id string) (*chunks.Chunk, error)
}

const (
	DefaultConcurrency = 4
	previewLen         = 200
)

// BatchResult counts the outcome of a send batch.
type BatchResult struct {
	Sent   int
	Failed int
}

// ReviewResult counts the outcome of a spaced repetition reminder batch.
type ReviewResult struct {
	Sent     int
	Failed   int
	TotalDue int
}

// Scheduler creates reminders and sends the due ones.
type Scheduler struct {
	repo        Repository
	notifier    Notifier
	items       DueItemSource
	chunks      ChunkFinder
	concurrency int
	log         *logging.Logger
	now         func() time.Time
}

type Option func(*Scheduler)

func WithLogger(l *logging.Logger) Option { return func(s *Scheduler) { s.log = logging.Or(l) } }

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// WithConcurrency bounds how many sends run at once.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithReviewSource enables SendReviewReminders.
func WithReviewSource(items DueItemSource, cf ChunkFinder) Option {
	return func(s *Scheduler) {
		s.items = items
		s.chunks = cf
	}
}

func NewScheduler(repo Repository, n Notifier, opts ...Option) *Scheduler {
	s := &Scheduler{
		repo:        repo,
		notifier:    n,
		concurrency: DefaultConcurrency,
		log:         logging.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewReminder describes a reminder to create. A zero Priority takes the
// type's default.
type NewReminder struct {
	StudentID       string
	KnowledgeBaseID string
	Type            Type
	Title           string
	Message         string
	ScheduledAt     time.Time
	Recurring       bool
	Pattern         string
	Priority        float64
}

// Create validates and saves a new active reminder. Recurring reminders
// must name a recognized pattern.
func (s *Scheduler) Create(ctx context.Context, in NewReminder) (*Reminder, error) {
	const op = "reminders.Create"
	if in.StudentID == "" {
		return nil, apperr.InvalidInput(op, "student is required")
	}
	if _, ok := ParseType(string(in.Type)); !ok {
		return nil, apperr.InvalidInput(op, "unknown reminder type %q", in.Type)
	}
	if strings.TrimSpace(in.Title) == "" && strings.TrimSpace(in.Message) == "" {
		return nil, apperr.InvalidInput(op, "title or message is required")
	}
	if in.ScheduledAt.IsZero() {
		return nil, apperr.InvalidInput(op, "scheduled time is required")
	}
	if in.Recurring && !ValidPattern(in.Pattern) {
		return nil, apperr.InvalidInput(op, "unknown recurrence pattern %q (want daily, weekly or monthly)", in.Pattern)
	}
	if in.Priority < 0 {
		return nil, apperr.InvalidInput(op, "priority must not be negative")
	}
	if in.Priority == 0 {
		in.Priority = in.Type.DefaultPriority()
	}

	now := s.now()
	r := &Reminder{
		ID:              uuid.NewString(),
		StudentID:       in.StudentID,
		KnowledgeBaseID: in.KnowledgeBaseID,
		Type:            in.Type,
		Title:           in.Title,
		Message:         in.Message,
		ScheduledAt:     in.ScheduledAt,
		Recurring:       in.Recurring,
		Pattern:         in.Pattern,
		Priority:        in.Priority,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if !r.Recurring {
		r.Pattern = ""
	}
	if err := s.repo.Save(ctx, r); err != nil {
		return nil, fmt.Errorf("save reminder: %w", err)
	}
	s.log.Info("reminder created", "reminder_id", r.ID, "student_id", r.StudentID, "type", r.Type)
	return r, nil
}

// FindDue returns the reminders due now, highest priority first.
func (s *Scheduler) FindDue(ctx context.Context) ([]*Reminder, error) {
	now := s.now()
	rs, err := s.repo.FindDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("find due reminders: %w", err)
	}
	due := rs[:0]
	for _, r := range rs {
		if r.IsDue(now) {
			due = append(due, r)
		}
	}
	SortDue(due)
	return due, nil
}

// SendDue sends every due reminder. A failed send or save is counted and
// logged and never stops the batch; the returned error only reports a
// failure to list the due reminders.
func (s *Scheduler) SendDue(ctx context.Context) (BatchResult, error) {
	due, err := s.FindDue(ctx)
	if err != nil {
		return BatchResult{}, err
	}

	var sent, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, r := range due {
		g.Go(func() error {
			if err := s.sendOne(gctx, r); err != nil {
				failed.Add(1)
				msg := "reminder send failed"
				if errors.Is(err, errNotSaved) {
					msg = "reminder sent but not saved, it will be sent again"
				}
				s.log.Error(msg, "reminder_id", r.ID, "student_id", r.StudentID, "error", err)
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := BatchResult{Sent: int(sent.Load()), Failed: int(failed.Load())}
	s.log.Info("due reminders processed", "sent", res.Sent, "failed", res.Failed)
	return res, nil
}

func (s *Scheduler) sendOne(ctx context.Context, r *Reminder) error {
	if _, err := s.notifier.Send(ctx, notify.Message{
		StudentID: r.StudentID,
		Subject:   r.Title,
		Content:   r.Message,
	}); err != nil {
		return err
	}
	r.MarkAsSent(s.now())
	if err := s.repo.Save(ctx, r); err != nil {
		return fmt.Errorf("%w: %w", errNotSaved, err)
	}
	return nil
}

// errNotSaved marks a reminder that was delivered but whose new schedule
// could not be stored.
var errNotSaved = errors.New("delivered but not saved")

// ScheduleExamReminder creates two reminders ahead of examDate: one a week
// before and one the day before, the latter at a higher priority.
func (s *Scheduler) ScheduleExamReminder(ctx context.Context, studentID, kbID string, examDate time.Time) ([]*Reminder, error) {
	date := examDate.Format("Jan 2, 2006")
	specs := []NewReminder{
		{
			Title:       "Exam in 7 days",
			Message:     fmt.Sprintf("Your exam is on %s. Time to start reviewing!", date),
			ScheduledAt: examDate.AddDate(0, 0, -7),
			Priority:    2.0,
		},
		{
			Title:       "Exam tomorrow",
			Message:     "Your exam is tomorrow! One last review is recommended.",
			ScheduledAt: examDate.AddDate(0, 0, -1),
			Priority:    3.0,
		},
	}

	out := make([]*Reminder, 0, len(specs))
	for _, in := range specs {
		in.StudentID = studentID
		in.KnowledgeBaseID = kbID
		in.Type = TypeExamPrep
		r, err := s.Create(ctx, in)
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Cancel deactivates a reminder.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	r, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	r.Deactivate(s.now())
	return s.repo.Save(ctx, r)
}

// Active lists a student's active reminders, earliest first.
func (s *Scheduler) Active(ctx context.Context, studentID string) ([]*Reminder, error) {
	rs, err := s.repo.FindActiveByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	SortDue(rs)
	return rs, nil
}

// SendReviewReminders prompts students about every due review item with a
// preview of the chunk. Items whose chunk no longer exists are skipped.
func (s *Scheduler) SendReviewReminders(ctx context.Context) (ReviewResult, error) {
	if s.items == nil || s.chunks == nil {
		return ReviewResult{}, apperr.InvalidState("reminders.SendReviewReminders", "no review source configured")
	}
	items, err := s.items.FindDue(ctx, s.now())
	if err != nil {
		return ReviewResult{}, fmt.Errorf("find due review items: %w", err)
	}

	var sent, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, it := range items {
		g.Go(func() error {
			c, err := s.chunks.FindByID(gctx, it.ChunkID)
			if apperr.IsNotFound(err) {
				s.log.Warn("review item chunk missing", "item_id", it.ID, "chunk_id", it.ChunkID)
				return nil
			}
			if err == nil {
				_, err = s.notifier.Send(gctx, notify.Message{
					StudentID: it.StudentID,
					Subject:   "Time to review",
					Content:   reviewMessage(c.Content),
				})
			}
			if err != nil {
				failed.Add(1)
				s.log.Error("review reminder failed", "item_id", it.ID, "student_id", it.StudentID, "error", err)
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := ReviewResult{Sent: int(sent.Load()), Failed: int(failed.Load()), TotalDue: len(items)}
	s.log.Info("review reminders processed", "sent", res.Sent, "failed", res.Failed, "total_due", res.TotalDue)
	return res, nil
}

func reviewMessage(content string) string {
	var b strings.Builder
	b.WriteString("Time to review this concept:\n")
	b.WriteString(preview(content, previewLen))
	b.WriteString("...\n\nHow well do you remember it? (0-5)")
	return b.String()
}

// preview cuts s to at most n runes.
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
