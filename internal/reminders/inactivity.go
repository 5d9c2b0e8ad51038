package reminders

import (
	"context"
	"fmt"

	"github.com/abhisek/studyloop/internal/conversation"
)

// DefaultInactivityDays is how many idle days trigger a nudge.
const DefaultInactivityDays = 3

// StudentLister lists every student id.
type StudentLister interface {
	ListStudentIDs(ctx context.Context) ([]string, error)
}

// ConversationFinder lists a student's conversations.
type ConversationFinder interface {
	FindByStudent(ctx context.Context, studentID string) ([]*conversation.Conversation, error)
}

var inactivityMessages = map[int]string{
	3:  "We miss you! It has been 3 days since you last practised. Everything OK?",
	7:  "Your streak is cooling down. Let's warm it back up!",
	14: "Need a hand? It has been two weeks since you studied. I'm here to help.",
	30: "Don't give up on your learning. Every small step counts!",
}

const inactivityFallback = "Ready to pick up where you left off?"

// InactivityMessage returns the nudge text for an exact idle day count.
func InactivityMessage(days int) string {
	if m, ok := inactivityMessages[days]; ok {
		return m
	}
	return inactivityFallback
}

// Inactive is a student who received an inactivity reminder.
type Inactive struct {
	StudentID    string
	DaysInactive int
}

// InactivityDetector creates reminders for students who stopped chatting.
type InactivityDetector struct {
	students  StudentLister
	convs     ConversationFinder
	scheduler *Scheduler
	threshold int
}

// NewInactivityDetector creates a detector; thresholdDays < 1 uses
// DefaultInactivityDays.
func NewInactivityDetector(students StudentLister, convs ConversationFinder, s *Scheduler, thresholdDays int) *InactivityDetector {
	if thresholdDays < 1 {
		thresholdDays = DefaultInactivityDays
	}
	return &InactivityDetector{students: students, convs: convs, scheduler: s, threshold: thresholdDays}
}

// Detect checks every student and creates one inactivity reminder for each
// whose last conversation activity is at least the threshold ago. Students
// without conversations are skipped.
func (d *InactivityDetector) Detect(ctx context.Context) ([]Inactive, error) {
	ids, err := d.students.ListStudentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	now := d.scheduler.now()

	var out []Inactive
	for _, id := range ids {
		convs, err := d.convs.FindByStudent(ctx, id)
		if err != nil {
			return out, fmt.Errorf("conversations of %s: %w", id, err)
		}
		if len(convs) == 0 {
			continue
		}
		last := convs[0].LastActivity()
		for _, c := range convs[1:] {
			if at := c.LastActivity(); at.After(last) {
				last = at
			}
		}

		days := int(now.Sub(last).Hours() / 24)
		if days < d.threshold {
			continue
		}
		if _, err := d.scheduler.Create(ctx, NewReminder{
			StudentID:   id,
			Type:        TypeInactivity,
			Title:       "We miss you",
			Message:     InactivityMessage(days),
			ScheduledAt: now,
		}); err != nil {
			return out, err
		}
		out = append(out, Inactive{StudentID: id, DaysInactive: days})
	}
	d.scheduler.log.Info("inactivity detection completed", "checked", len(ids), "notified", len(out))
	return out, nil
}
