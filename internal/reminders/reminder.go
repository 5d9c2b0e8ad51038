// Package reminders schedules and sends student reminders: one-off and
// recurring reminders, exam preparation, inactivity nudges and spaced
// repetition review prompts.
package reminders

import (
	"cmp"
	"context"
	"slices"
	"time"
)

// Type classifies a reminder and sets its default priority.
type Type string

const (
	TypeSpacedRepetition  Type = "spaced_repetition"
	TypeInactivity        Type = "inactivity"
	TypeExamPrep          Type = "exam_prep"
	TypeStreakMaintenance Type = "streak_maintenance"
	TypeCustom            Type = "custom"
	TypeContentSuggestion Type = "content_suggestion"
)

var defaultPriority = map[Type]float64{
	TypeExamPrep:          2.0,
	TypeStreakMaintenance: 1.5,
	TypeSpacedRepetition:  1.2,
	TypeInactivity:        1.0,
	TypeContentSuggestion: 0.8,
	TypeCustom:            1.0,
}

// ParseType validates a type name.
func ParseType(s string) (Type, bool) {
	t := Type(s)
	_, ok := defaultPriority[t]
	return t, ok
}

// DefaultPriority returns the priority used when a reminder is created
// without one.
func (t Type) DefaultPriority() float64 {
	if p, ok := defaultPriority[t]; ok {
		return p
	}
	return 1.0
}

// Recurrence patterns understood by MarkAsSent.
const (
	Daily   = "daily"
	Weekly  = "weekly"
	Monthly = "monthly"
)

// ValidPattern reports whether p is a recognized recurrence pattern.
func ValidPattern(p string) bool {
	switch p {
	case Daily, Weekly, Monthly:
		return true
	}
	return false
}

// Reminder is a message scheduled for a student.
type Reminder struct {
	ID              string
	StudentID       string
	KnowledgeBaseID string
	Type            Type
	Title           string
	Message         string
	ScheduledAt     time.Time
	Recurring       bool
	Pattern         string
	Priority        float64
	Active          bool
	SentAt          time.Time
	SendCount       int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsDue reports whether the reminder is active and scheduled at or before now.
func (r *Reminder) IsDue(now time.Time) bool {
	return r.Active && !r.ScheduledAt.After(now)
}

// MarkAsSent records a send. A recurring reminder with a recognized pattern
// moves forward one unit and stays active; anything else deactivates.
func (r *Reminder) MarkAsSent(now time.Time) {
	r.SentAt = now
	r.SendCount++
	r.UpdatedAt = now

	if !r.Recurring {
		r.Active = false
		return
	}
	switch r.Pattern {
	case Daily:
		r.ScheduledAt = r.ScheduledAt.AddDate(0, 0, 1)
	case Weekly:
		r.ScheduledAt = r.ScheduledAt.AddDate(0, 0, 7)
	case Monthly:
		r.ScheduledAt = r.ScheduledAt.AddDate(0, 1, 0)
	default:
		r.Active = false
	}
}

func (r *Reminder) Deactivate(now time.Time) {
	r.Active = false
	r.UpdatedAt = now
}

// SortDue orders reminders by priority descending, then earliest scheduled
// first, then by id.
func SortDue(rs []*Reminder) {
	slices.SortStableFunc(rs, func(a, b *Reminder) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		if c := a.ScheduledAt.Compare(b.ScheduledAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// Repository persists reminders.
type Repository interface {
	Save(ctx context.Context, r *Reminder) error
	FindByID(ctx context.Context, id string) (*Reminder, error)
	// FindDue returns active reminders scheduled at or before now, in any
	// order.
	FindDue(ctx context.Context, now time.Time) ([]*Reminder, error)
	FindActiveByStudent(ctx context.Context, studentID string) ([]*Reminder, error)
	Delete(ctx context.Context, id string) error
}
