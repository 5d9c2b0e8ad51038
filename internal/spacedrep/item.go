// Package spacedrep schedules chunk reviews with the SM-2 algorithm.
package spacedrep

import (
	"math"
	"time"

	"github.com/abhisek/studyloop/internal/apperr"
	"github.com/google/uuid"
)

const (
	InitialEasiness = 2.5
	MinEasiness     = 1.3

	// PassingQuality is the lowest quality that counts as recalled.
	PassingQuality = 3

	// MatureIntervalDays separates learning items from mature ones.
	MatureIntervalDays = 21
)

// Review is one graded recall attempt.
type Review struct {
	At      time.Time `json:"at"`
	Quality int       `json:"quality"`
}

// Item is the review schedule of one chunk for one student.
type Item struct {
	ID              string
	StudentID       string
	KnowledgeBaseID string
	ChunkID         string

	EasinessFactor float64
	Repetitions    int
	IntervalDays   int

	// NextReviewAt is zero for an item that is due immediately.
	NextReviewAt   time.Time
	LastReviewedAt time.Time
	History        []Review

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewItem returns a fresh item that is due immediately.
func NewItem(studentID, kbID, chunkID string, now time.Time) *Item {
	return &Item{
		ID:              uuid.NewString(),
		StudentID:       studentID,
		KnowledgeBaseID: kbID,
		ChunkID:         chunkID,
		EasinessFactor:  InitialEasiness,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Review applies one SM-2 step for a quality in [0,5]. An out-of-range
// quality is rejected and leaves the item untouched.
func (it *Item) Review(quality int, now time.Time) error {
	if quality < 0 || quality > 5 {
		return apperr.InvalidInput("spacedrep.Review", "quality must be between 0 and 5, got %d", quality)
	}

	it.History = append(it.History, Review{At: now, Quality: quality})

	if quality >= PassingQuality {
		switch it.Repetitions {
		case 0:
			it.IntervalDays = 1
		case 1:
			it.IntervalDays = 6
		default:
			it.IntervalDays = int(math.Round(float64(it.IntervalDays) * it.EasinessFactor))
		}
		it.Repetitions++
	} else {
		it.Repetitions = 0
		it.IntervalDays = 1
	}

	q := float64(5 - quality)
	it.EasinessFactor = max(it.EasinessFactor+(0.1-q*(0.08+q*0.02)), MinEasiness)

	it.LastReviewedAt = now
	it.NextReviewAt = now.AddDate(0, 0, it.IntervalDays)
	it.UpdatedAt = now
	return nil
}

// IsDue reports whether the item should be reviewed at now.
func (it *Item) IsDue(now time.Time) bool {
	return it.NextReviewAt.IsZero() || !now.Before(it.NextReviewAt)
}

// OverdueDays returns how many days past due the item is. A never-scheduled
// item counts from its creation. Returns 0 if not yet due.
func (it *Item) OverdueDays(now time.Time) float64 {
	due := it.NextReviewAt
	if due.IsZero() {
		due = it.CreatedAt
	}
	if now.Before(due) {
		return 0
	}
	return now.Sub(due).Hours() / 24.0
}

// DaysUntilReview returns the number of days until the next review.
// Returns 0 if already due.
func (it *Item) DaysUntilReview(now time.Time) int {
	if it.IsDue(now) {
		return 0
	}
	return int(it.NextReviewAt.Sub(now).Hours()/24.0) + 1
}

// Status describes an item's place in the schedule.
type Status string

const (
	StatusNew      Status = "new"
	StatusLearning Status = "learning"
	StatusMature   Status = "mature"
)

// Status classifies the item by its current interval.
func (it *Item) Status() Status {
	switch {
	case len(it.History) == 0:
		return StatusNew
	case it.IntervalDays >= MatureIntervalDays:
		return StatusMature
	default:
		return StatusLearning
	}
}
