// Package progress tracks challenge streaks, points, levels and
// achievements per student and knowledge base.
package progress

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Achievement is a badge earned once.
type Achievement struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	EarnedAt    time.Time `json:"earned_at"`
}

// Progress is a student's standing in one knowledge base.
type Progress struct {
	ID                  string
	StudentID           string
	KnowledgeBaseID     string
	CurrentStreak       int
	LongestStreak       int
	TotalPoints         int
	ChallengesCompleted int
	ChallengesCorrect   int
	// LastChallengeAt is zero until the first challenge is recorded.
	LastChallengeAt time.Time
	Achievements    map[string]Achievement
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// New returns empty progress.
func New(studentID, kbID string, now time.Time) *Progress {
	return &Progress{
		ID:              uuid.NewString(),
		StudentID:       studentID,
		KnowledgeBaseID: kbID,
		Achievements:    map[string]Achievement{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Accuracy is the percentage of correct challenges, rounded to two
// decimals. Zero before the first challenge.
func (p *Progress) Accuracy() float64 {
	if p.ChallengesCompleted == 0 {
		return 0
	}
	pct := float64(p.ChallengesCorrect) / float64(p.ChallengesCompleted) * 100
	return math.Round(pct*100) / 100
}

func (p *Progress) Has(achievementID string) bool {
	_, ok := p.Achievements[achievementID]
	return ok
}

// grant adds a once only; it reports whether a was new.
func (p *Progress) grant(a Achievement) bool {
	if p.Has(a.ID) {
		return false
	}
	if p.Achievements == nil {
		p.Achievements = map[string]Achievement{}
	}
	p.Achievements[a.ID] = a
	return true
}

const (
	firstLevelPoints = 100
	levelGrowth      = 1.5
)

// Level starts at 1. Each level costs 1.5 times the previous one, starting
// at 100 points.
func (p *Progress) Level() int {
	level, cost, left := 1, firstLevelPoints, p.TotalPoints
	for left >= cost {
		left -= cost
		cost = int(float64(cost) * levelGrowth)
		level++
	}
	return level
}

// PointsToNextLevel is how many more points reach Level()+1.
func (p *Progress) PointsToNextLevel() int {
	need, cost := 0, firstLevelPoints
	for i := 1; i <= p.Level(); i++ {
		need += cost
		cost = int(float64(cost) * levelGrowth)
	}
	return need - p.TotalPoints
}
