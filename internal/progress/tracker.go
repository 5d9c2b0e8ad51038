package progress

import (
	"time"

	"github.com/abhisek/studyloop/internal/apperr"
)

// Rule awards an achievement when Earned holds after a record.
type Rule struct {
	ID          string
	Name        string
	Description string
	Earned      func(p *Progress) bool
}

// DefaultRules is the standard achievement table. Streak rules fire only on
// the exact day count; points and accuracy rules fire on reaching the bar.
var DefaultRules = []Rule{
	{
		ID: "first_challenge", Name: "First Challenge",
		Description: "Completed your first daily challenge",
		Earned:      func(p *Progress) bool { return p.ChallengesCompleted == 1 },
	},
	{
		ID: "streak_7", Name: "Perfect Week",
		Description: "7 consecutive days of challenges",
		Earned:      func(p *Progress) bool { return p.CurrentStreak == 7 },
	},
	{
		ID: "streak_30", Name: "Month on Fire",
		Description: "30 consecutive days of challenges",
		Earned:      func(p *Progress) bool { return p.CurrentStreak == 30 },
	},
	{
		ID: "points_100", Name: "Centurion",
		Description: "Earned 100 points",
		Earned:      func(p *Progress) bool { return p.TotalPoints >= 100 },
	},
	{
		ID: "points_500", Name: "Expert",
		Description: "Earned 500 points",
		Earned:      func(p *Progress) bool { return p.TotalPoints >= 500 },
	},
	{
		ID: "accuracy_90", Name: "Sharpshooter",
		Description: "90% accuracy over 10 or more challenges",
		Earned: func(p *Progress) bool {
			return p.ChallengesCompleted >= 10 && p.Accuracy() >= 90
		},
	},
}

// Tracker applies challenge results to Progress.
type Tracker struct {
	rules []Rule
}

// NewTracker uses rules, or DefaultRules when none are given.
func NewTracker(rules ...Rule) *Tracker {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Tracker{rules: rules}
}

// Record counts one challenge at time at and returns the achievements it
// newly earned. Calendar days are taken in at's location: a record the day
// after the last one extends the streak, a later one restarts it at 1, and a
// second record on the same day leaves it unchanged.
func (t *Tracker) Record(p *Progress, correct bool, points int, at time.Time) ([]Achievement, error) {
	if points < 0 {
		return nil, apperr.InvalidInput("progress.Record", "points must not be negative, got %d", points)
	}

	p.ChallengesCompleted++
	p.TotalPoints += points
	if correct {
		p.ChallengesCorrect++
	}

	if p.LastChallengeAt.IsZero() {
		p.CurrentStreak = 1
	} else {
		today := day(at, at.Location())
		last := day(p.LastChallengeAt, at.Location())
		yesterday := today.AddDate(0, 0, -1)
		switch {
		case last.Equal(yesterday):
			p.CurrentStreak++
		case last.Before(yesterday):
			p.CurrentStreak = 1
		}
	}
	p.LongestStreak = max(p.LongestStreak, p.CurrentStreak)

	if at.After(p.LastChallengeAt) {
		p.LastChallengeAt = at
	}
	p.UpdatedAt = at
	return t.Check(p, at), nil
}

// Check grants every rule that holds and is not yet earned.
func (t *Tracker) Check(p *Progress, at time.Time) []Achievement {
	var earned []Achievement
	for _, r := range t.rules {
		if !r.Earned(p) {
			continue
		}
		a := Achievement{ID: r.ID, Name: r.Name, Description: r.Description, EarnedAt: at}
		if p.grant(a) {
			earned = append(earned, a)
		}
	}
	return earned
}

func day(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
