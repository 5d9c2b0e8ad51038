package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/abhisek/studyloop/internal/apperr"
	"github.com/abhisek/studyloop/internal/progress"
)

var progressColumns = []string{
	"id", "student_id", "knowledge_base_id", "current_streak", "longest_streak", "total_points",
	"challenges_completed", "challenges_correct", "last_challenge_at", "achievements", "created_at", "updated_at",
}

// progressRepo implements progress.Repository. Rows are unique per student
// and knowledge base.
type progressRepo struct{ s *Store }

func (s *Store) ProgressRepo() progress.Repository { return &progressRepo{s: s} }

func (r *progressRepo) Save(ctx context.Context, p *progress.Progress) error {
	ach, err := encodeJSON(p.Achievements)
	if err != nil {
		return fmt.Errorf("encode achievements: %w", err)
	}
	q := r.s.builder().Insert(tableProgress).
		Columns(progressColumns...).
		Values(p.ID, p.StudentID, p.KnowledgeBaseID, p.CurrentStreak, p.LongestStreak, p.TotalPoints,
			p.ChallengesCompleted, p.ChallengesCorrect, optTime(p.LastChallengeAt), ach,
			p.CreatedAt.UTC(), p.UpdatedAt.UTC()).
		OnConflict(entsql.ConflictColumns("student_id", "knowledge_base_id"), entsql.ResolveWithNewValues())
	if _, err := r.s.exec(ctx, q); err != nil {
		return fmt.Errorf("save progress %s/%s: %w", p.StudentID, p.KnowledgeBaseID, err)
	}
	return nil
}

func scanProgress(sc scanner) (*progress.Progress, error) {
	var (
		p    progress.Progress
		last sql.NullTime
		ach  sql.NullString
	)
	if err := sc.Scan(&p.ID, &p.StudentID, &p.KnowledgeBaseID, &p.CurrentStreak, &p.LongestStreak,
		&p.TotalPoints, &p.ChallengesCompleted, &p.ChallengesCorrect, &last, &ach,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Achievements = map[string]progress.Achievement{}
	if err := decodeJSON(ach, &p.Achievements); err != nil {
		return nil, fmt.Errorf("progress %s achievements: %w", p.ID, err)
	}
	p.LastChallengeAt = fromOptTime(last)
	p.CreatedAt, p.UpdatedAt = p.CreatedAt.UTC(), p.UpdatedAt.UTC()
	return &p, nil
}

func (r *progressRepo) selectProgress() *entsql.Selector {
	return r.s.builder().Select(progressColumns...).From(entsql.Table(tableProgress))
}

func (r *progressRepo) Find(ctx context.Context, studentID, kbID string) (*progress.Progress, error) {
	p, err := scanProgress(r.s.queryRow(ctx, r.selectProgress().
		Where(entsql.And(entsql.EQ("student_id", studentID), entsql.EQ("knowledge_base_id", kbID)))))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("store.FindProgress", "no progress for student %s in %s", studentID, kbID)
	}
	if err != nil {
		return nil, fmt.Errorf("find progress: %w", err)
	}
	return p, nil
}

func (r *progressRepo) Top(ctx context.Context, kbID string, limit int) ([]*progress.Progress, error) {
	rows, err := r.s.query(ctx, r.selectProgress().
		Where(entsql.EQ("knowledge_base_id", kbID)).
		OrderBy(entsql.Desc("total_points"), "student_id").
		Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	return collect(rows, scanProgress)
}
