package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/abhisek/studyloop/internal/apperr"
	"github.com/abhisek/studyloop/internal/challenge"
)

var challengeColumns = []string{
	"id", "student_id", "knowledge_base_id", "type", "title", "content", "correct_answer", "options",
	"explanation", "points", "scheduled_for", "sent_at", "answered_at", "student_answer", "is_correct",
	"points_earned", "feedback", "created_at", "updated_at",
}

// challengeRepo implements challenge.Repository.
type challengeRepo struct{ s *Store }

func (s *Store) ChallengeRepo() challenge.Repository { return &challengeRepo{s: s} }

func (r *challengeRepo) Save(ctx context.Context, c *challenge.Challenge) error {
	opts, err := encodeJSON(c.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	q := r.s.builder().Insert(tableChallenges).
		Columns(challengeColumns...).
		Values(c.ID, c.StudentID, c.KnowledgeBaseID, string(c.Type), c.Title, c.Content, c.CorrectAnswer, opts,
			c.Explanation, c.Points, c.ScheduledFor.UTC(), optTime(c.SentAt), optTime(c.AnsweredAt),
			c.StudentAnswer, optBool(c.IsCorrect), c.PointsEarned, c.Feedback,
			c.CreatedAt.UTC(), c.UpdatedAt.UTC()).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues())
	if _, err := r.s.exec(ctx, q); err != nil {
		return fmt.Errorf("save challenge %s: %w", c.ID, err)
	}
	return nil
}

func (r *challengeRepo) SaveAnswer(ctx context.Context, c *challenge.Challenge) error {
	u := r.s.builder().Update(tableChallenges).
		Set("answered_at", c.AnsweredAt.UTC()).
		Set("student_answer", c.StudentAnswer).
		Set("points_earned", c.PointsEarned).
		Set("feedback", c.Feedback).
		Set("updated_at", c.UpdatedAt.UTC())
	if c.IsCorrect == nil {
		u.SetNull("is_correct")
	} else {
		u.Set("is_correct", *c.IsCorrect)
	}
	n, err := r.s.exec(ctx, u.Where(entsql.And(entsql.EQ("id", c.ID), entsql.IsNull("answered_at"))))
	if err != nil {
		return fmt.Errorf("save answer %s: %w", c.ID, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := r.FindByID(ctx, c.ID); err != nil {
		return err
	}
	return apperr.InvalidState("store.SaveAnswer", "challenge %s was already answered", c.ID)
}

func scanChallenge(sc scanner) (*challenge.Challenge, error) {
	var (
		c              challenge.Challenge
		typ            string
		opts           sql.NullString
		sent, answered sql.NullTime
		correct        sql.NullBool
	)
	if err := sc.Scan(&c.ID, &c.StudentID, &c.KnowledgeBaseID, &typ, &c.Title, &c.Content, &c.CorrectAnswer,
		&opts, &c.Explanation, &c.Points, &c.ScheduledFor, &sent, &answered, &c.StudentAnswer, &correct,
		&c.PointsEarned, &c.Feedback, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(opts, &c.Options); err != nil {
		return nil, fmt.Errorf("challenge %s options: %w", c.ID, err)
	}
	c.Type = challenge.Type(typ)
	c.SentAt, c.AnsweredAt = fromOptTime(sent), fromOptTime(answered)
	c.IsCorrect = fromOptBool(correct)
	c.ScheduledFor, c.CreatedAt, c.UpdatedAt = c.ScheduledFor.UTC(), c.CreatedAt.UTC(), c.UpdatedAt.UTC()
	return &c, nil
}

func (r *challengeRepo) selectChallenges() *entsql.Selector {
	return r.s.builder().Select(challengeColumns...).From(entsql.Table(tableChallenges))
}

func (r *challengeRepo) FindByID(ctx context.Context, id string) (*challenge.Challenge, error) {
	c, err := scanChallenge(r.s.queryRow(ctx, r.selectChallenges().Where(entsql.EQ("id", id))))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("store.FindChallenge", "challenge %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("find challenge %s: %w", id, err)
	}
	return c, nil
}

func (r *challengeRepo) list(ctx context.Context, where *entsql.Predicate) ([]*challenge.Challenge, error) {
	rows, err := r.s.query(ctx, r.selectChallenges().Where(where).OrderBy("scheduled_for", "id"))
	if err != nil {
		return nil, fmt.Errorf("query challenges: %w", err)
	}
	return collect(rows, scanChallenge)
}

func (r *challengeRepo) FindScheduled(ctx context.Context, studentID, kbID string, from, to time.Time) ([]*challenge.Challenge, error) {
	where := entsql.And(
		entsql.EQ("student_id", studentID),
		entsql.GTE("scheduled_for", from.UTC()),
		entsql.LT("scheduled_for", to.UTC()),
	)
	if kbID != "" {
		where = entsql.And(where, entsql.EQ("knowledge_base_id", kbID))
	}
	return r.list(ctx, where)
}

func (r *challengeRepo) FindUnsent(ctx context.Context, until time.Time) ([]*challenge.Challenge, error) {
	return r.list(ctx, entsql.And(entsql.IsNull("sent_at"), entsql.LTE("scheduled_for", until.UTC())))
}
