package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/abhisek/studyloop/internal/apperr"
	"github.com/abhisek/studyloop/internal/spacedrep"
)

var reviewColumns = []string{
	"id", "student_id", "knowledge_base_id", "chunk_id", "easiness_factor", "repetitions",
	"interval_days", "next_review_at", "last_reviewed_at", "history", "created_at", "updated_at",
}

// reviewRepo implements spacedrep.Repository.
type reviewRepo struct{ s *Store }

func (s *Store) ReviewRepo() spacedrep.Repository { return &reviewRepo{s: s} }

func (r *reviewRepo) Save(ctx context.Context, it *spacedrep.Item) error {
	hist, err := encodeJSON(it.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	q := r.s.builder().Insert(tableReviewItems).
		Columns(reviewColumns...).
		Values(it.ID, it.StudentID, it.KnowledgeBaseID, it.ChunkID, it.EasinessFactor, it.Repetitions,
			it.IntervalDays, optTime(it.NextReviewAt), optTime(it.LastReviewedAt), hist,
			it.CreatedAt.UTC(), it.UpdatedAt.UTC()).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues())
	if _, err := r.s.exec(ctx, q); err != nil {
		return fmt.Errorf("save review item %s: %w", it.ID, err)
	}
	return nil
}

func scanReview(sc scanner) (*spacedrep.Item, error) {
	var (
		it         spacedrep.Item
		next, last sql.NullTime
		hist       sql.NullString
	)
	if err := sc.Scan(&it.ID, &it.StudentID, &it.KnowledgeBaseID, &it.ChunkID, &it.EasinessFactor,
		&it.Repetitions, &it.IntervalDays, &next, &last, &hist, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(hist, &it.History); err != nil {
		return nil, fmt.Errorf("review item %s history: %w", it.ID, err)
	}
	it.NextReviewAt, it.LastReviewedAt = fromOptTime(next), fromOptTime(last)
	it.CreatedAt, it.UpdatedAt = it.CreatedAt.UTC(), it.UpdatedAt.UTC()
	return &it, nil
}

func (r *reviewRepo) selectItems() *entsql.Selector {
	return r.s.builder().Select(reviewColumns...).From(entsql.Table(tableReviewItems))
}

func (r *reviewRepo) FindByID(ctx context.Context, id string) (*spacedrep.Item, error) {
	it, err := scanReview(r.s.queryRow(ctx, r.selectItems().Where(entsql.EQ("id", id))))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("store.FindReviewItem", "review item %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("find review item %s: %w", id, err)
	}
	return it, nil
}

func (r *reviewRepo) FindByStudent(ctx context.Context, studentID, kbID string) ([]*spacedrep.Item, error) {
	where := entsql.EQ("student_id", studentID)
	if kbID != "" {
		where = entsql.And(where, entsql.EQ("knowledge_base_id", kbID))
	}
	rows, err := r.s.query(ctx, r.selectItems().Where(where).OrderBy("created_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("query review items: %w", err)
	}
	return collect(rows, scanReview)
}

// FindDue returns items never scheduled or scheduled at or before now.
func (r *reviewRepo) FindDue(ctx context.Context, now time.Time) ([]*spacedrep.Item, error) {
	rows, err := r.s.query(ctx, r.selectItems().
		Where(entsql.Or(entsql.IsNull("next_review_at"), entsql.LTE("next_review_at", now.UTC()))).
		OrderBy("student_id", "next_review_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("query due review items: %w", err)
	}
	return collect(rows, scanReview)
}

func (r *reviewRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.s.exec(ctx, r.s.builder().Delete(tableReviewItems).Where(entsql.EQ("id", id))); err != nil {
		return fmt.Errorf("delete review item %s: %w", id, err)
	}
	return nil
}
