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

// Student is a registered learner.
type Student struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// StudentRepo stores students and their knowledge-base subscriptions. It
// feeds inactivity detection and next-day challenge generation.
type StudentRepo struct{ s *Store }

func (s *Store) StudentRepo() *StudentRepo { return &StudentRepo{s: s} }

// Save creates the student or renames an existing one.
func (r *StudentRepo) Save(ctx context.Context, st *Student) error {
	if st.ID == "" {
		return apperr.InvalidInput("store.SaveStudent", "student id is required")
	}
	q := r.s.builder().Insert(tableStudents).
		Columns("id", "name", "created_at").
		Values(st.ID, st.Name, st.CreatedAt.UTC()).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWith(func(u *entsql.UpdateSet) {
			u.SetExcluded("name")
		}))
	if _, err := r.s.exec(ctx, q); err != nil {
		return fmt.Errorf("save student %s: %w", st.ID, err)
	}
	return nil
}

func (r *StudentRepo) Get(ctx context.Context, id string) (*Student, error) {
	var st Student
	err := r.s.queryRow(ctx, r.s.builder().Select("id", "name", "created_at").From(entsql.Table(tableStudents)).
		Where(entsql.EQ("id", id))).Scan(&st.ID, &st.Name, &st.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("store.GetStudent", "student %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get student %s: %w", id, err)
	}
	st.CreatedAt = st.CreatedAt.UTC()
	return &st, nil
}

func (r *StudentRepo) List(ctx context.Context) ([]*Student, error) {
	rows, err := r.s.query(ctx, r.s.builder().Select("id", "name", "created_at").
		From(entsql.Table(tableStudents)).OrderBy("id"))
	if err != nil {
		return nil, fmt.Errorf("query students: %w", err)
	}
	return collect(rows, func(sc scanner) (*Student, error) {
		var st Student
		if err := sc.Scan(&st.ID, &st.Name, &st.CreatedAt); err != nil {
			return nil, err
		}
		st.CreatedAt = st.CreatedAt.UTC()
		return &st, nil
	})
}

// ListStudentIDs returns every student id in order.
func (r *StudentRepo) ListStudentIDs(ctx context.Context) ([]string, error) {
	rows, err := r.s.query(ctx, r.s.builder().Select("id").From(entsql.Table(tableStudents)).OrderBy("id"))
	if err != nil {
		return nil, fmt.Errorf("query student ids: %w", err)
	}
	return collect(rows, func(sc scanner) (string, error) {
		var id string
		err := sc.Scan(&id)
		return id, err
	})
}

// Subscribe activates the student's subscription to kbID. The student must
// exist.
func (r *StudentRepo) Subscribe(ctx context.Context, studentID, kbID string, now time.Time) error {
	if _, err := r.Get(ctx, studentID); err != nil {
		return err
	}
	q := r.s.builder().Insert(tableSubscriptions).
		Columns("student_id", "knowledge_base_id", "active", "created_at").
		Values(studentID, kbID, true, now.UTC()).
		OnConflict(entsql.ConflictColumns("student_id", "knowledge_base_id"), entsql.ResolveWith(func(u *entsql.UpdateSet) {
			u.SetExcluded("active")
		}))
	if _, err := r.s.exec(ctx, q); err != nil {
		return fmt.Errorf("subscribe %s to %s: %w", studentID, kbID, err)
	}
	return nil
}

// Unsubscribe deactivates a subscription. An unknown pair is NotFound.
func (r *StudentRepo) Unsubscribe(ctx context.Context, studentID, kbID string) error {
	n, err := r.s.exec(ctx, r.s.builder().Update(tableSubscriptions).
		Set("active", false).
		Where(entsql.And(entsql.EQ("student_id", studentID), entsql.EQ("knowledge_base_id", kbID))))
	if err != nil {
		return fmt.Errorf("unsubscribe %s from %s: %w", studentID, kbID, err)
	}
	if n == 0 {
		return apperr.NotFound("store.Unsubscribe", "student %s is not subscribed to %s", studentID, kbID)
	}
	return nil
}

// ActiveSubscriptions lists every active subscription.
func (r *StudentRepo) ActiveSubscriptions(ctx context.Context) ([]challenge.Subscription, error) {
	rows, err := r.s.query(ctx, r.s.builder().Select("student_id", "knowledge_base_id").
		From(entsql.Table(tableSubscriptions)).
		Where(entsql.EQ("active", true)).
		OrderBy("student_id", "knowledge_base_id"))
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	return collect(rows, func(sc scanner) (challenge.Subscription, error) {
		var sub challenge.Subscription
		err := sc.Scan(&sub.StudentID, &sub.KnowledgeBaseID)
		return sub, err
	})
}
