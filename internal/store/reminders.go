package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/abhisek/studyloop/internal/apperr"
	"github.com/abhisek/studyloop/internal/reminders"
)

var reminderColumns = []string{
	"id", "student_id", "knowledge_base_id", "type", "title", "message", "scheduled_at", "recurring",
	"pattern", "priority", "active", "sent_at", "send_count", "created_at", "updated_at",
}

// reminderRepo implements reminders.Repository.
type reminderRepo struct{ s *Store }

func (s *Store) ReminderRepo() reminders.Repository { return &reminderRepo{s: s} }

func (r *reminderRepo) Save(ctx context.Context, m *reminders.Reminder) error {
	q := r.s.builder().Insert(tableReminders).
		Columns(reminderColumns...).
		Values(m.ID, m.StudentID, m.KnowledgeBaseID, string(m.Type), m.Title, m.Message, m.ScheduledAt.UTC(),
			m.Recurring, m.Pattern, m.Priority, m.Active, optTime(m.SentAt), m.SendCount,
			m.CreatedAt.UTC(), m.UpdatedAt.UTC()).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues())
	if _, err := r.s.exec(ctx, q); err != nil {
		return fmt.Errorf("save reminder %s: %w", m.ID, err)
	}
	return nil
}

func scanReminder(sc scanner) (*reminders.Reminder, error) {
	var (
		m    reminders.Reminder
		typ  string
		sent sql.NullTime
	)
	if err := sc.Scan(&m.ID, &m.StudentID, &m.KnowledgeBaseID, &typ, &m.Title, &m.Message, &m.ScheduledAt,
		&m.Recurring, &m.Pattern, &m.Priority, &m.Active, &sent, &m.SendCount, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Type = reminders.Type(typ)
	m.SentAt = fromOptTime(sent)
	m.ScheduledAt, m.CreatedAt, m.UpdatedAt = m.ScheduledAt.UTC(), m.CreatedAt.UTC(), m.UpdatedAt.UTC()
	return &m, nil
}

func (r *reminderRepo) selectReminders() *entsql.Selector {
	return r.s.builder().Select(reminderColumns...).From(entsql.Table(tableReminders))
}

func (r *reminderRepo) FindByID(ctx context.Context, id string) (*reminders.Reminder, error) {
	m, err := scanReminder(r.s.queryRow(ctx, r.selectReminders().Where(entsql.EQ("id", id))))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("store.FindReminder", "reminder %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("find reminder %s: %w", id, err)
	}
	return m, nil
}

func (r *reminderRepo) list(ctx context.Context, where *entsql.Predicate) ([]*reminders.Reminder, error) {
	rows, err := r.s.query(ctx, r.selectReminders().Where(where).
		OrderBy(entsql.Desc("priority"), "scheduled_at", "id"))
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	return collect(rows, scanReminder)
}

func (r *reminderRepo) FindDue(ctx context.Context, now time.Time) ([]*reminders.Reminder, error) {
	return r.list(ctx, entsql.And(entsql.EQ("active", true), entsql.LTE("scheduled_at", now.UTC())))
}

func (r *reminderRepo) FindActiveByStudent(ctx context.Context, studentID string) ([]*reminders.Reminder, error) {
	return r.list(ctx, entsql.And(entsql.EQ("student_id", studentID), entsql.EQ("active", true)))
}

func (r *reminderRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.s.exec(ctx, r.s.builder().Delete(tableReminders).Where(entsql.EQ("id", id))); err != nil {
		return fmt.Errorf("delete reminder %s: %w", id, err)
	}
	return nil
}
