package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/abhisek/studyloop/internal/apperr"
	"github.com/abhisek/studyloop/internal/notify"
)

var notificationColumns = []string{
	"id", "student_id", "subject", "content", "channel", "status", "external_id", "error", "retry_count",
	"sent_at", "delivered_at", "read_at", "created_at", "updated_at",
}

// notificationRepo implements notify.Repository.
type notificationRepo struct{ s *Store }

func (s *Store) NotificationRepo() notify.Repository { return &notificationRepo{s: s} }

func (r *notificationRepo) Save(ctx context.Context, n *notify.Notification) error {
	q := r.s.builder().Insert(tableNotifications).
		Columns(notificationColumns...).
		Values(n.ID, n.StudentID, n.Subject, n.Content, string(n.Channel), string(n.Status), n.ExternalID,
			n.Error, n.RetryCount, optTime(n.SentAt), optTime(n.DeliveredAt), optTime(n.ReadAt),
			n.CreatedAt.UTC(), n.UpdatedAt.UTC()).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues())
	if _, err := r.s.exec(ctx, q); err != nil {
		return fmt.Errorf("save notification %s: %w", n.ID, err)
	}
	return nil
}

func scanNotification(sc scanner) (*notify.Notification, error) {
	var (
		n                   notify.Notification
		channel, status     string
		sent, deliv, readAt sql.NullTime
	)
	if err := sc.Scan(&n.ID, &n.StudentID, &n.Subject, &n.Content, &channel, &status, &n.ExternalID,
		&n.Error, &n.RetryCount, &sent, &deliv, &readAt, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	n.Channel, n.Status = notify.Channel(channel), notify.Status(status)
	n.SentAt, n.DeliveredAt, n.ReadAt = fromOptTime(sent), fromOptTime(deliv), fromOptTime(readAt)
	n.CreatedAt, n.UpdatedAt = n.CreatedAt.UTC(), n.UpdatedAt.UTC()
	return &n, nil
}

func (r *notificationRepo) selectNotifications() *entsql.Selector {
	return r.s.builder().Select(notificationColumns...).From(entsql.Table(tableNotifications))
}

func (r *notificationRepo) FindByID(ctx context.Context, id string) (*notify.Notification, error) {
	n, err := scanNotification(r.s.queryRow(ctx, r.selectNotifications().Where(entsql.EQ("id", id))))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("store.FindNotification", "notification %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("find notification %s: %w", id, err)
	}
	return n, nil
}

// FindByStudent returns the newest notifications first. Ids are ULIDs, so
// they break ties within the same instant in creation order.
func (r *notificationRepo) FindByStudent(ctx context.Context, studentID string, limit int) ([]*notify.Notification, error) {
	q := r.selectNotifications().
		Where(entsql.EQ("student_id", studentID)).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id"))
	if limit > 0 {
		q.Limit(limit)
	}
	rows, err := r.s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	return collect(rows, scanNotification)
}

var preferenceColumns = []string{"student_id", "enabled", "priority", "contacts", "created_at", "updated_at"}

// preferenceRepo implements notify.PreferenceRepository.
type preferenceRepo struct{ s *Store }

func (s *Store) PreferenceRepo() notify.PreferenceRepository { return &preferenceRepo{s: s} }

func (r *preferenceRepo) Save(ctx context.Context, p *notify.Preference) error {
	prio, err := encodeJSON(p.Priority)
	if err != nil {
		return fmt.Errorf("encode priority: %w", err)
	}
	contacts, err := encodeJSON(p.Contacts)
	if err != nil {
		return fmt.Errorf("encode contacts: %w", err)
	}
	q := r.s.builder().Insert(tablePreferences).
		Columns(preferenceColumns...).
		Values(p.StudentID, p.Enabled, prio, contacts, p.CreatedAt.UTC(), p.UpdatedAt.UTC()).
		OnConflict(entsql.ConflictColumns("student_id"), entsql.ResolveWithNewValues())
	if _, err := r.s.exec(ctx, q); err != nil {
		return fmt.Errorf("save preferences of %s: %w", p.StudentID, err)
	}
	return nil
}

func (r *preferenceRepo) FindByStudent(ctx context.Context, studentID string) (*notify.Preference, error) {
	var (
		p              notify.Preference
		prio, contacts sql.NullString
	)
	err := r.s.queryRow(ctx, r.s.builder().Select(preferenceColumns...).From(entsql.Table(tablePreferences)).
		Where(entsql.EQ("student_id", studentID))).
		Scan(&p.StudentID, &p.Enabled, &prio, &contacts, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("store.FindPreference", "no notification preferences for student %s", studentID)
	}
	if err != nil {
		return nil, fmt.Errorf("find preferences of %s: %w", studentID, err)
	}
	p.Contacts = map[notify.Channel]string{}
	if err := decodeJSON(prio, &p.Priority); err != nil {
		return nil, fmt.Errorf("preferences of %s priority: %w", studentID, err)
	}
	if err := decodeJSON(contacts, &p.Contacts); err != nil {
		return nil, fmt.Errorf("preferences of %s contacts: %w", studentID, err)
	}
	p.CreatedAt, p.UpdatedAt = p.CreatedAt.UTC(), p.UpdatedAt.UTC()
	return &p, nil
}
