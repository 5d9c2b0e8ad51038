package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/abhisek/studyloop/internal/apperr"
	"github.com/abhisek/studyloop/internal/conversation"
)

var conversationColumns = []string{
	"id", "student_id", "knowledge_base_id", "messages", "chunk_refs", "created_at", "updated_at",
}

// conversationRepo implements conversation.Repository.
type conversationRepo struct{ s *Store }

func (s *Store) ConversationRepo() conversation.Repository { return &conversationRepo{s: s} }

func (r *conversationRepo) Save(ctx context.Context, c *conversation.Conversation) error {
	msgs, err := encodeJSON(c.Messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	refs, err := encodeJSON(c.ChunkRefs)
	if err != nil {
		return fmt.Errorf("encode chunk refs: %w", err)
	}
	q := r.s.builder().Insert(tableConversations).
		Columns(conversationColumns...).
		Values(c.ID, c.StudentID, c.KnowledgeBaseID, msgs, refs, c.CreatedAt.UTC(), c.UpdatedAt.UTC()).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues())
	if _, err := r.s.exec(ctx, q); err != nil {
		return fmt.Errorf("save conversation %s: %w", c.ID, err)
	}
	return nil
}

func scanConversation(sc scanner) (*conversation.Conversation, error) {
	var (
		c          conversation.Conversation
		msgs, refs sql.NullString
	)
	if err := sc.Scan(&c.ID, &c.StudentID, &c.KnowledgeBaseID, &msgs, &refs, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(msgs, &c.Messages); err != nil {
		return nil, fmt.Errorf("conversation %s messages: %w", c.ID, err)
	}
	if err := decodeJSON(refs, &c.ChunkRefs); err != nil {
		return nil, fmt.Errorf("conversation %s chunk refs: %w", c.ID, err)
	}
	c.CreatedAt, c.UpdatedAt = c.CreatedAt.UTC(), c.UpdatedAt.UTC()
	return &c, nil
}

func (r *conversationRepo) selectConversations() *entsql.Selector {
	return r.s.builder().Select(conversationColumns...).From(entsql.Table(tableConversations))
}

func (r *conversationRepo) FindByID(ctx context.Context, id string) (*conversation.Conversation, error) {
	c, err := scanConversation(r.s.queryRow(ctx, r.selectConversations().Where(entsql.EQ("id", id))))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("store.FindConversation", "conversation %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation %s: %w", id, err)
	}
	return c, nil
}

// FindLatest returns the most recently updated conversation of the student
// in kbID.
func (r *conversationRepo) FindLatest(ctx context.Context, studentID, kbID string) (*conversation.Conversation, error) {
	q := r.selectConversations().
		Where(entsql.And(entsql.EQ("student_id", studentID), entsql.EQ("knowledge_base_id", kbID))).
		OrderBy(entsql.Desc("updated_at"), entsql.Desc("id")).
		Limit(1)
	c, err := scanConversation(r.s.queryRow(ctx, q))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("store.FindLatestConversation", "no conversation for student %s in %s", studentID, kbID)
	}
	if err != nil {
		return nil, fmt.Errorf("find latest conversation: %w", err)
	}
	return c, nil
}

func (r *conversationRepo) FindByStudent(ctx context.Context, studentID string) ([]*conversation.Conversation, error) {
	rows, err := r.s.query(ctx, r.selectConversations().
		Where(entsql.EQ("student_id", studentID)).
		OrderBy(entsql.Desc("updated_at")))
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	return collect(rows, scanConversation)
}

func (r *conversationRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.s.exec(ctx, r.s.builder().Delete(tableConversations).Where(entsql.EQ("id", id))); err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	return nil
}
