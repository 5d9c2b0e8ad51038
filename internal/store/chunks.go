package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/abhisek/studyloop/internal/apperr"
	"github.com/abhisek/studyloop/internal/chunks"
)

var chunkColumns = []string{
	"id", "knowledge_base_id", "content", "source_type", "source_page", "source_section",
	"context_window", "position", "embedding", "claim_token", "claimed_at", "created_at", "updated_at",
}

// chunkRepo implements chunks.Repository.
type chunkRepo struct{ s *Store }

func (s *Store) ChunkRepo() chunks.Repository { return &chunkRepo{s: s} }

func (r *chunkRepo) Save(ctx context.Context, c *chunks.Chunk) error {
	q := r.s.builder().Insert(tableChunks).
		Columns(chunkColumns...).
		Values(c.ID, c.KnowledgeBaseID, c.Content, c.Source.Type, c.Source.Page, c.Source.Section,
			c.ContextWindow, c.Position, encodeVector(c.Embedding), nil, nil, c.CreatedAt.UTC(), c.UpdatedAt.UTC()).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues())
	if _, err := r.s.exec(ctx, q); err != nil {
		return fmt.Errorf("save chunk %s: %w", c.ID, err)
	}
	return nil
}

func scanChunk(sc scanner) (*chunks.Chunk, error) {
	var (
		c         chunks.Chunk
		emb       []byte
		token     sql.NullString
		claimedAt sql.NullTime
	)
	if err := sc.Scan(&c.ID, &c.KnowledgeBaseID, &c.Content, &c.Source.Type, &c.Source.Page, &c.Source.Section,
		&c.ContextWindow, &c.Position, &emb, &token, &claimedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	v, err := decodeVector(emb)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", c.ID, err)
	}
	c.Embedding = v
	c.CreatedAt, c.UpdatedAt = c.CreatedAt.UTC(), c.UpdatedAt.UTC()
	return &c, nil
}

func (r *chunkRepo) selectChunks() *entsql.Selector {
	return r.s.builder().Select(chunkColumns...).From(entsql.Table(tableChunks))
}

func (r *chunkRepo) FindByID(ctx context.Context, id string) (*chunks.Chunk, error) {
	c, err := scanChunk(r.s.queryRow(ctx, r.selectChunks().Where(entsql.EQ("id", id))))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("store.FindChunk", "chunk %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("find chunk %s: %w", id, err)
	}
	return c, nil
}

func (r *chunkRepo) list(ctx context.Context, where *entsql.Predicate) ([]*chunks.Chunk, error) {
	rows, err := r.s.query(ctx, r.selectChunks().Where(where).OrderBy("position", "id"))
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	return collect(rows, scanChunk)
}

func (r *chunkRepo) FindByKnowledgeBase(ctx context.Context, kbID string) ([]*chunks.Chunk, error) {
	return r.list(ctx, entsql.EQ("knowledge_base_id", kbID))
}

func (r *chunkRepo) FindEmbedded(ctx context.Context, kbID string) ([]*chunks.Chunk, error) {
	return r.list(ctx, entsql.And(entsql.EQ("knowledge_base_id", kbID), entsql.NotNull("embedding")))
}

func (r *chunkRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.s.exec(ctx, r.s.builder().Delete(tableChunks).Where(entsql.EQ("id", id))); err != nil {
		return fmt.Errorf("delete chunk %s: %w", id, err)
	}
	return nil
}

func claimable(staleBefore time.Time) *entsql.Predicate {
	return entsql.And(
		entsql.IsNull("embedding"),
		entsql.Or(entsql.IsNull("claim_token"), entsql.LT("claimed_at", staleBefore.UTC())),
	)
}

// ClaimPending leases up to limit unembedded chunks to token. Each row is
// taken with a conditional update so concurrent claimers never share one.
func (r *chunkRepo) ClaimPending(ctx context.Context, token string, limit int, now, staleBefore time.Time) ([]*chunks.Chunk, error) {
	rows, err := r.s.query(ctx, r.s.builder().Select("id").From(entsql.Table(tableChunks)).
		Where(claimable(staleBefore)).OrderBy("position", "id").Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("query pending chunks: %w", err)
	}
	ids, err := collect(rows, func(sc scanner) (string, error) {
		var id string
		err := sc.Scan(&id)
		return id, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan pending chunks: %w", err)
	}

	var out []*chunks.Chunk
	for _, id := range ids {
		n, err := r.s.exec(ctx, r.s.builder().Update(tableChunks).
			Set("claim_token", token).
			Set("claimed_at", now.UTC()).
			Where(entsql.And(entsql.EQ("id", id), claimable(staleBefore))))
		if err != nil {
			return out, fmt.Errorf("claim chunk %s: %w", id, err)
		}
		if n == 0 {
			continue
		}
		c, err := r.FindByID(ctx, id)
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
	return out, nil
}

// CompleteClaim writes the embedding of c if token still holds its lease.
func (r *chunkRepo) CompleteClaim(ctx context.Context, c *chunks.Chunk, token string) error {
	n, err := r.s.exec(ctx, r.s.builder().Update(tableChunks).
		Set("embedding", encodeVector(c.Embedding)).
		Set("updated_at", c.UpdatedAt.UTC()).
		SetNull("claim_token").
		SetNull("claimed_at").
		Where(entsql.And(entsql.EQ("id", c.ID), entsql.EQ("claim_token", token))))
	if err != nil {
		return fmt.Errorf("complete claim %s: %w", c.ID, err)
	}
	if n == 0 {
		return apperr.InvalidState("store.CompleteClaim", "chunk %s is no longer leased to %s", c.ID, token)
	}
	return nil
}

func (r *chunkRepo) ReleaseClaim(ctx context.Context, id, token string) error {
	_, err := r.s.exec(ctx, r.s.builder().Update(tableChunks).
		SetNull("claim_token").
		SetNull("claimed_at").
		Where(entsql.And(entsql.EQ("id", id), entsql.EQ("claim_token", token))))
	if err != nil {
		return fmt.Errorf("release claim %s: %w", id, err)
	}
	return nil
}
