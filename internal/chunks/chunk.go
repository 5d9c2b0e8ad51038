// Package chunks holds knowledge-base content chunks and their embeddings.
package chunks

import (
	"context"
	"time"

	"github.com/abhisek/studyloop/internal/apperr"
	"github.com/google/uuid"
)

// Source describes where a chunk came from.
type Source struct {
	Type    string `json:"type"`
	Page    int    `json:"page,omitempty"`
	Section string `json:"section,omitempty"`
}

// Chunk is one segment of ingested content, the unit of retrieval.
type Chunk struct {
	ID              string
	KnowledgeBaseID string
	Content         string
	Source          Source
	// ContextWindow is optional surrounding text kept for display.
	ContextWindow string
	Position      int

	// Embedding is nil until the backfill job computes it.
	Embedding []float32

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a pending chunk.
func New(kbID, content string, src Source, position int, now time.Time) *Chunk {
	if src.Type == "" {
		src.Type = "text"
	}
	return &Chunk{
		ID:              uuid.NewString(),
		KnowledgeBaseID: kbID,
		Content:         content,
		Source:          src,
		Position:        position,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Embedded reports whether the chunk has a vector.
func (c *Chunk) Embedded() bool { return c.Embedding != nil }

// SetContent replaces the text and voids any prior embedding.
func (c *Chunk) SetContent(content string, now time.Time) {
	c.Content = content
	c.Embedding = nil
	c.UpdatedAt = now
}

// SetEmbedding stores vec, which must have exactly dims entries.
func (c *Chunk) SetEmbedding(vec []float32, dims int, now time.Time) error {
	if len(vec) != dims {
		return apperr.InvalidInput("chunks.SetEmbedding", "chunk %s: embedding has %d dimensions, want %d", c.ID, len(vec), dims)
	}
	c.Embedding = vec
	c.UpdatedAt = now
	return nil
}

// Repository persists chunks.
type Repository interface {
	Save(ctx context.Context, c *Chunk) error
	FindByID(ctx context.Context, id string) (*Chunk, error)
	FindByKnowledgeBase(ctx context.Context, kbID string) ([]*Chunk, error)
	// FindEmbedded returns only chunks that have an embedding.
	FindEmbedded(ctx context.Context, kbID string) ([]*Chunk, error)
	Delete(ctx context.Context, id string) error

	// ClaimPending leases up to limit unembedded chunks to token. Chunks
	// whose lease was taken before staleBefore may be reclaimed.
	ClaimPending(ctx context.Context, token string, limit int, now, staleBefore time.Time) ([]*Chunk, error)
	// CompleteClaim writes the embedding and clears the lease, provided
	// token still holds it. A lost lease is reported as InvalidState.
	CompleteClaim(ctx context.Context, c *Chunk, token string) error
	// ReleaseClaim drops the lease without writing.
	ReleaseClaim(ctx context.Context, id, token string) error
}
