package chunks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abhisek/studyloop/internal/apperr"
	"github.com/abhisek/studyloop/internal/embedding"
	"github.com/abhisek/studyloop/internal/logging"
	"github.com/oklog/ulid/v2"
)

// DefaultLeaseTTL is how long a backfill claim blocks other workers.
const DefaultLeaseTTL = 10 * time.Minute

// EmbedStats summarises one backfill run.
type EmbedStats struct {
	Claimed  int
	Embedded int
	Failed   int
}

// Index ingests content and keeps chunk embeddings up to date.
type Index struct {
	repo     Repository
	embedder embedding.Embedder
	log      *logging.Logger
	now      func() time.Time

	chunkSize int
	overlap   int
	leaseTTL  time.Duration
}

// Option configures an Index.
type Option func(*Index)

func WithLogger(l *logging.Logger) Option { return func(ix *Index) { ix.log = logging.Or(l) } }

func WithClock(now func() time.Time) Option { return func(ix *Index) { ix.now = now } }

// WithChunking overrides the split size and overlap.
func WithChunking(size, overlap int) Option {
	return func(ix *Index) { ix.chunkSize, ix.overlap = size, overlap }
}

func WithLeaseTTL(d time.Duration) Option { return func(ix *Index) { ix.leaseTTL = d } }

// NewIndex creates an Index over repo using embedder for backfill.
func NewIndex(repo Repository, embedder embedding.Embedder, opts ...Option) *Index {
	ix := &Index{
		repo:      repo,
		embedder:  embedder,
		log:       logging.Nop(),
		now:       time.Now,
		chunkSize: DefaultChunkSize,
		overlap:   DefaultOverlap,
		leaseTTL:  DefaultLeaseTTL,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Ingest splits text into pending chunks of knowledge base kbID.
func (ix *Index) Ingest(ctx context.Context, kbID, text string, src Source) ([]*Chunk, error) {
	if kbID == "" {
		return nil, apperr.InvalidInput("chunks.Ingest", "knowledge base id is required")
	}
	pieces := Split(text, ix.chunkSize, ix.overlap)
	if len(pieces) == 0 {
		return nil, apperr.InvalidInput("chunks.Ingest", "no content to ingest")
	}

	now := ix.now()
	created := make([]*Chunk, 0, len(pieces))
	for i, piece := range pieces {
		c := New(kbID, piece, src, i, now)
		if err := ix.repo.Save(ctx, c); err != nil {
			return created, fmt.Errorf("save chunk %d: %w", i, err)
		}
		created = append(created, c)
	}
	ix.log.Info("content ingested", "knowledge_base_id", kbID, "chunks", len(created))
	return created, nil
}

// ProcessPending embeds up to batchSize pending chunks. Chunks are claimed
// under a lease first, so concurrent runs never embed the same chunk twice.
// A failed provider call releases the claims and is returned as an
// Upstream error alongside the stats.
func (ix *Index) ProcessPending(ctx context.Context, batchSize int) (EmbedStats, error) {
	var stats EmbedStats
	if batchSize < 1 {
		return stats, apperr.InvalidInput("chunks.ProcessPending", "batch size must be at least 1, got %d", batchSize)
	}
	if ix.embedder == nil {
		return stats, apperr.InvalidState("chunks.ProcessPending", "no embedding provider is configured")
	}

	now := ix.now()
	token := ulid.Make().String()
	claimed, err := ix.repo.ClaimPending(ctx, token, batchSize, now, now.Add(-ix.leaseTTL))
	if err != nil {
		return stats, fmt.Errorf("claim pending chunks: %w", err)
	}
	stats.Claimed = len(claimed)
	if len(claimed) == 0 {
		return stats, nil
	}

	texts := make([]string, len(claimed))
	for i, c := range claimed {
		texts[i] = c.Content
	}
	vecs, err := ix.embedder.EmbedBatch(ctx, texts)
	if err == nil && len(vecs) != len(claimed) {
		err = fmt.Errorf("got %d embeddings for %d chunks", len(vecs), len(claimed))
	}
	if err != nil {
		ix.release(ctx, claimed, token)
		stats.Failed = len(claimed)
		return stats, apperr.Upstream("chunks.ProcessPending", err)
	}

	dims := ix.embedder.Dimensions()
	for i, c := range claimed {
		if err := c.SetEmbedding(vecs[i], dims, ix.now()); err != nil {
			ix.log.Warn("embedding rejected", "chunk_id", c.ID, "error", err)
			ix.release(ctx, []*Chunk{c}, token)
			stats.Failed++
			continue
		}
		if err := ix.repo.CompleteClaim(ctx, c, token); err != nil {
			if !errors.Is(err, apperr.ErrInvalidState) {
				ix.log.Error("embedding write failed", "chunk_id", c.ID, "error", err)
			}
			stats.Failed++
			continue
		}
		stats.Embedded++
	}

	ix.log.Info("embedding backfill finished",
		"claimed", stats.Claimed, "embedded", stats.Embedded, "failed", stats.Failed)
	return stats, nil
}

func (ix *Index) release(ctx context.Context, cs []*Chunk, token string) {
	ctx = context.WithoutCancel(ctx)
	for _, c := range cs {
		if err := ix.repo.ReleaseClaim(ctx, c.ID, token); err != nil {
			ix.log.Warn("release claim failed", "chunk_id", c.ID, "error", err)
		}
	}
}

// Embedded returns the chunks of kbID that are visible to retrieval.
func (ix *Index) Embedded(ctx context.Context, kbID string) ([]*Chunk, error) {
	return ix.repo.FindEmbedded(ctx, kbID)
}

// List returns every chunk of kbID, pending or embedded.
func (ix *Index) List(ctx context.Context, kbID string) ([]*Chunk, error) {
	return ix.repo.FindByKnowledgeBase(ctx, kbID)
}

// Get returns one chunk.
func (ix *Index) Get(ctx context.Context, id string) (*Chunk, error) {
	return ix.repo.FindByID(ctx, id)
}

// UpdateContent replaces a chunk's text. The chunk goes back to pending.
func (ix *Index) UpdateContent(ctx context.Context, id, content string) (*Chunk, error) {
	c, err := ix.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.SetContent(content, ix.now())
	if err := ix.repo.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("save chunk: %w", err)
	}
	return c, nil
}
