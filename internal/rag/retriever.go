// Package rag grounds tutoring answers in retrieved knowledge-base chunks.
package rag

import (
	"context"
	"strings"

	"github.com/abhisek/studyloop/internal/apperr"
	"github.com/abhisek/studyloop/internal/chunks"
	"github.com/abhisek/studyloop/internal/embedding"
	"github.com/abhisek/studyloop/internal/vecsim"
)

const (
	DefaultTopK = 5

	// RelevanceThreshold is the score a chunk must exceed to be returned.
	RelevanceThreshold = 0.7
)

// ChunkSource lists the chunks of a knowledge base that have embeddings.
type ChunkSource interface {
	Embedded(ctx context.Context, kbID string) ([]*chunks.Chunk, error)
}

// ChunkContext is a retrieved chunk with its similarity score.
type ChunkContext struct {
	ChunkID string
	Content string
	Source  chunks.Source
	Score   float64
}

// Retriever ranks embedded chunks against a query.
type Retriever struct {
	source    ChunkSource
	embedder  embedding.Embedder
	threshold float64
}

// NewRetriever creates a Retriever. A threshold at or below
// RelevanceThreshold uses RelevanceThreshold.
func NewRetriever(source ChunkSource, embedder embedding.Embedder, threshold float64) *Retriever {
	if threshold <= RelevanceThreshold {
		threshold = RelevanceThreshold
	}
	return &Retriever{source: source, embedder: embedder, threshold: threshold}
}

// Retrieve returns up to topK chunks of kbID scoring above the threshold,
// best first. An empty result means there is nothing to ground an answer
// on. Embedding failures are returned as Upstream errors.
func (r *Retriever) Retrieve(ctx context.Context, kbID, query string, topK int) ([]ChunkContext, error) {
	const op = "rag.Retrieve"
	if strings.TrimSpace(query) == "" {
		return nil, apperr.InvalidInput(op, "query is empty")
	}
	if topK < 1 {
		return nil, apperr.InvalidInput(op, "topK must be at least 1, got %d", topK)
	}

	qvec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, apperr.Upstream(op, err)
	}

	embedded, err := r.source.Embedded(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if len(embedded) == 0 {
		return []ChunkContext{}, nil
	}

	byID := make(map[string]*chunks.Chunk, len(embedded))
	candidates := make([]vecsim.Candidate, 0, len(embedded))
	for _, c := range embedded {
		byID[c.ID] = c
		candidates = append(candidates, vecsim.Candidate{ID: c.ID, Vector: c.Embedding})
	}

	ranked, err := vecsim.TopK(qvec, candidates, topK)
	if err != nil {
		return nil, err
	}

	relevant := vecsim.AboveThreshold(ranked, r.threshold)
	out := make([]ChunkContext, 0, len(relevant))
	for _, m := range relevant {
		c := byID[m.ID]
		out = append(out, ChunkContext{
			ChunkID: c.ID,
			Content: c.Content,
			Source:  c.Source,
			Score:   m.Score,
		})
	}
	return out, nil
}
