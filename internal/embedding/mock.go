package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"sync"
	"unicode"
)

// MockEmbedder produces deterministic bag-of-words vectors: each lowercase
// word is hashed into a bucket, so texts sharing words score high under
// cosine similarity. Vectors are L2-normalised.
type MockEmbedder struct {
	dims int

	mu    sync.Mutex
	calls int
	// Err, when set, is returned by every call.
	Err error
}

// NewMock returns a MockEmbedder producing dims-length vectors.
func NewMock(dims int) *MockEmbedder {
	if dims <= 0 {
		dims = 64
	}
	return &MockEmbedder{dims: dims}
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.calls++
	err := m.Err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = m.vector(text)
	}
	return out, nil
}

// Calls reports how many EmbedBatch requests were made.
func (m *MockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockEmbedder) Dimensions() int { return m.dims }

func (m *MockEmbedder) vector(text string) []float32 {
	v := make([]float32, m.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		sum := sha256.Sum256([]byte(w))
		bucket := binary.LittleEndian.Uint32(sum[:4]) % uint32(m.dims)
		v[bucket]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}
