package rag

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/abhisek/studyloop/internal/apperr"
	"github.com/abhisek/studyloop/internal/chunks"
	"github.com/abhisek/studyloop/internal/conversation"
	"github.com/abhisek/studyloop/internal/llm"
	"github.com/google/go-cmp/cmp"
)

// fixedEmbedder returns the same query vector for every text.
type fixedEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (e *fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	e.calls++
	return e.vec, e.err
}

func (e *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = e.Embed(ctx, texts[i])
	}
	return out, e.err
}

func (e *fixedEmbedder) Dimensions() int { return len(e.vec) }

type staticSource struct {
	byKB map[string][]*chunks.Chunk
	err  error
}

func (s staticSource) Embedded(_ context.Context, kbID string) ([]*chunks.Chunk, error) {
	return s.byKB[kbID], s.err
}

var queryVec = []float32{1, 0, 0, 0}

// vecAt returns a unit vector whose cosine with queryVec is score.
func vecAt(score float64) []float32 {
	return []float32{float32(score), float32(math.Sqrt(1 - score*score)), 0, 0}
}

func chunk(id, content string, score float64) *chunks.Chunk {
	return &chunks.Chunk{
		ID:              id,
		KnowledgeBaseID: "kb",
		Content:         content,
		Source:          chunks.Source{Type: "pdf"},
		Embedding:       vecAt(score),
	}
}

type memConvs struct {
	mu    sync.Mutex
	convs map[string]*conversation.Conversation
	saves int
}

func newMemConvs() *memConvs { return &memConvs{convs: map[string]*conversation.Conversation{}} }

func (m *memConvs) FindByID(_ context.Context, id string) (*conversation.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.convs[id]; ok {
		return c, nil
	}
	return nil, apperr.NotFound("memConvs.FindByID", "conversation %s", id)
}

func (m *memConvs) FindLatest(_ context.Context, studentID, kbID string) (*conversation.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *conversation.Conversation
	for _, c := range m.convs {
		if c.StudentID == studentID && c.KnowledgeBaseID == kbID &&
			(latest == nil || c.UpdatedAt.After(latest.UpdatedAt)) {
			latest = c
		}
	}
	if latest == nil {
		return nil, apperr.NotFound("memConvs.FindLatest", "no conversation")
	}
	return latest, nil
}

func (m *memConvs) FindByStudent(_ context.Context, studentID string) ([]*conversation.Conversation, error) {
	return nil, nil
}

func (m *memConvs) Save(_ context.Context, c *conversation.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[c.ID] = c
	m.saves++
	return nil
}

func (m *memConvs) Delete(_ context.Context, id string) error { return nil }

var fixedNow = time.Date(2025, 4, 2, 15, 0, 0, 0, time.UTC)

func TestRetrieve_SingleRelevantChunk(t *testing.T) {
	src := staticSource{byKB: map[string][]*chunks.Chunk{"kb": {chunk("c1", "Inflation is rising prices.", 0.9)}}}
	r := NewRetriever(src, &fixedEmbedder{vec: queryVec}, 0)

	got, err := r.Retrieve(context.Background(), "kb", "What is inflation?", DefaultTopK)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0].ChunkID != "c1" {
		t.Fatalf("Retrieve = %+v", got)
	}
	if math.Abs(got[0].Score-0.9) > 1e-6 {
		t.Errorf("Score = %f, want 0.9", got[0].Score)
	}
}

func TestRetrieve_ThresholdAndOrdering(t *testing.T) {
	src := staticSource{byKB: map[string][]*chunks.Chunk{"kb": {
		chunk("low", "x", 0.5),
		{ID: "edge", Content: "x", Embedding: []float32{7, 1, 1, 7}},
		chunk("mid", "x", 0.8),
		chunk("tieA", "x", 0.95),
		chunk("tieB", "x", 0.95),
	}}}
	r := NewRetriever(src, &fixedEmbedder{vec: queryVec}, 0)

	got, err := r.Retrieve(context.Background(), "kb", "q", 5)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, c := range got {
		ids = append(ids, c.ChunkID)
		if c.Score <= RelevanceThreshold {
			t.Errorf("chunk %s scored %f, not above threshold", c.ChunkID, c.Score)
		}
	}
	if diff := cmp.Diff([]string{"tieA", "tieB", "mid"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
}

func TestRetrieve_TopKAppliedBeforeThreshold(t *testing.T) {
	src := staticSource{byKB: map[string][]*chunks.Chunk{"kb": {
		chunk("a", "x", 0.99), chunk("b", "x", 0.98), chunk("c", "x", 0.97),
	}}}
	r := NewRetriever(src, &fixedEmbedder{vec: queryVec}, 0)
	got, _ := r.Retrieve(context.Background(), "kb", "q", 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
}

func TestRetrieve_EmptyKnowledgeBase(t *testing.T) {
	emb := &fixedEmbedder{vec: queryVec}
	r := NewRetriever(staticSource{}, emb, 0)
	got, err := r.Retrieve(context.Background(), "kb", "q", 5)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("Retrieve = %#v, want empty slice", got)
	}
	if emb.calls != 1 {
		t.Errorf("query should still be embedded, calls = %d", emb.calls)
	}
}

func TestRetrieve_Errors(t *testing.T) {
	src := staticSource{byKB: map[string][]*chunks.Chunk{"kb": {chunk("c", "x", 0.9)}}}
	tests := []struct {
		name  string
		emb   *fixedEmbedder
		query string
		topK  int
		kind  error
	}{
		{"empty query", &fixedEmbedder{vec: queryVec}, "  ", 5, apperr.ErrInvalidInput},
		{"zero topK", &fixedEmbedder{vec: queryVec}, "q", 0, apperr.ErrInvalidInput},
		{"embedder down", &fixedEmbedder{err: errors.New("503")}, "q", 5, apperr.ErrUpstream},
		{"dimension mismatch", &fixedEmbedder{vec: []float32{1, 0, 0}}, "q", 5, apperr.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRetriever(src, tt.emb, 0)
			if _, err := r.Retrieve(context.Background(), "kb", tt.query, tt.topK); !errors.Is(err, tt.kind) {
				t.Fatalf("error = %v, want %v", err, tt.kind)
			}
		})
	}
}

func TestNewRetriever_ThresholdOnlyRaises(t *testing.T) {
	if r := NewRetriever(staticSource{}, &fixedEmbedder{}, 0.5); r.threshold != RelevanceThreshold {
		t.Errorf("threshold = %f", r.threshold)
	}
	if r := NewRetriever(staticSource{}, &fixedEmbedder{}, 0.85); r.threshold != 0.85 {
		t.Errorf("threshold = %f", r.threshold)
	}
}

func TestModeTable(t *testing.T) {
	tests := []struct {
		mode Mode
		temp float64
	}{
		{ModeTutor, 0.5},
		{ModeQuiz, 0.3},
		{ModeSummary, 0.4},
		{ModeStorytelling, 0.7},
		{"poetry", 0.5},
	}
	for _, tt := range tests {
		if got := tt.mode.Temperature(); got != tt.temp {
			t.Errorf("%s.Temperature() = %v, want %v", tt.mode, got, tt.temp)
		}
	}
	if Mode("poetry").SystemPrompt() != ModeTutor.SystemPrompt() {
		t.Error("unknown mode should use the tutor prompt")
	}
	if ModeQuiz.SystemPrompt() == ModeTutor.SystemPrompt() {
		t.Error("modes should have distinct prompts")
	}
}

func TestBuildMessages(t *testing.T) {
	conv := conversation.New("s", "kb", fixedNow)
	for i := 0; i < 12; i++ {
		role := conversation.RoleUser
		if i%2 == 1 {
			role = conversation.RoleAssistant
		}
		_ = conv.Append(conversation.Message{Role: role, Content: string(rune('a' + i)), At: fixedNow.Add(time.Duration(i) * time.Second)})
	}
	retrieved := []ChunkContext{
		{ChunkID: "1", Content: "First fact.", Source: chunks.Source{Type: "pdf"}},
		{ChunkID: "2", Content: "Second fact.", Source: chunks.Source{Type: "video"}},
	}

	msgs := BuildMessages(conv, "new question", retrieved, ModeSummary)

	if len(msgs) != 12 {
		t.Fatalf("len(msgs) = %d, want 12", len(msgs))
	}
	wantSystem := ModeSummary.SystemPrompt() + "\n\nAvailable context:\n" +
		"[Source: pdf]\nFirst fact.\n\n[Source: video]\nSecond fact."
	if diff := cmp.Diff(llm.Message{Role: llm.RoleSystem, Content: wantSystem}, msgs[0]); diff != "" {
		t.Errorf("system message mismatch (-want +got):\n%s", diff)
	}
	if msgs[1].Content != "c" || msgs[1].Role != llm.RoleUser {
		t.Errorf("history should start at the 3rd message, got %+v", msgs[1])
	}
	if msgs[10].Content != "l" || msgs[10].Role != llm.RoleAssistant {
		t.Errorf("last history message = %+v", msgs[10])
	}
	if diff := cmp.Diff(llm.Message{Role: llm.RoleUser, Content: "new question"}, msgs[11]); diff != "" {
		t.Errorf("query message mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildMessages_NilConversation(t *testing.T) {
	msgs := BuildMessages(nil, "q", nil, ModeTutor)
	if len(msgs) != 2 || msgs[0].Role != llm.RoleSystem || msgs[1].Content != "q" {
		t.Fatalf("msgs = %+v", msgs)
	}
}

func newTestTutor(src ChunkSource, p llm.Provider, convs conversation.Repository) *Tutor {
	clock := fixedNow
	r := NewRetriever(src, &fixedEmbedder{vec: queryVec}, 0)
	return NewTutor(r, p, convs, WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
}

func TestAsk_Grounded(t *testing.T) {
	src := staticSource{byKB: map[string][]*chunks.Chunk{"kb": {chunk("c1", "Inflation is rising prices.", 0.9)}}}
	p := llm.NewMockProvider(llm.TextResponse("Inflation means prices go up."))
	convs := newMemConvs()
	tutor := newTestTutor(src, p, convs)

	ans, err := tutor.Ask(context.Background(), AskRequest{
		StudentID: "s1", KnowledgeBaseID: "kb", Query: "What is inflation?", Mode: ModeQuiz,
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !ans.Grounded || ans.Text != "Inflation means prices go up." {
		t.Fatalf("Answer = %+v", ans)
	}

	if len(p.Calls) != 1 {
		t.Fatalf("provider calls = %d", len(p.Calls))
	}
	req := p.Calls[0]
	if !strings.Contains(req.System, "Inflation is rising prices.") {
		t.Errorf("system prompt missing chunk: %q", req.System)
	}
	if req.Temperature != 0.3 {
		t.Errorf("Temperature = %v, want 0.3", req.Temperature)
	}

	conv := ans.Conversation
	if len(conv.Messages) != 2 || conv.Messages[0].Role != conversation.RoleUser || conv.Messages[1].Role != conversation.RoleAssistant {
		t.Fatalf("conversation messages = %+v", conv.Messages)
	}
	if diff := cmp.Diff([]string{"c1"}, conv.ChunkRefs); diff != "" {
		t.Errorf("ChunkRefs mismatch:\n%s", diff)
	}
	if convs.saves != 1 {
		t.Errorf("saves = %d", convs.saves)
	}
}

func TestAsk_ContinuesLatestConversation(t *testing.T) {
	src := staticSource{byKB: map[string][]*chunks.Chunk{"kb": {chunk("c1", "fact", 0.9), chunk("c2", "fact 2", 0.85)}}}
	p := llm.NewMockProvider(llm.TextResponse("one"), llm.TextResponse("two"))
	convs := newMemConvs()
	tutor := newTestTutor(src, p, convs)
	ctx := context.Background()

	first, err := tutor.Ask(ctx, AskRequest{StudentID: "s1", KnowledgeBaseID: "kb", Query: "q1"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := tutor.Ask(ctx, AskRequest{StudentID: "s1", KnowledgeBaseID: "kb", Query: "q2"})
	if err != nil {
		t.Fatal(err)
	}
	if second.Conversation.ID != first.Conversation.ID {
		t.Fatal("expected the same conversation to continue")
	}
	if len(second.Conversation.Messages) != 4 {
		t.Errorf("messages = %d, want 4", len(second.Conversation.Messages))
	}
	if len(second.Conversation.ChunkRefs) != 2 {
		t.Errorf("ChunkRefs = %v", second.Conversation.ChunkRefs)
	}
	// history from the first turn is replayed
	if len(p.Calls[1].Messages) != 3 {
		t.Errorf("second request messages = %d, want 3", len(p.Calls[1].Messages))
	}
}

func TestAsk_NoGroundingSkipsModel(t *testing.T) {
	src := staticSource{byKB: map[string][]*chunks.Chunk{"kb": {chunk("c1", "unrelated", 0.5)}}}
	p := llm.NewMockProvider()
	convs := newMemConvs()
	tutor := newTestTutor(src, p, convs)

	ans, err := tutor.Ask(context.Background(), AskRequest{StudentID: "s1", KnowledgeBaseID: "kb", Query: "q"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Grounded || ans.Text != NoInformationResponse {
		t.Errorf("Answer = %+v", ans)
	}
	if len(p.Calls) != 0 {
		t.Errorf("model was called %d times", len(p.Calls))
	}
	if convs.saves != 0 {
		t.Errorf("conversation saved %d times", convs.saves)
	}
}

func TestAsk_ProviderFailureLeavesConversation(t *testing.T) {
	src := staticSource{byKB: map[string][]*chunks.Chunk{"kb": {chunk("c1", "fact", 0.9)}}}
	p := llm.NewMockProvider(llm.MockResponse{Err: errors.New("boom")})
	convs := newMemConvs()
	tutor := newTestTutor(src, p, convs)

	if _, err := tutor.Ask(context.Background(), AskRequest{StudentID: "s1", KnowledgeBaseID: "kb", Query: "q"}); err == nil {
		t.Fatal("expected error")
	}
	if convs.saves != 0 {
		t.Errorf("conversation saved after failure")
	}
}

func TestAsk_ForeignConversationRejected(t *testing.T) {
	src := staticSource{byKB: map[string][]*chunks.Chunk{"kb": {chunk("c1", "fact", 0.9)}}}
	convs := newMemConvs()
	other := conversation.New("s2", "kb", fixedNow)
	_ = convs.Save(context.Background(), other)
	tutor := newTestTutor(src, llm.NewMockProvider(llm.TextResponse("x")), convs)

	_, err := tutor.Ask(context.Background(), AskRequest{StudentID: "s1", KnowledgeBaseID: "kb", ConversationID: other.ID, Query: "q"})
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAskStream(t *testing.T) {
	src := staticSource{byKB: map[string][]*chunks.Chunk{"kb": {chunk("c1", "fact", 0.9)}}}
	p := llm.NewMockProvider(llm.TextResponse("prices go up"))
	tutor := newTestTutor(src, p, newMemConvs())

	var deltas []string
	ans, err := tutor.AskStream(context.Background(), AskRequest{StudentID: "s1", KnowledgeBaseID: "kb", Query: "q"},
		func(s string) error { deltas = append(deltas, s); return nil })
	if err != nil {
		t.Fatalf("AskStream: %v", err)
	}
	if diff := cmp.Diff([]string{"prices ", "go ", "up"}, deltas); diff != "" {
		t.Errorf("deltas mismatch (-want +got):\n%s", diff)
	}
	if ans.Conversation.Messages[1].Content != "prices go up" {
		t.Errorf("assistant message = %q", ans.Conversation.Messages[1].Content)
	}
}

func TestAskStream_Ungrounded(t *testing.T) {
	tutor := newTestTutor(staticSource{}, llm.NewMockProvider(), newMemConvs())
	var deltas []string
	_, err := tutor.AskStream(context.Background(), AskRequest{StudentID: "s1", KnowledgeBaseID: "kb", Query: "q"},
		func(s string) error { deltas = append(deltas, s); return nil })
	if err != nil {
		t.Fatal(err)
	}
	if len(deltas) != 1 || deltas[0] != NoInformationResponse {
		t.Errorf("deltas = %q", deltas)
	}
}
