package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/abhisek/studyloop/internal/apperr"
	"github.com/abhisek/studyloop/internal/conversation"
	"github.com/abhisek/studyloop/internal/llm"
	"github.com/abhisek/studyloop/internal/logging"
)

// NoInformationResponse is returned when nothing relevant was retrieved.
// The model is not called in that case.
const NoInformationResponse = "Sorry, I don't have information about that topic in my knowledge base. Could you rephrase your question?"

// AskRequest is one student question.
type AskRequest struct {
	StudentID       string
	KnowledgeBaseID string
	// ConversationID continues a specific conversation. When empty, or
	// when it does not exist, the latest conversation for the pair is
	// used, or a new one is started.
	ConversationID string
	Query          string
	Mode           Mode
}

// Answer is the tutor's reply.
type Answer struct {
	Text string
	// Grounded is false when no chunk passed the relevance threshold.
	Grounded     bool
	Sources      []ChunkContext
	TokensUsed   int
	FinishReason string
	// Conversation is nil for ungrounded answers.
	Conversation *conversation.Conversation
}

// Tutor answers questions from a knowledge base.
type Tutor struct {
	retriever *Retriever
	provider  llm.Provider
	convs     conversation.Repository
	log       *logging.Logger
	now       func() time.Time

	topK      int
	maxTokens int
}

// TutorOption configures a Tutor.
type TutorOption func(*Tutor)

func WithLogger(l *logging.Logger) TutorOption { return func(t *Tutor) { t.log = logging.Or(l) } }

func WithClock(now func() time.Time) TutorOption { return func(t *Tutor) { t.now = now } }

func WithTopK(k int) TutorOption { return func(t *Tutor) { t.topK = k } }

func WithMaxTokens(n int) TutorOption { return func(t *Tutor) { t.maxTokens = n } }

// NewTutor creates a Tutor.
func NewTutor(r *Retriever, p llm.Provider, convs conversation.Repository, opts ...TutorOption) *Tutor {
	t := &Tutor{
		retriever: r,
		provider:  p,
		convs:     convs,
		log:       logging.Nop(),
		now:       time.Now,
		topK:      DefaultTopK,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Ask answers req in one completion.
func (t *Tutor) Ask(ctx context.Context, req AskRequest) (*Answer, error) {
	return t.ask(ctx, req, func(ctx context.Context, msgs []llm.Message, opts llm.Options) (*llm.Completion, error) {
		return llm.Complete(ctx, t.provider, msgs, opts)
	})
}

// AskStream answers req, passing text fragments to onDelta as they arrive.
// An ungrounded answer is delivered as a single fragment.
func (t *Tutor) AskStream(ctx context.Context, req AskRequest, onDelta func(string) error) (*Answer, error) {
	ans, err := t.ask(ctx, req, func(ctx context.Context, msgs []llm.Message, opts llm.Options) (*llm.Completion, error) {
		return llm.CompleteStream(ctx, t.provider, msgs, opts, onDelta)
	})
	if err != nil {
		return nil, err
	}
	if !ans.Grounded {
		if err := onDelta(ans.Text); err != nil {
			return nil, err
		}
	}
	return ans, nil
}

type completeFunc func(ctx context.Context, msgs []llm.Message, opts llm.Options) (*llm.Completion, error)

func (t *Tutor) ask(ctx context.Context, req AskRequest, complete completeFunc) (*Answer, error) {
	if req.StudentID == "" || req.KnowledgeBaseID == "" {
		return nil, apperr.InvalidInput("rag.Ask", "student and knowledge base are required")
	}

	retrieved, err := t.retriever.Retrieve(ctx, req.KnowledgeBaseID, req.Query, t.topK)
	if err != nil {
		return nil, err
	}
	if len(retrieved) == 0 {
		t.log.Info("no grounding for query", "knowledge_base_id", req.KnowledgeBaseID)
		return &Answer{Text: NoInformationResponse}, nil
	}

	conv, err := t.conversationFor(ctx, req)
	if err != nil {
		return nil, err
	}

	mode := req.Mode
	if !mode.Known() {
		mode = ModeTutor
	}
	msgs := BuildMessages(conv, req.Query, retrieved, mode)

	ctx = llm.WithPurpose(ctx, llm.TutorPurpose(string(mode)))
	asked := t.now()
	comp, err := complete(ctx, msgs, llm.Options{Temperature: mode.Temperature(), MaxTokens: t.maxTokens})
	if err != nil {
		t.log.Error("tutor completion failed",
			"student_id", req.StudentID, "knowledge_base_id", req.KnowledgeBaseID, "error", err)
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	answered := t.now()
	if err := conv.Append(conversation.Message{Role: conversation.RoleUser, Content: req.Query, At: asked}); err != nil {
		return nil, err
	}
	if err := conv.Append(conversation.Message{
		Role:    conversation.RoleAssistant,
		Content: comp.Text,
		Tokens:  comp.TokensUsed,
		At:      answered,
	}); err != nil {
		return nil, err
	}
	ids := make([]string, len(retrieved))
	for i, c := range retrieved {
		ids[i] = c.ChunkID
	}
	conv.Reference(ids...)

	if err := t.convs.Save(ctx, conv); err != nil {
		return nil, fmt.Errorf("save conversation: %w", err)
	}

	return &Answer{
		Text:         comp.Text,
		Grounded:     true,
		Sources:      retrieved,
		TokensUsed:   comp.TokensUsed,
		FinishReason: comp.FinishReason,
		Conversation: conv,
	}, nil
}

func (t *Tutor) conversationFor(ctx context.Context, req AskRequest) (*conversation.Conversation, error) {
	if id := strings.TrimSpace(req.ConversationID); id != "" {
		conv, err := t.convs.FindByID(ctx, id)
		switch {
		case err == nil:
			if conv.StudentID != req.StudentID || conv.KnowledgeBaseID != req.KnowledgeBaseID {
				return nil, apperr.InvalidInput("rag.Ask", "conversation %s belongs to another student or knowledge base", id)
			}
			return conv, nil
		case !apperr.IsNotFound(err):
			return nil, err
		}
	}

	conv, err := t.convs.FindLatest(ctx, req.StudentID, req.KnowledgeBaseID)
	switch {
	case err == nil:
		return conv, nil
	case apperr.IsNotFound(err):
		return conversation.New(req.StudentID, req.KnowledgeBaseID, t.now()), nil
	default:
		return nil, err
	}
}
