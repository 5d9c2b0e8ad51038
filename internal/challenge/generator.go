package challenge

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/abhisek/studyloop/internal/chunks"
	"github.com/abhisek/studyloop/internal/llm"
	"github.com/abhisek/studyloop/internal/logging"
)

// ErrNoChallengeAvailable wraps every reason generation produced nothing.
var ErrNoChallengeAvailable = errors.New("no challenge available")

const generatorSystemPrompt = `You create short study challenges from course content.

Rules:
- Base the challenge only on the content provided.
- Keep the title under ten words.
- Make the task self-contained: the student will not see the source content.
- Respond with a single JSON object and nothing else.`

// ChunkLister lists the chunks of a knowledge base.
type ChunkLister interface {
	List(ctx context.Context, kbID string) ([]*chunks.Chunk, error)
}

// GenerateRequest asks for one challenge. A zero Type picks one at random;
// a zero ScheduledFor means now.
type GenerateRequest struct {
	StudentID       string
	KnowledgeBaseID string
	Type            Type
	Difficulty      int
	ScheduledFor    time.Time
}

// Generator builds challenges with the model from a random chunk.
type Generator struct {
	provider llm.Provider
	chunks   ChunkLister
	repo     Repository
	intn     func(n int) int
	log      *logging.Logger
	now      func() time.Time
}

type GeneratorOption func(*Generator)

func WithGeneratorLogger(l *logging.Logger) GeneratorOption {
	return func(g *Generator) { g.log = logging.Or(l) }
}

func WithGeneratorClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

// WithRandom replaces the chunk and type picker; intn returns a value in
// [0, n).
func WithRandom(intn func(n int) int) GeneratorOption {
	return func(g *Generator) { g.intn = intn }
}

func NewGenerator(p llm.Provider, cl ChunkLister, repo Repository, opts ...GeneratorOption) *Generator {
	g := &Generator{
		provider: p,
		chunks:   cl,
		repo:     repo,
		intn:     rand.IntN,
		log:      logging.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate creates and saves one challenge. Every failure, including an
// empty knowledge base, a provider error or an unusable response, returns an
// error wrapping ErrNoChallengeAvailable.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*Challenge, error) {
	c, err := g.generate(ctx, req)
	if err != nil {
		g.log.Warn("challenge generation failed", "student_id", req.StudentID,
			"knowledge_base_id", req.KnowledgeBaseID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrNoChallengeAvailable, err)
	}
	g.log.Info("challenge generated", "challenge_id", c.ID, "student_id", c.StudentID, "type", c.Type)
	return c, nil
}

func (g *Generator) generate(ctx context.Context, req GenerateRequest) (*Challenge, error) {
	if req.Type == "" {
		req.Type = Types[g.intn(len(Types))]
	}
	if _, ok := ParseType(string(req.Type)); !ok {
		return nil, fmt.Errorf("unknown challenge type %q", req.Type)
	}
	req.Difficulty = clampDifficulty(req.Difficulty)

	cs, err := g.chunks.List(ctx, req.KnowledgeBaseID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	if len(cs) == 0 {
		return nil, fmt.Errorf("knowledge base %s has no content", req.KnowledgeBaseID)
	}
	chunk := cs[g.intn(len(cs))]

	resp, err := g.provider.Generate(llm.WithPurpose(ctx, llm.PurposeChallengeGen), llm.Request{
		System:      generatorSystemPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: buildChallengePrompt(req.Type, req.Difficulty, chunk.Content)}},
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	out, err := parseInto[generatedOutput](resp.Text(), ChallengeSchema)
	if err != nil {
		return nil, err
	}
	if err := checkGenerated(req.Type, out); err != nil {
		return nil, err
	}

	now := g.now()
	at := req.ScheduledFor
	if at.IsZero() {
		at = now
	}
	c := newChallenge(req.StudentID, req.KnowledgeBaseID, req.Type, at, now)
	c.Title = strings.TrimSpace(out.Title)
	c.Content = strings.TrimSpace(out.Content)
	c.Options = out.Options
	c.CorrectAnswer = strings.TrimSpace(out.CorrectAnswer)
	c.Explanation = out.Explanation
	c.Points = req.Type.Points(req.Difficulty)
	if err := g.repo.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("save challenge: %w", err)
	}
	return c, nil
}

func checkGenerated(t Type, out generatedOutput) error {
	if t.RequiresOptions() && len(out.Options) < 2 {
		return fmt.Errorf("%s challenge needs options, got %d", t, len(out.Options))
	}
	if t == TypeQuiz {
		want := normalize(out.CorrectAnswer)
		if !slices.ContainsFunc(out.Options, func(o string) bool { return normalize(o) == want }) {
			return fmt.Errorf("quiz answer %q is not one of the options", out.CorrectAnswer)
		}
	}
	return nil
}

func buildChallengePrompt(t Type, difficulty int, content string) string {
	info := types[t]
	var b strings.Builder
	fmt.Fprintf(&b, "Challenge type: %s\n", info.label)
	fmt.Fprintf(&b, "Difficulty: %s\n", difficultyLabels[difficulty])
	fmt.Fprintf(&b, "Task: %s\n", info.instruction)
	fmt.Fprintf(&b, "Answer: %s\n", info.answerHint)
	b.WriteString("\nContent:\n")
	b.WriteString(content)
	b.WriteString("\n\nRespond with JSON containing title, content, options, correct_answer and explanation.")
	return b.String()
}
