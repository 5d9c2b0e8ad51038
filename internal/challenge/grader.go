package challenge

import (
	"context"
	"fmt"
	"strings"

	"github.com/abhisek/studyloop/internal/llm"
	"github.com/abhisek/studyloop/internal/logging"
)

// Grader evaluates answers that cannot be compared directly.
type Grader interface {
	Grade(ctx context.Context, c *Challenge, answer string) Grade
}

// HumanReviewFeedback is the feedback of an answer the model could not grade.
const HumanReviewFeedback = "This answer could not be graded automatically. An instructor will review it."

// Ungraded is the grade for answers left to a human: no verdict, no points.
func Ungraded() Grade {
	return Grade{Feedback: HumanReviewFeedback}
}

const graderSystemPrompt = `You are a fair and constructive grader of student answers.
Judge the answer on the accuracy of the main idea, its completeness and its clarity.
Respond with a single JSON object and nothing else.`

// LLMGrader grades with the model.
type LLMGrader struct {
	provider llm.Provider
	log      *logging.Logger
}

func NewLLMGrader(p llm.Provider, log *logging.Logger) *LLMGrader {
	return &LLMGrader{provider: p, log: logging.Or(log)}
}

// Grade never fails: provider errors and unusable responses yield Ungraded.
func (g *LLMGrader) Grade(ctx context.Context, c *Challenge, answer string) Grade {
	resp, err := g.provider.Generate(llm.WithPurpose(ctx, llm.PurposeChallengeGrade), llm.Request{
		System:      graderSystemPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: buildGradePrompt(c, answer)}},
		Temperature: 0.3,
	})
	if err != nil {
		g.log.Error("grading failed", "challenge_id", c.ID, "error", err)
		return Ungraded()
	}
	out, err := parseInto[gradeOutput](resp.Text(), GradeSchema)
	if err != nil {
		g.log.Warn("unparseable grade", "challenge_id", c.ID, "error", err)
		return Ungraded()
	}
	correct := out.IsCorrect
	return Grade{
		IsCorrect:     &correct,
		Score:         out.Score,
		Feedback:      out.Feedback,
		PointsPercent: out.PointsPercent,
	}
}

func buildGradePrompt(c *Challenge, answer string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Challenge: %s\n", c.Title)
	fmt.Fprintf(&b, "Task: %s\n", c.Content)
	fmt.Fprintf(&b, "Expected answer: %s\n", c.CorrectAnswer)
	if c.Explanation != "" {
		fmt.Fprintf(&b, "Explanation: %s\n", c.Explanation)
	}
	b.WriteString("\nStudent answer:\n")
	b.WriteString(answer)
	b.WriteString("\n\nRespond with JSON: is_correct (boolean), score (0-100), feedback (string), points_percent (0-1).")
	return b.String()
}
