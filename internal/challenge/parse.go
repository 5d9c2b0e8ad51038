package challenge

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/abhisek/studyloop/internal/llm"
)

var fenced = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// extractJSON returns the body of the first fenced block in text, or the
// trimmed text itself when there is none.
func extractJSON(text string) string {
	if m := fenced.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return strings.TrimSpace(text)
}

// parseInto validates the model's text against schema and decodes it.
func parseInto[T any](text string, schema *llm.Schema) (T, error) {
	var out T
	raw := json.RawMessage(extractJSON(text))
	if err := llm.Validate(schema, raw); err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", schema.Name, err)
	}
	return out, nil
}

// generatedOutput is the raw challenge returned by the model.
type generatedOutput struct {
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Explanation   string   `json:"explanation"`
}

// ChallengeSchema is the JSON shape requested from the model when
// generating a challenge.
var ChallengeSchema = &llm.Schema{
	Name:        "daily-challenge",
	Description: "A single study challenge built from a piece of course content",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Short title of the challenge",
			},
			"content": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "The full question or task shown to the student",
			},
			"options": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Choices or items to match. Empty when the type has none.",
			},
			"correct_answer": map[string]any{
				"type":        "string",
				"description": "The expected answer",
			},
			"explanation": map[string]any{
				"type":        "string",
				"description": "Why the answer is correct",
			},
		},
		"required": []any{"title", "content", "correct_answer"},
	},
}

// gradeOutput is the raw evaluation returned by the model.
type gradeOutput struct {
	IsCorrect     bool    `json:"is_correct"`
	Score         int     `json:"score"`
	Feedback      string  `json:"feedback"`
	PointsPercent float64 `json:"points_percent"`
}

// GradeSchema is the JSON shape requested when grading a free-text answer.
var GradeSchema = &llm.Schema{
	Name:        "challenge-grade",
	Description: "Evaluation of a student's answer to a challenge",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"is_correct": map[string]any{"type": "boolean"},
			"score": map[string]any{
				"type":    "integer",
				"minimum": 0,
				"maximum": 100,
			},
			"feedback": map[string]any{
				"type":        "string",
				"description": "Constructive feedback for the student",
			},
			"points_percent": map[string]any{
				"type":        "number",
				"minimum":     0,
				"maximum":     1,
				"description": "Share of the challenge points to award",
			},
		},
		"required": []any{"is_correct", "score", "feedback", "points_percent"},
	},
}
