// Package challenge generates, delivers and grades daily challenges built
// from knowledge-base content.
package challenge

// Type is a challenge template.
type Type string

const (
	TypeQuiz      Type = "quiz"
	TypePuzzle    Type = "puzzle"
	TypeScenario  Type = "scenario"
	TypeFlashcard Type = "flashcard"
	TypeCode      Type = "code"
	TypeMatching  Type = "matching"
)

type typeInfo struct {
	label           string
	basePoints      int
	requiresOptions bool
	autoGradable    bool
	// instruction tells the model what to produce for this type.
	instruction string
	answerHint  string
}

var types = map[Type]typeInfo{
	TypeQuiz: {
		label: "Multiple choice", basePoints: 10, requiresOptions: true, autoGradable: true,
		instruction: "Write one multiple-choice question with exactly four options.",
		answerHint:  "correct_answer must be the exact text of one of the options.",
	},
	TypePuzzle: {
		label: "Logic puzzle", basePoints: 15, autoGradable: true,
		instruction: "Write a logic or reasoning puzzle that can be solved from the content.",
		answerHint:  "correct_answer must be a single short word or number.",
	},
	TypeScenario: {
		label: "Practical scenario", basePoints: 12,
		instruction: "Describe a realistic case the student must analyse using the content.",
		answerHint:  "correct_answer is a brief model answer.",
	},
	TypeFlashcard: {
		label: "Flashcard", basePoints: 8,
		instruction: "Write a flashcard: a question or concept on the front to recall.",
		answerHint:  "correct_answer is the answer or definition on the back.",
	},
	TypeCode: {
		label: "Coding exercise", basePoints: 20, autoGradable: true,
		instruction: "Write a short exercise with incomplete or buggy code to fix.",
		answerHint:  "correct_answer is the expected output or the corrected line.",
	},
	TypeMatching: {
		label: "Matching", basePoints: 12, requiresOptions: true, autoGradable: true,
		instruction: "Write a matching exercise with three concepts and their definitions listed in options.",
		answerHint:  `correct_answer pairs them as "Concept 1 - Definition 1, Concept 2 - Definition 2, Concept 3 - Definition 3".`,
	},
}

// Types lists every type in a fixed order.
var Types = []Type{TypeQuiz, TypePuzzle, TypeScenario, TypeFlashcard, TypeCode, TypeMatching}

// ParseType validates a type name.
func ParseType(s string) (Type, bool) {
	t := Type(s)
	_, ok := types[t]
	return t, ok
}

func (t Type) Label() string { return types[t].label }

// RequiresOptions reports whether the challenge must carry options.
func (t Type) RequiresOptions() bool { return types[t].requiresOptions }

// AutoGradable reports whether answers are compared directly instead of
// graded by the model.
func (t Type) AutoGradable() bool { return types[t].autoGradable }

const (
	MinDifficulty     = 1
	MaxDifficulty     = 5
	DefaultDifficulty = 2
)

// Points is the type's base points times difficulty. Difficulty outside
// [1,5] uses DefaultDifficulty.
func (t Type) Points(difficulty int) int {
	return types[t].basePoints * clampDifficulty(difficulty)
}

func clampDifficulty(d int) int {
	if d < MinDifficulty || d > MaxDifficulty {
		return DefaultDifficulty
	}
	return d
}

var difficultyLabels = [...]string{1: "very easy", 2: "easy", 3: "medium", 4: "hard", 5: "very hard"}
