package rag

import (
	"fmt"
	"strings"

	"github.com/abhisek/studyloop/internal/conversation"
	"github.com/abhisek/studyloop/internal/llm"
)

// Mode selects the tutor persona.
type Mode string

const (
	ModeTutor        Mode = "tutor"
	ModeQuiz         Mode = "quiz"
	ModeSummary      Mode = "summary"
	ModeStorytelling Mode = "storytelling"
)

// HistoryWindow is how many past messages are replayed to the model.
const HistoryWindow = 10

type modeSpec struct {
	prompt      string
	temperature float64
}

var modes = map[Mode]modeSpec{
	ModeTutor: {
		prompt: "You are an expert, patient tutor. Answer ONLY from the context provided. " +
			"Explain concepts clearly and step by step. If the answer is not in the context, say that you do not have that information.",
		temperature: 0.5,
	},
	ModeQuiz: {
		prompt: "You are an examiner. Write multiple-choice questions based on the context provided. " +
			"Assess the student's answers and give constructive feedback.",
		temperature: 0.3,
	},
	ModeSummary: {
		prompt: "You are an expert summarizer. Summarize the context concisely and in a structured way. " +
			"Highlight the key points and important concepts.",
		temperature: 0.4,
	},
	ModeStorytelling: {
		prompt: "You are a captivating storyteller. Turn the context into an engaging, memorable story. " +
			"Use analogies and practical examples.",
		temperature: 0.7,
	},
}

// Known reports whether m is one of the defined modes.
func (m Mode) Known() bool {
	_, ok := modes[m]
	return ok
}

func (m Mode) spec() modeSpec {
	if s, ok := modes[m]; ok {
		return s
	}
	return modes[ModeTutor]
}

// SystemPrompt returns the mode's template; unknown modes use tutor's.
func (m Mode) SystemPrompt() string { return m.spec().prompt }

// Temperature returns the sampling temperature; unknown modes use 0.5.
func (m Mode) Temperature() float64 { return m.spec().temperature }

// BuildMessages assembles the model input: one system message carrying the
// mode prompt and the retrieved chunks, the last HistoryWindow messages of
// conv, then query as the final user message. conv may be nil.
func BuildMessages(conv *conversation.Conversation, query string, retrieved []ChunkContext, mode Mode) []llm.Message {
	blocks := make([]string, len(retrieved))
	for i, c := range retrieved {
		blocks[i] = fmt.Sprintf("[Source: %s]\n%s", c.Source.Type, c.Content)
	}
	system := mode.SystemPrompt() + "\n\nAvailable context:\n" + strings.Join(blocks, "\n\n")

	msgs := []llm.Message{{Role: llm.RoleSystem, Content: system}}
	if conv != nil {
		for _, m := range conv.Recent(HistoryWindow) {
			msgs = append(msgs, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
		}
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: query})
}
