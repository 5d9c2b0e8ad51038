package llm

import (
	"errors"
	"testing"

	"google.golang.org/genai"
)

func TestGeminiModelMapping(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"gemini-flash", "gemini-2.0-flash"},
		{"gemini-pro", "gemini-2.0-pro"},
		{"gemini-2.5-flash", "gemini-2.5-flash"},
	}
	for _, tt := range tests {
		if got := resolveModel(tt.input, geminiModels); got != tt.want {
			t.Errorf("resolveModel(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestGeminiSchema_Challenge(t *testing.T) {
	def := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":          map[string]any{"type": "string"},
			"correct_answer": map[string]any{"type": "string"},
			"options":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "minItems": 2},
			"points":         map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
			"kind":           map[string]any{"type": "string", "enum": []any{"quiz", "matching"}},
		},
		"required": []any{"title", "correct_answer"},
	}

	schema := geminiSchema(def)

	if schema.Type != "OBJECT" {
		t.Fatalf("Type = %s, want OBJECT", schema.Type)
	}
	if len(schema.Properties) != 5 {
		t.Fatalf("len(Properties) = %d, want 5", len(schema.Properties))
	}
	if mi := schema.Properties["options"].MinItems; mi == nil || *mi != 2 {
		t.Errorf("options MinItems = %v, want 2", mi)
	}
	points := schema.Properties["points"]
	if points.Type != "INTEGER" || points.Maximum == nil || *points.Maximum != 100 {
		t.Errorf("points = %+v", points)
	}
	if schema.Properties["options"].Type != "ARRAY" || schema.Properties["options"].Items.Type != "STRING" {
		t.Errorf("options = %+v", schema.Properties["options"])
	}
	if len(schema.Properties["kind"].Enum) != 2 {
		t.Errorf("kind enum = %v", schema.Properties["kind"].Enum)
	}
	if len(schema.Required) != 2 {
		t.Errorf("Required = %v", schema.Required)
	}
}

func TestGeminiRequest_FoldsSystem(t *testing.T) {
	p := &GeminiProvider{model: "gemini-2.0-flash"}
	contents, cfg := p.request(Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "Be brief."},
			{Role: RoleUser, Content: "q"},
			{Role: RoleAssistant, Content: "a"},
		},
		Temperature: 0.3,
	})
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "Be brief." {
		t.Fatalf("SystemInstruction = %+v", cfg.SystemInstruction)
	}
	if len(contents) != 2 || contents[1].Role != "model" {
		t.Fatalf("contents = %+v", contents)
	}
	if cfg.Temperature == nil || *cfg.Temperature != float32(0.3) {
		t.Errorf("Temperature = %v", cfg.Temperature)
	}
}

func TestGeminiFinish(t *testing.T) {
	withReason := func(r genai.FinishReason) *genai.GenerateContentResponse {
		return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{FinishReason: r}}}
	}
	tests := []struct {
		name    string
		resp    *genai.GenerateContentResponse
		want    string
		blocked bool
	}{
		{"no candidates", &genai.GenerateContentResponse{}, StopEnd, false},
		{"stop", withReason(genai.FinishReasonStop), StopEnd, false},
		{"max tokens", withReason(genai.FinishReasonMaxTokens), StopMaxTokens, false},
		{"safety", withReason(genai.FinishReasonSafety), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := geminiFinish(tt.resp)
			var inv *ErrInvalidResponse
			if blocked := errors.As(err, &inv); blocked != tt.blocked {
				t.Fatalf("geminiFinish() err = %v, blocked %v", err, tt.blocked)
			}
			if got != tt.want {
				t.Errorf("geminiFinish() = %q, want %q", got, tt.want)
			}
		})
	}
}
