package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

var geminiModels = map[string]string{
	"gemini-flash": "gemini-2.0-flash",
	"gemini-pro":   "gemini-2.0-pro",
}

// GeminiProvider talks to the Gemini API through the genai SDK.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: resolveModel(cfg.Model, geminiModels)}, nil
}

func (p *GeminiProvider) ModelID() string { return p.model }

func (p *GeminiProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	contents, config := p.request(req)
	result, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return nil, mapGeminiError(err)
	}
	stop, err := geminiFinish(result)
	if err != nil {
		return nil, err
	}
	return complete(req, &Response{
		Content:    json.RawMessage(result.Text()),
		Model:      p.model,
		StopReason: stop,
		Usage:      geminiUsage(result),
	})
}

func (p *GeminiProvider) Stream(ctx context.Context, req Request, onDelta func(string) error) (*Response, error) {
	contents, config := p.request(req)

	out := &Response{Model: p.model, StopReason: StopEnd}
	var text strings.Builder
	for chunk, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, config) {
		if err != nil {
			return nil, mapGeminiError(err)
		}
		if u := geminiUsage(chunk); u.TotalTokens > 0 {
			out.Usage = u
		}
		if out.StopReason, err = geminiFinish(chunk); err != nil {
			return nil, err
		}
		delta := chunk.Text()
		if delta == "" {
			continue
		}
		text.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return nil, err
		}
	}
	out.Content = json.RawMessage(text.String())
	return out, nil
}

func (p *GeminiProvider) request(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	req = req.folded()

	config := &genai.GenerateContentConfig{MaxOutputTokens: int32(maxTokensOr(req.MaxTokens))}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Schema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = geminiSchema(req.Schema.Definition)
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents, config
}

func geminiUsage(r *genai.GenerateContentResponse) Usage {
	if r == nil || r.UsageMetadata == nil {
		return Usage{}
	}
	md := r.UsageMetadata
	return Usage{
		InputTokens:  int(md.PromptTokenCount),
		OutputTokens: int(md.CandidatesTokenCount),
		TotalTokens:  int(md.TotalTokenCount),
	}
}

// geminiFinish normalizes the first candidate's finish reason. Blocked
// candidates carry no usable text.
func geminiFinish(r *genai.GenerateContentResponse) (string, error) {
	if r == nil || len(r.Candidates) == 0 {
		return StopEnd, nil
	}
	switch reason := r.Candidates[0].FinishReason; reason {
	case genai.FinishReasonMaxTokens:
		return StopMaxTokens, nil
	case genai.FinishReasonSafety, genai.FinishReasonRecitation, genai.FinishReasonBlocklist,
		genai.FinishReasonProhibitedContent, genai.FinishReasonSPII:
		return "", &ErrInvalidResponse{Err: fmt.Errorf("gemini blocked the candidate: %s", reason)}
	default:
		return StopEnd, nil
	}
}

var geminiTypes = map[string]genai.Type{
	"string":  genai.TypeString,
	"number":  genai.TypeNumber,
	"integer": genai.TypeInteger,
	"boolean": genai.TypeBoolean,
	"array":   genai.TypeArray,
	"object":  genai.TypeObject,
}

// geminiSchema converts a JSON Schema map into the subset genai accepts.
// Unknown keywords are dropped; the full schema is still enforced by
// validateResponse on the way back.
func geminiSchema(def map[string]any) *genai.Schema {
	s := &genai.Schema{Type: genai.TypeString}
	if t, ok := def["type"].(string); ok {
		if gt, known := geminiTypes[t]; known {
			s.Type = gt
		}
	}
	s.Description, _ = def["description"].(string)
	s.Required = stringList(def["required"])
	s.Enum = stringList(def["enum"])

	if props, ok := def["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, v := range props {
			if sub, ok := v.(map[string]any); ok {
				s.Properties[name] = geminiSchema(sub)
			}
		}
	}
	if items, ok := def["items"].(map[string]any); ok {
		s.Items = geminiSchema(items)
	}
	if n, ok := jsonNumber(def["minItems"]); ok {
		s.MinItems = genai.Ptr(int64(n))
	}
	if n, ok := jsonNumber(def["maxItems"]); ok {
		s.MaxItems = genai.Ptr(int64(n))
	}
	if n, ok := jsonNumber(def["minimum"]); ok {
		s.Minimum = genai.Ptr(n)
	}
	if n, ok := jsonNumber(def["maximum"]); ok {
		s.Maximum = genai.Ptr(n)
	}
	return s
}

// stringList accepts both []any (decoded JSON) and []string (Go literals).
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func jsonNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func mapGeminiError(err error) error {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return statusError(apiErr.Code, err)
	}
	return statusError(0, err)
}
