package llm

import (
	"context"
	"encoding/json"
	"strings"
)

// Provider is the core abstraction for LLM interaction.
type Provider interface {
	// Generate sends a prompt to the LLM and returns its response.
	// When req.Schema is set the provider uses its structured output
	// mechanism and Content is validated JSON; otherwise Content holds the
	// raw text.
	Generate(ctx context.Context, req Request) (*Response, error)

	// ModelID returns the model identifier this provider is configured to use.
	ModelID() string
}

// Streamer is implemented by providers that can deliver text incrementally.
// onDelta is called for every text fragment in order; returning an error
// from it aborts the stream. The final Response carries the full text.
type Streamer interface {
	Stream(ctx context.Context, req Request, onDelta func(string) error) (*Response, error)
}

// Request describes what to send to the LLM.
type Request struct {
	// System is the system prompt.
	System string

	// Messages is the conversation, oldest first. System messages found
	// here are folded into System by the adapters.
	Messages []Message

	// Schema, when set, requests structured JSON output.
	Schema *Schema

	MaxTokens int

	// Temperature controls randomness. Zero leaves the provider default.
	Temperature float64
}

// Message represents a single message in the conversation.
type Message struct {
	Role    Role
	Content string
}

// Role is the message sender role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Schema defines the JSON structure expected from the LLM.
type Schema struct {
	// Name identifies this schema. Kebab-case, e.g. "quiz-challenge".
	Name string

	Description string

	// Definition is the JSON Schema definition as a map.
	Definition map[string]any
}

// Response holds the LLM's output.
type Response struct {
	Content json.RawMessage
	Usage   Usage
	Model   string

	// StopReason is StopEnd or StopMaxTokens.
	StopReason string
}

// Normalized stop reasons.
const (
	StopEnd       = "end"
	StopMaxTokens = "max_tokens"
)

// Text returns Content as plain text.
func (r *Response) Text() string {
	return string(r.Content)
}

// Usage tracks token consumption for a single request.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Options are the sampling knobs for a completion.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Completion is the plain-text result of Complete.
type Completion struct {
	Text         string
	TokensUsed   int
	FinishReason string
}

// SplitSystem moves leading and interleaved system messages into the
// request's System prompt, keeping the remaining order intact.
func SplitSystem(msgs []Message) Request {
	var sys []string
	var rest []Message
	for _, m := range msgs {
		if m.Role == RoleSystem {
			sys = append(sys, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return Request{System: strings.Join(sys, "\n\n"), Messages: rest}
}

// folded returns req with any system messages merged into System.
func (req Request) folded() Request {
	split := SplitSystem(req.Messages)
	if split.System == "" {
		return req
	}
	if req.System != "" {
		split.System = req.System + "\n\n" + split.System
	}
	req.System = split.System
	req.Messages = split.Messages
	return req
}

// Complete runs an unstructured completion over an ordered message list.
func Complete(ctx context.Context, p Provider, msgs []Message, opts Options) (*Completion, error) {
	req := SplitSystem(msgs)
	req.Temperature = opts.Temperature
	req.MaxTokens = maxTokensOr(opts.MaxTokens)

	resp, err := p.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Completion{
		Text:         resp.Text(),
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: resp.StopReason,
	}, nil
}

// CompleteStream is Complete with incremental delivery. Providers that do
// not implement Streamer deliver the whole text in one call to onDelta.
func CompleteStream(ctx context.Context, p Provider, msgs []Message, opts Options, onDelta func(string) error) (*Completion, error) {
	req := SplitSystem(msgs)
	req.Temperature = opts.Temperature
	req.MaxTokens = maxTokensOr(opts.MaxTokens)

	var resp *Response
	var err error
	if s, ok := p.(Streamer); ok {
		resp, err = s.Stream(ctx, req, onDelta)
	} else {
		resp, err = p.Generate(ctx, req)
		if err == nil {
			err = onDelta(resp.Text())
		}
	}
	if err != nil {
		return nil, err
	}
	return &Completion{
		Text:         resp.Text(),
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: resp.StopReason,
	}, nil
}

const defaultMaxTokens = 1024

func maxTokensOr(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}
