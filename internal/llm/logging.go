package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/abhisek/studyloop/internal/logging"
)

// LoggingProvider is a decorator that records every LLM request as an event.
type LoggingProvider struct {
	inner  Provider
	events EventRepo
	log    *logging.Logger
}

// WithLogging wraps a Provider with request event logging. A nil repo only
// logs through log.
func WithLogging(p Provider, events EventRepo, log *logging.Logger) Provider {
	return &LoggingProvider{inner: p, events: events, log: logging.Or(log).With("component", "llm")}
}

func (l *LoggingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := l.inner.Generate(ctx, req)
	l.record(ctx, req, resp, err, time.Since(start))
	return resp, err
}

func (l *LoggingProvider) Stream(ctx context.Context, req Request, onDelta func(string) error) (*Response, error) {
	s, ok := l.inner.(Streamer)
	if !ok {
		resp, err := l.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		return resp, onDelta(resp.Text())
	}

	start := time.Now()
	resp, err := s.Stream(ctx, req, onDelta)
	l.record(ctx, req, resp, err, time.Since(start))
	return resp, err
}

func (l *LoggingProvider) ModelID() string {
	return l.inner.ModelID()
}

func (l *LoggingProvider) record(ctx context.Context, req Request, resp *Response, err error, latency time.Duration) {
	data := RequestEvent{
		Provider:    l.inner.ModelID(),
		Model:       l.inner.ModelID(),
		Purpose:     PurposeFrom(ctx),
		LatencyMs:   latency.Milliseconds(),
		Success:     err == nil,
		RequestBody: serializeRequest(req),
	}
	if resp != nil {
		data.InputTokens = resp.Usage.InputTokens
		data.OutputTokens = resp.Usage.OutputTokens
		data.Model = resp.Model
		data.ResponseBody = string(resp.Content)
	}
	if err != nil {
		data.ErrorMessage = err.Error()
		l.log.Warn("llm request failed", "purpose", data.Purpose, "model", data.Model, "error", err)
	} else {
		l.log.Debug("llm request", "purpose", data.Purpose, "model", data.Model,
			"input_tokens", data.InputTokens, "output_tokens", data.OutputTokens, "latency_ms", data.LatencyMs)
	}

	if l.events == nil {
		return
	}
	// The request already succeeded or failed on its own; a logging failure
	// must not change that outcome.
	if logErr := l.events.AppendLLMRequest(context.WithoutCancel(ctx), data); logErr != nil {
		l.log.Warn("failed to record llm request event", "error", logErr)
	}
}

// serializeRequest builds a readable representation of the LLM request.
func serializeRequest(req Request) string {
	var b strings.Builder

	if req.System != "" {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", RoleSystem, req.System)
	}
	for _, m := range req.Messages {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", m.Role, m.Content)
	}
	if req.Schema != nil {
		if def, err := json.Marshal(req.Schema.Definition); err == nil {
			fmt.Fprintf(&b, "[schema: %s]\n%s\n", req.Schema.Name, def)
		}
	}
	return b.String()
}

// RequestEvent captures a single LLM request.
type RequestEvent struct {
	Provider     string
	Model        string
	Purpose      string
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
	Success      bool
	ErrorMessage string
	RequestBody  string
	ResponseBody string
}

// EventRepo records LLM requests.
type EventRepo interface {
	AppendLLMRequest(ctx context.Context, data RequestEvent) error
}
