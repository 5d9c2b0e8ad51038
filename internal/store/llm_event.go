package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/abhisek/studyloop/internal/llm"
)

// QueryOpts configures event queries with filtering and pagination.
type QueryOpts struct {
	Limit   int       // max results (0 = unlimited)
	After   int64     // id > After
	Before  int64     // id < Before
	From    time.Time // timestamp >= From
	To      time.Time // timestamp <= To
	Purpose string    // exact purpose match
}

// LLMEvent is a stored LLM request.
type LLMEvent struct {
	ID        int64
	Timestamp time.Time
	llm.RequestEvent
}

// PurposeUsage aggregates token usage per purpose.
type PurposeUsage struct {
	Purpose      string
	Calls        int
	InputTokens  int
	OutputTokens int
	AvgLatencyMs int64
}

// ModelUsage aggregates token usage per model.
type ModelUsage struct {
	Model        string
	Calls        int
	InputTokens  int
	OutputTokens int
}

var llmEventColumns = []string{
	"id", "timestamp", "provider", "model", "purpose", "input_tokens", "output_tokens",
	"latency_ms", "success", "error_message", "request_body", "response_body",
}

// EventRepo appends and queries LLM request events. It implements
// llm.EventRepo.
type EventRepo struct {
	s   *Store
	now func() time.Time
}

func (s *Store) EventRepo() *EventRepo { return &EventRepo{s: s, now: time.Now} }

func (r *EventRepo) AppendLLMRequest(ctx context.Context, data llm.RequestEvent) error {
	q := r.s.builder().Insert(tableLLMEvents).
		Columns(llmEventColumns[1:]...).
		Values(r.now().UTC(), data.Provider, data.Model, data.Purpose, data.InputTokens, data.OutputTokens,
			data.LatencyMs, data.Success, data.ErrorMessage, data.RequestBody, data.ResponseBody)
	if _, err := r.s.exec(ctx, q); err != nil {
		return fmt.Errorf("save LLM request event: %w", err)
	}
	return nil
}

func scanLLMEvent(sc scanner) (*LLMEvent, error) {
	var e LLMEvent
	if err := sc.Scan(&e.ID, &e.Timestamp, &e.Provider, &e.Model, &e.Purpose, &e.InputTokens, &e.OutputTokens,
		&e.LatencyMs, &e.Success, &e.ErrorMessage, &e.RequestBody, &e.ResponseBody); err != nil {
		return nil, err
	}
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}

// QueryLLMEvents returns matching events, newest first.
func (r *EventRepo) QueryLLMEvents(ctx context.Context, opts QueryOpts) ([]*LLMEvent, error) {
	var preds []*entsql.Predicate
	if opts.After > 0 {
		preds = append(preds, entsql.GT("id", opts.After))
	}
	if opts.Before > 0 {
		preds = append(preds, entsql.LT("id", opts.Before))
	}
	if !opts.From.IsZero() {
		preds = append(preds, entsql.GTE("timestamp", opts.From.UTC()))
	}
	if !opts.To.IsZero() {
		preds = append(preds, entsql.LTE("timestamp", opts.To.UTC()))
	}
	if opts.Purpose != "" {
		preds = append(preds, entsql.EQ("purpose", opts.Purpose))
	}

	q := r.s.builder().Select(llmEventColumns...).From(entsql.Table(tableLLMEvents)).
		OrderBy(entsql.Desc("id"))
	if len(preds) > 0 {
		q.Where(entsql.And(preds...))
	}
	if opts.Limit > 0 {
		q.Limit(opts.Limit)
	}
	rows, err := r.s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query LLM events: %w", err)
	}
	return collect(rows, scanLLMEvent)
}

// GetLLMEvent returns the event with id, or nil when there is none.
func (r *EventRepo) GetLLMEvent(ctx context.Context, id int64) (*LLMEvent, error) {
	e, err := scanLLMEvent(r.s.queryRow(ctx, r.s.builder().Select(llmEventColumns...).
		From(entsql.Table(tableLLMEvents)).Where(entsql.EQ("id", id))))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get LLM event %d: %w", id, err)
	}
	return e, nil
}

// LLMUsageByPurpose sums tokens per purpose, busiest first.
func (r *EventRepo) LLMUsageByPurpose(ctx context.Context) ([]PurposeUsage, error) {
	q := r.s.builder().Select(
		"purpose",
		entsql.As(entsql.Count("*"), "calls"),
		entsql.As(entsql.Sum("input_tokens"), "input_tokens"),
		entsql.As(entsql.Sum("output_tokens"), "output_tokens"),
		entsql.As(entsql.Avg("latency_ms"), "avg_latency_ms"),
	).From(entsql.Table(tableLLMEvents)).GroupBy("purpose").OrderBy(entsql.Desc("calls"), "purpose")
	rows, err := r.s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query usage by purpose: %w", err)
	}
	return collect(rows, func(sc scanner) (PurposeUsage, error) {
		var (
			u       PurposeUsage
			avg     float64
			in, out int64
		)
		if err := sc.Scan(&u.Purpose, &u.Calls, &in, &out, &avg); err != nil {
			return u, err
		}
		u.InputTokens, u.OutputTokens, u.AvgLatencyMs = int(in), int(out), int64(avg)
		return u, nil
	})
}

// LLMUsageByModel sums tokens per model for cost estimation.
func (r *EventRepo) LLMUsageByModel(ctx context.Context) ([]ModelUsage, error) {
	q := r.s.builder().Select(
		"model",
		entsql.As(entsql.Count("*"), "calls"),
		entsql.As(entsql.Sum("input_tokens"), "input_tokens"),
		entsql.As(entsql.Sum("output_tokens"), "output_tokens"),
	).From(entsql.Table(tableLLMEvents)).GroupBy("model").OrderBy("model")
	rows, err := r.s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query usage by model: %w", err)
	}
	return collect(rows, func(sc scanner) (ModelUsage, error) {
		var (
			u       ModelUsage
			in, out int64
		)
		if err := sc.Scan(&u.Model, &u.Calls, &in, &out); err != nil {
			return u, err
		}
		u.InputTokens, u.OutputTokens = int(in), int(out)
		return u, nil
	})
}
