package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func retryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		InitialWait: 1 * time.Millisecond,
		MaxWait:     10 * time.Millisecond,
		Multiplier:  2.0,
	}
}

var down = &ErrProviderUnavailable{Err: errors.New("down")}

func TestRetry_Generate(t *testing.T) {
	tests := []struct {
		name      string
		responses []MockResponse
		wantErr   bool
		wantCalls int
	}{
		{"first attempt", []MockResponse{TextResponse("ok")}, false, 1},
		{"transient then success", []MockResponse{{Err: down}, TextResponse("ok")}, false, 2},
		{"all attempts fail", []MockResponse{{Err: down}, {Err: down}, {Err: down}, TextResponse("never")}, true, 3},
		{"max tokens not retried", []MockResponse{{Err: &ErrMaxTokensExceeded{}}, TextResponse("never")}, true, 1},
		{"invalid response retried once", []MockResponse{
			{Err: &ErrInvalidResponse{Content: json.RawMessage(`bad`), Err: errors.New("bad")}},
			{Err: &ErrInvalidResponse{Content: json.RawMessage(`bad`), Err: errors.New("bad")}},
			TextResponse("never"),
		}, true, 2},
		{"rate limit honours retry-after", []MockResponse{
			{Err: &ErrRateLimit{RetryAfter: time.Millisecond, Err: errors.New("429")}},
			TextResponse("ok"),
		}, false, 2},
		{"rejected request not retried", []MockResponse{{Err: &ErrRequestRejected{Status: 401, Err: errors.New("bad key")}}, TextResponse("never")}, true, 1},
		{"context error not retried", []MockResponse{{Err: context.DeadlineExceeded}, TextResponse("never")}, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockProvider(tt.responses...)
			resp, err := WithRetry(mock, retryConfig()).Generate(context.Background(), Request{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && resp.Text() != "ok" {
				t.Errorf("Text() = %q, want ok", resp.Text())
			}
			if mock.CallCount() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", mock.CallCount(), tt.wantCalls)
			}
		})
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	mock := NewMockProvider(MockResponse{Err: down}, TextResponse("ok"))
	p := WithRetry(mock, RetryConfig{MaxAttempts: 3, InitialWait: time.Hour, MaxWait: time.Hour, Multiplier: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Generate(ctx, Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// brokenStreamer emits one fragment and then fails.
type brokenStreamer struct {
	*MockProvider
	streams int
}

func (b *brokenStreamer) Stream(_ context.Context, _ Request, onDelta func(string) error) (*Response, error) {
	b.streams++
	if err := onDelta("partial "); err != nil {
		return nil, err
	}
	return nil, down
}

func TestRetry_StreamNotRetriedAfterDelivery(t *testing.T) {
	inner := &brokenStreamer{MockProvider: NewMockProvider()}
	p := WithRetry(inner, retryConfig()).(*RetryProvider)

	var got string
	_, err := p.Stream(context.Background(), Request{}, func(s string) error { got += s; return nil })
	if err == nil {
		t.Fatal("expected error")
	}
	if inner.streams != 1 {
		t.Errorf("streams = %d, want 1", inner.streams)
	}
	if got != "partial " {
		t.Errorf("delivered %q, want %q", got, "partial ")
	}
}

func TestRetry_StreamRetriedBeforeDelivery(t *testing.T) {
	mock := NewMockProvider(MockResponse{Err: down}, TextResponse("all good"))
	p := WithRetry(mock, retryConfig()).(*RetryProvider)

	var got string
	resp, err := p.Stream(context.Background(), Request{}, func(s string) error { got += s; return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "all good" || resp.Text() != "all good" {
		t.Errorf("delivered %q / text %q, want %q", got, resp.Text(), "all good")
	}
	if mock.CallCount() != 2 {
		t.Errorf("calls = %d, want 2", mock.CallCount())
	}
}

func TestRetry_ModelIDDelegates(t *testing.T) {
	if id := WithRetry(NewMockProvider(), retryConfig()).ModelID(); id != "mock" {
		t.Fatalf("expected 'mock', got %q", id)
	}
}
