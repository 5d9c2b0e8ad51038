package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/abhisek/studyloop/internal/vecsim"
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	m := NewMock(32)
	a, err := m.Embed(context.Background(), "Photosynthesis converts light")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := m.Embed(context.Background(), "photosynthesis CONVERTS light!")
	if len(a) != 32 {
		t.Fatalf("len = %d, want 32", len(a))
	}
	score, err := vecsim.Cosine(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if score < 0.999 {
		t.Errorf("same words scored %f, want ~1", score)
	}
}

func TestMockEmbedder_EmptyTextIsZeroVector(t *testing.T) {
	v, err := NewMock(8).Embed(context.Background(), "   ")
	if err != nil {
		t.Fatal(err)
	}
	for _, x := range v {
		if x != 0 {
			t.Fatalf("expected zero vector, got %v", v)
		}
	}
}

func TestMockEmbedder_Err(t *testing.T) {
	m := NewMock(8)
	m.Err = errors.New("down")
	if _, err := m.EmbedBatch(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected error")
	}
	if m.Calls() != 1 {
		t.Errorf("Calls = %d, want 1", m.Calls())
	}
}

func TestInBatches(t *testing.T) {
	texts := make([]string, 250)
	var sizes []int
	out, err := inBatches(context.Background(), texts, MaxBatch, func(_ context.Context, batch []string) ([][]float32, error) {
		sizes = append(sizes, len(batch))
		return make([][]float32, len(batch)), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 250 {
		t.Errorf("len(out) = %d", len(out))
	}
	if len(sizes) != 3 || sizes[0] != 100 || sizes[1] != 100 || sizes[2] != 50 {
		t.Errorf("batch sizes = %v", sizes)
	}
}

func TestInBatches_CountMismatch(t *testing.T) {
	_, err := inBatches(context.Background(), []string{"a", "b"}, MaxBatch, func(context.Context, []string) ([][]float32, error) {
		return make([][]float32, 1), nil
	})
	if err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestOpenAIEmbedder_OrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Input) != 2 {
			t.Errorf("input len = %d", len(req.Input))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"m","data":[
			{"object":"embedding","index":1,"embedding":[0,1]},
			{"object":"embedding","index":0,"embedding":[1,0]}
		]}`))
	}))
	defer srv.Close()

	e := NewOpenAI(Config{APIKey: "k", BaseURL: srv.URL, Model: "m", Dimensions: 2})
	vecs, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("vectors out of order: %v", vecs)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"mock", Config{Provider: "mock", Dimensions: 8}, false},
		{"openai without key", Config{Provider: "openai", Dimensions: 8}, true},
		{"openai", Config{Provider: "openai", APIKey: "k", Dimensions: 8}, false},
		{"unknown", Config{Provider: "cohere", Dimensions: 8}, true},
		{"zero dims", Config{Provider: "mock"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigFromEnv_FallsBackToLLMKey(t *testing.T) {
	t.Setenv("STUDYLOOP_EMBEDDING_PROVIDER", "openai")
	t.Setenv("STUDYLOOP_EMBEDDING_API_KEY", "")
	t.Setenv("STUDYLOOP_OPENAI_API_KEY", "sk-test")
	t.Setenv("STUDYLOOP_EMBEDDING_DIMENSIONS", "256")

	cfg := ConfigFromEnv()
	if cfg.APIKey != "sk-test" {
		t.Errorf("APIKey = %q", cfg.APIKey)
	}
	if cfg.Dimensions != 256 {
		t.Errorf("Dimensions = %d", cfg.Dimensions)
	}
}
