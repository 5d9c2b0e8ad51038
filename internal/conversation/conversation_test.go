package conversation

import (
	"errors"
	"testing"
	"time"

	"github.com/abhisek/studyloop/internal/apperr"
	"github.com/google/go-cmp/cmp"
)

var t0 = time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)

func TestAppend_KeepsOrder(t *testing.T) {
	c := New("s1", "kb1", t0)
	for i, role := range []Role{RoleUser, RoleAssistant, RoleUser} {
		if err := c.Append(Message{Role: role, Content: "m", At: t0.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if len(c.Messages) != 3 {
		t.Fatalf("len(Messages) = %d", len(c.Messages))
	}
	if !c.UpdatedAt.Equal(t0.Add(2 * time.Minute)) {
		t.Errorf("UpdatedAt = %v", c.UpdatedAt)
	}
}

func TestAppend_SameTimestampAllowed(t *testing.T) {
	c := New("s1", "kb1", t0)
	_ = c.Append(Message{Role: RoleUser, Content: "q", At: t0})
	if err := c.Append(Message{Role: RoleAssistant, Content: "a", At: t0}); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestAppend_Rejects(t *testing.T) {
	c := New("s1", "kb1", t0)
	_ = c.Append(Message{Role: RoleUser, Content: "q", At: t0.Add(time.Hour)})

	tests := []struct {
		name string
		msg  Message
	}{
		{"out of order", Message{Role: RoleAssistant, Content: "a", At: t0}},
		{"bad role", Message{Role: "tool", Content: "a", At: t0.Add(2 * time.Hour)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Append(tt.msg); !errors.Is(err, apperr.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if len(c.Messages) != 1 {
				t.Fatalf("history mutated: %d messages", len(c.Messages))
			}
		})
	}
}

func TestReference_Deduplicates(t *testing.T) {
	c := New("s1", "kb1", t0)
	c.Reference("a", "b")
	c.Reference("b", "c", "", "a")
	if diff := cmp.Diff([]string{"a", "b", "c"}, c.ChunkRefs); diff != "" {
		t.Errorf("ChunkRefs mismatch (-want +got):\n%s", diff)
	}
}

func TestRecent(t *testing.T) {
	c := New("s1", "kb1", t0)
	for i := 0; i < 12; i++ {
		_ = c.Append(Message{Role: RoleUser, Content: string(rune('a' + i)), At: t0.Add(time.Duration(i) * time.Second)})
	}
	got := c.Recent(10)
	if len(got) != 10 || got[0].Content != "c" || got[9].Content != "l" {
		t.Fatalf("Recent(10) = %+v", got)
	}
	if len(c.Recent(50)) != 12 {
		t.Error("Recent beyond length should return everything")
	}
	if c.Recent(0) != nil {
		t.Error("Recent(0) should be nil")
	}
}

func TestLastActivity(t *testing.T) {
	c := New("s1", "kb1", t0)
	if !c.LastActivity().Equal(t0) {
		t.Errorf("empty conversation LastActivity = %v", c.LastActivity())
	}
	_ = c.Append(Message{Role: RoleUser, Content: "q", At: t0.Add(48 * time.Hour)})
	if !c.LastActivity().Equal(t0.Add(48 * time.Hour)) {
		t.Errorf("LastActivity = %v", c.LastActivity())
	}
}
