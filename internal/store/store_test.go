package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/abhisek/studyloop/internal/apperr"
	"github.com/abhisek/studyloop/internal/challenge"
	"github.com/abhisek/studyloop/internal/chunks"
	"github.com/abhisek/studyloop/internal/conversation"
	"github.com/abhisek/studyloop/internal/llm"
	"github.com/abhisek/studyloop/internal/notify"
	"github.com/abhisek/studyloop/internal/progress"
	"github.com/abhisek/studyloop/internal/reminders"
	"github.com/abhisek/studyloop/internal/spacedrep"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 4, 2, 9, 30, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := Open(context.Background(), "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err, "open test store")
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_MigratesAllTables(t *testing.T) {
	s := openTestStore(t)

	for _, tbl := range Tables {
		var name string
		err := s.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", tbl.Name).Scan(&name)
		require.NoError(t, err, "table %s", tbl.Name)
	}
	require.NoError(t, s.Migrate(context.Background()), "migration is idempotent")
}

func TestPragmasApplied(t *testing.T) {
	s := openTestStore(t)

	var fk int
	require.NoError(t, s.DB().QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
	var timeout int
	require.NoError(t, s.DB().QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func TestChunkRepo_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	repo := s.ChunkRepo()
	ctx := context.Background()

	c := chunks.New("kb1", "Photosynthesis converts light.", chunks.Source{Type: "pdf", Page: 3, Section: "Plants"}, 0, t0)
	c.ContextWindow = "Chapter 2"
	require.NoError(t, repo.Save(ctx, c))
	pending := chunks.New("kb1", "Second chunk", chunks.Source{}, 1, t0)
	require.NoError(t, repo.Save(ctx, pending))
	require.NoError(t, c.SetEmbedding([]float32{0.25, -1, 3.5}, 3, t0.Add(time.Minute)))
	require.NoError(t, repo.Save(ctx, c))

	got, err := repo.FindByID(ctx, c.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(c, got); diff != "" {
		t.Errorf("chunk mismatch (-want +got):\n%s", diff)
	}

	all, err := repo.FindByKnowledgeBase(ctx, "kb1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, c.ID, all[0].ID, "ordered by position")

	embedded, err := repo.FindEmbedded(ctx, "kb1")
	require.NoError(t, err)
	require.Len(t, embedded, 1)
	assert.Equal(t, c.ID, embedded[0].ID)

	require.NoError(t, repo.Delete(ctx, c.ID))
	_, err = repo.FindByID(ctx, c.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestChunkRepo_ClaimLease(t *testing.T) {
	s := openTestStore(t)
	repo := s.ChunkRepo()
	ctx := context.Background()

	for i := range 3 {
		require.NoError(t, repo.Save(ctx, chunks.New("kb", "chunk", chunks.Source{}, i, t0)))
	}

	a, err := repo.ClaimPending(ctx, "A", 2, t0, t0.Add(-10*time.Minute))
	require.NoError(t, err)
	require.Len(t, a, 2)

	b, err := repo.ClaimPending(ctx, "B", 5, t0.Add(time.Minute), t0.Add(-9*time.Minute))
	require.NoError(t, err)
	require.Len(t, b, 1, "only the unclaimed chunk is free")
	assert.Equal(t, 2, b[0].Position)

	// A's lease goes stale before B's and C takes A's chunks over.
	later := t0.Add(20 * time.Minute)
	c, err := repo.ClaimPending(ctx, "C", 5, later, t0.Add(30*time.Second))
	require.NoError(t, err)
	require.Len(t, c, 2)

	require.NoError(t, a[0].SetEmbedding([]float32{1}, 1, later))
	err = repo.CompleteClaim(ctx, a[0], "A")
	assert.True(t, errors.Is(err, apperr.ErrInvalidState), "stale holder cannot write, got %v", err)

	require.NoError(t, repo.CompleteClaim(ctx, a[0], "C"))
	got, err := repo.FindByID(ctx, a[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, got.Embedding)

	require.NoError(t, repo.ReleaseClaim(ctx, b[0].ID, "B"))
	again, err := repo.ClaimPending(ctx, "D", 5, later, later.Add(-10*time.Minute))
	require.NoError(t, err)
	require.Len(t, again, 1, "released chunk is claimable again")
	assert.Equal(t, b[0].ID, again[0].ID)
}

func TestConversationRepo(t *testing.T) {
	s := openTestStore(t)
	repo := s.ConversationRepo()
	ctx := context.Background()

	old := conversation.New("s1", "kb1", t0)
	require.NoError(t, old.Append(conversation.Message{Role: conversation.RoleUser, Content: "hi", At: t0}))
	require.NoError(t, repo.Save(ctx, old))

	recent := conversation.New("s1", "kb1", t0.Add(time.Hour))
	require.NoError(t, recent.Append(conversation.Message{Role: conversation.RoleUser, Content: "q", Tokens: 2, At: t0.Add(time.Hour)}))
	require.NoError(t, recent.Append(conversation.Message{Role: conversation.RoleAssistant, Content: "a", At: t0.Add(time.Hour + time.Second)}))
	recent.Reference("c1", "c2")
	require.NoError(t, repo.Save(ctx, recent))

	got, err := repo.FindLatest(ctx, "s1", "kb1")
	require.NoError(t, err)
	if diff := cmp.Diff(recent, got); diff != "" {
		t.Errorf("latest mismatch (-want +got):\n%s", diff)
	}

	all, err := repo.FindByStudent(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = repo.FindLatest(ctx, "s1", "other")
	assert.True(t, apperr.IsNotFound(err))

	require.NoError(t, repo.Delete(ctx, old.ID))
	_, err = repo.FindByID(ctx, old.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestReviewRepo_FindDue(t *testing.T) {
	s := openTestStore(t)
	repo := s.ReviewRepo()
	ctx := context.Background()

	fresh := spacedrep.NewItem("s1", "kb1", "c1", t0)
	reviewed := spacedrep.NewItem("s1", "kb1", "c2", t0)
	require.NoError(t, reviewed.Review(4, t0))
	future := spacedrep.NewItem("s2", "kb2", "c3", t0)
	require.NoError(t, future.Review(5, t0))
	require.NoError(t, future.Review(5, t0.Add(24*time.Hour)))
	for _, it := range []*spacedrep.Item{fresh, reviewed, future} {
		require.NoError(t, repo.Save(ctx, it))
	}

	got, err := repo.FindByID(ctx, reviewed.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(reviewed, got); diff != "" {
		t.Errorf("item mismatch (-want +got):\n%s", diff)
	}

	due, err := repo.FindDue(ctx, t0.Add(25*time.Hour))
	require.NoError(t, err)
	ids := make([]string, len(due))
	for i, it := range due {
		ids[i] = it.ID
	}
	assert.ElementsMatch(t, []string{fresh.ID, reviewed.ID}, ids)

	mine, err := repo.FindByStudent(ctx, "s1", "")
	require.NoError(t, err)
	assert.Len(t, mine, 2)
	other, err := repo.FindByStudent(ctx, "s2", "kb1")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestReminderRepo(t *testing.T) {
	s := openTestStore(t)
	repo := s.ReminderRepo()
	ctx := context.Background()

	mk := func(id string, prio float64, at time.Time, active bool) *reminders.Reminder {
		return &reminders.Reminder{
			ID: id, StudentID: "s1", Type: reminders.TypeCustom, Title: id, Message: "m",
			ScheduledAt: at, Priority: prio, Active: active, Recurring: true, Pattern: reminders.Daily,
			CreatedAt: t0, UpdatedAt: t0,
		}
	}
	for _, r := range []*reminders.Reminder{
		mk("low", 1.0, t0.Add(-time.Hour), true),
		mk("high", 3.0, t0, true),
		mk("later", 5.0, t0.Add(time.Hour), true),
		mk("off", 9.0, t0.Add(-time.Hour), false),
	} {
		require.NoError(t, repo.Save(ctx, r))
	}

	due, err := repo.FindDue(ctx, t0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "high", due[0].ID)
	assert.Equal(t, "low", due[1].ID)

	due[0].MarkAsSent(t0)
	require.NoError(t, repo.Save(ctx, due[0]))
	got, err := repo.FindByID(ctx, "high")
	require.NoError(t, err)
	if diff := cmp.Diff(due[0], got); diff != "" {
		t.Errorf("reminder mismatch (-want +got):\n%s", diff)
	}

	active, err := repo.FindActiveByStudent(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, active, 3)
}

func TestProgressRepo(t *testing.T) {
	s := openTestStore(t)
	repo := s.ProgressRepo()
	ctx := context.Background()

	_, err := repo.Find(ctx, "s1", "kb")
	require.True(t, apperr.IsNotFound(err))

	svc := progress.NewService(repo, progress.WithClock(func() time.Time { return t0 }))
	_, earned, err := svc.RecordChallenge(ctx, "s1", "kb", true, 120)
	require.NoError(t, err)
	assert.Len(t, earned, 2)
	_, _, err = svc.RecordChallenge(ctx, "s2", "kb", true, 30)
	require.NoError(t, err)
	_, _, err = svc.RecordChallenge(ctx, "s3", "other", true, 500)
	require.NoError(t, err)

	p, err := repo.Find(ctx, "s1", "kb")
	require.NoError(t, err)
	assert.Equal(t, 120, p.TotalPoints)
	assert.Equal(t, 1, p.CurrentStreak)
	assert.True(t, p.Has("points_100"))
	assert.True(t, p.LastChallengeAt.Equal(t0))

	board, err := svc.Leaderboard(ctx, "kb", 10)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "s1", board[0].StudentID)
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, "s2", board[1].StudentID)
}

func TestChallengeRepo(t *testing.T) {
	s := openTestStore(t)
	repo := s.ChallengeRepo()
	ctx := context.Background()

	yes := true
	answered := &challenge.Challenge{
		ID: "a", StudentID: "s1", KnowledgeBaseID: "kb", Type: challenge.TypeQuiz, Title: "Q",
		Content: "Pick one", Options: []string{"x", "y"}, CorrectAnswer: "x", Points: 20,
		ScheduledFor: t0, SentAt: t0, AnsweredAt: t0.Add(time.Hour), StudentAnswer: "x",
		IsCorrect: &yes, PointsEarned: 20, CreatedAt: t0, UpdatedAt: t0,
	}
	ungraded := &challenge.Challenge{
		ID: "b", StudentID: "s1", KnowledgeBaseID: "kb", Type: challenge.TypeScenario, Title: "S",
		ScheduledFor: t0.Add(-time.Hour), CreatedAt: t0, UpdatedAt: t0,
	}
	tomorrow := &challenge.Challenge{
		ID: "c", StudentID: "s1", KnowledgeBaseID: "kb", Type: challenge.TypeCode,
		ScheduledFor: t0.Add(24 * time.Hour), CreatedAt: t0, UpdatedAt: t0,
	}
	for _, c := range []*challenge.Challenge{answered, ungraded, tomorrow} {
		require.NoError(t, repo.Save(ctx, c))
	}

	for _, want := range []*challenge.Challenge{answered, ungraded} {
		got, err := repo.FindByID(ctx, want.ID)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("challenge %s mismatch (-want +got):\n%s", want.ID, diff)
		}
	}

	day := time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)
	today, err := repo.FindScheduled(ctx, "s1", "kb", day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, today, 2)
	assert.Equal(t, "b", today[0].ID)

	unsent, err := repo.FindUnsent(ctx, t0)
	require.NoError(t, err)
	require.Len(t, unsent, 1)
	assert.Equal(t, "b", unsent[0].ID)
}

func TestChallengeRepo_SaveAnswerOnlyOnce(t *testing.T) {
	s := openTestStore(t)
	repo := s.ChallengeRepo()
	ctx := context.Background()

	c := &challenge.Challenge{
		ID: "q", StudentID: "s1", KnowledgeBaseID: "kb", Type: challenge.TypeScenario, Points: 24,
		ScheduledFor: t0, CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, repo.Save(ctx, c))

	first, second := *c, *c
	require.NoError(t, first.Submit("first", challenge.Ungraded(), t0.Add(time.Hour)))
	require.NoError(t, second.Submit("second", challenge.Ungraded(), t0.Add(2*time.Hour)))

	require.NoError(t, repo.SaveAnswer(ctx, &first))
	err := repo.SaveAnswer(ctx, &second)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	got, err := repo.FindByID(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, "first", got.StudentAnswer)
	assert.Nil(t, got.IsCorrect)
	assert.True(t, got.AnsweredAt.Equal(t0.Add(time.Hour)))

	missing := first
	missing.ID = "nope"
	assert.True(t, apperr.IsNotFound(repo.SaveAnswer(ctx, &missing)))
}

func TestNotificationAndPreferenceRepos(t *testing.T) {
	s := openTestStore(t)
	notes, prefs := s.NotificationRepo(), s.PreferenceRepo()
	ctx := context.Background()

	_, err := prefs.FindByStudent(ctx, "s1")
	require.True(t, apperr.IsNotFound(err))

	p := notify.NewPreference("s1", t0)
	p.SetContact(notify.ChannelEmail, "s1@example.com", t0)
	require.NoError(t, prefs.Save(ctx, p))
	p.Priority = []notify.Channel{notify.ChannelEmail}
	require.NoError(t, prefs.Save(ctx, p))
	gotPref, err := prefs.FindByStudent(ctx, "s1")
	require.NoError(t, err)
	if diff := cmp.Diff(p, gotPref); diff != "" {
		t.Errorf("preference mismatch (-want +got):\n%s", diff)
	}

	first := &notify.Notification{ID: "01A", StudentID: "s1", Subject: "x", Content: "y",
		Channel: notify.ChannelEmail, Status: notify.StatusPending, CreatedAt: t0, UpdatedAt: t0}
	second := &notify.Notification{ID: "01B", StudentID: "s1", Subject: "x", Content: "z",
		Channel: notify.ChannelTelegram, Status: notify.StatusPending, CreatedAt: t0.Add(time.Second), UpdatedAt: t0}
	require.NoError(t, notes.Save(ctx, first))
	require.NoError(t, notes.Save(ctx, second))
	first.MarkSent("ext-1", t0.Add(time.Minute))
	require.NoError(t, notes.Save(ctx, first))

	got, err := notes.FindByID(ctx, "01A")
	require.NoError(t, err)
	if diff := cmp.Diff(first, got); diff != "" {
		t.Errorf("notification mismatch (-want +got):\n%s", diff)
	}

	list, err := notes.FindByStudent(ctx, "s1", 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "01B", list[0].ID, "newest first")
}

func TestStudentRepo(t *testing.T) {
	s := openTestStore(t)
	repo := s.StudentRepo()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &Student{ID: "s2", Name: "Bo", CreatedAt: t0}))
	require.NoError(t, repo.Save(ctx, &Student{ID: "s1", Name: "Al", CreatedAt: t0}))
	require.NoError(t, repo.Save(ctx, &Student{ID: "s1", Name: "Alex", CreatedAt: t0.Add(time.Hour)}))
	assert.True(t, errors.Is(repo.Save(ctx, &Student{}), apperr.ErrInvalidInput))

	st, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Alex", st.Name)
	assert.True(t, st.CreatedAt.Equal(t0), "created_at is kept on rename")

	ids, err := repo.ListStudentIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids)

	assert.True(t, apperr.IsNotFound(repo.Subscribe(ctx, "ghost", "kb", t0)))
	require.NoError(t, repo.Subscribe(ctx, "s1", "kb1", t0))
	require.NoError(t, repo.Subscribe(ctx, "s1", "kb2", t0))
	require.NoError(t, repo.Subscribe(ctx, "s2", "kb1", t0))
	require.NoError(t, repo.Unsubscribe(ctx, "s1", "kb2"))
	assert.True(t, apperr.IsNotFound(repo.Unsubscribe(ctx, "s2", "kb9")))

	subs, err := repo.ActiveSubscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []challenge.Subscription{
		{StudentID: "s1", KnowledgeBaseID: "kb1"},
		{StudentID: "s2", KnowledgeBaseID: "kb1"},
	}, subs)

	require.NoError(t, repo.Subscribe(ctx, "s1", "kb2", t0))
	subs, err = repo.ActiveSubscriptions(ctx)
	require.NoError(t, err)
	assert.Len(t, subs, 3, "resubscribing reactivates")
}

func TestEventRepo(t *testing.T) {
	s := openTestStore(t)
	repo := s.EventRepo()
	repo.now = func() time.Time { return t0 }
	ctx := context.Background()

	var _ llm.EventRepo = repo
	events := []llm.RequestEvent{
		{Provider: "anthropic", Model: "claude-x", Purpose: "tutor", InputTokens: 100, OutputTokens: 20, LatencyMs: 300, Success: true},
		{Provider: "anthropic", Model: "claude-x", Purpose: "tutor", InputTokens: 50, OutputTokens: 10, LatencyMs: 100, Success: true},
		{Provider: "openai", Model: "gpt-y", Purpose: "challenge-gen", InputTokens: 10, OutputTokens: 5, LatencyMs: 50, ErrorMessage: "boom"},
	}
	for _, e := range events {
		require.NoError(t, repo.AppendLLMRequest(ctx, e))
	}

	all, err := repo.QueryLLMEvents(ctx, QueryOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "challenge-gen", all[0].Purpose, "newest first")
	assert.False(t, all[0].Success)
	assert.True(t, all[0].Timestamp.Equal(t0))

	tutor, err := repo.QueryLLMEvents(ctx, QueryOpts{Purpose: "tutor", Limit: 1})
	require.NoError(t, err)
	require.Len(t, tutor, 1)
	assert.Equal(t, 50, tutor[0].InputTokens)

	e, err := repo.GetLLMEvent(ctx, all[2].ID)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, 100, e.InputTokens)
	missing, err := repo.GetLLMEvent(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	byPurpose, err := repo.LLMUsageByPurpose(ctx)
	require.NoError(t, err)
	require.Len(t, byPurpose, 2)
	assert.Equal(t, PurposeUsage{Purpose: "tutor", Calls: 2, InputTokens: 150, OutputTokens: 30, AvgLatencyMs: 200}, byPurpose[0])

	byModel, err := repo.LLMUsageByModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ModelUsage{
		{Model: "claude-x", Calls: 2, InputTokens: 150, OutputTokens: 30},
		{Model: "gpt-y", Calls: 1, InputTokens: 10, OutputTokens: 5},
	}, byModel)
}
