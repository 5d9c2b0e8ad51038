package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/abhisek/studyloop/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memNotes struct {
	mu    sync.Mutex
	notes map[string]Notification
	saves []Notification
}

func newMemNotes() *memNotes { return &memNotes{notes: map[string]Notification{}} }

func (m *memNotes) Save(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes[n.ID] = *n
	m.saves = append(m.saves, *n)
	return nil
}

func (m *memNotes) FindByID(_ context.Context, id string) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[id]
	if !ok {
		return nil, apperr.NotFound("memNotes.FindByID", "notification %s", id)
	}
	return &n, nil
}

func (m *memNotes) FindByStudent(context.Context, string, int) ([]*Notification, error) {
	return nil, nil
}

type memPrefs map[string]*Preference

func (m memPrefs) FindByStudent(_ context.Context, id string) (*Preference, error) {
	if p, ok := m[id]; ok {
		return p, nil
	}
	return nil, apperr.NotFound("memPrefs.FindByStudent", "preferences for %s", id)
}

func (m memPrefs) Save(_ context.Context, p *Preference) error {
	m[p.StudentID] = p
	return nil
}

// fakeSender records sends and fails when err is set.
type fakeSender struct {
	ch    Channel
	err   error
	sent  []string
	nosup bool
}

func (f *fakeSender) Channel() Channel { return f.ch }

func (f *fakeSender) Supports(n *Notification) bool { return !f.nosup && n.Channel == f.ch }

func (f *fakeSender) Send(_ context.Context, n *Notification, recipient string) (string, error) {
	f.sent = append(f.sent, recipient)
	if f.err != nil {
		return "", f.err
	}
	return string(f.ch) + "-msg-1", nil
}

var fixedNow = time.Date(2025, 5, 6, 8, 0, 0, 0, time.UTC)

func prefsWith(contacts map[Channel]string) memPrefs {
	p := NewPreference("s1", fixedNow)
	for ch, addr := range contacts {
		p.SetContact(ch, addr, fixedNow)
	}
	return memPrefs{"s1": p}
}

func newTestDispatcher(notes Repository, prefs PreferenceRepository, senders ...Sender) *Dispatcher {
	return NewDispatcher(notes, prefs, senders, WithClock(func() time.Time { return fixedNow }))
}

func TestSend_FirstChannelSucceeds(t *testing.T) {
	tg := &fakeSender{ch: ChannelTelegram}
	email := &fakeSender{ch: ChannelEmail}
	notes := newMemNotes()
	d := newTestDispatcher(notes, prefsWith(map[Channel]string{ChannelTelegram: "42", ChannelEmail: "a@b.c"}), tg, email)

	n, err := d.Send(context.Background(), Message{StudentID: "s1", Subject: "Hi", Content: "Body"})
	require.NoError(t, err)
	assert.Equal(t, ChannelTelegram, n.Channel)
	assert.Equal(t, StatusSent, n.Status)
	assert.Equal(t, "telegram-msg-1", n.ExternalID)
	assert.Equal(t, []string{"42"}, tg.sent)
	assert.Empty(t, email.sent)
	assert.Len(t, notes.saves, 1)
}

func TestSend_FallsThroughOnFailure(t *testing.T) {
	tg := &fakeSender{ch: ChannelTelegram, err: errors.New("bot blocked")}
	email := &fakeSender{ch: ChannelEmail}
	notes := newMemNotes()
	d := newTestDispatcher(notes, prefsWith(map[Channel]string{ChannelTelegram: "42", ChannelEmail: "a@b.c"}), tg, email)

	n, err := d.Send(context.Background(), Message{StudentID: "s1", Subject: "Hi", Content: "Body"})
	require.NoError(t, err)
	assert.Equal(t, ChannelEmail, n.Channel)
	require.Len(t, notes.saves, 2)
	assert.Equal(t, StatusFailed, notes.saves[0].Status)
	assert.Equal(t, "bot blocked", notes.saves[0].Error)
	assert.Equal(t, StatusSent, notes.saves[1].Status)
}

func TestSend_SkipsChannelsWithoutContactOrSender(t *testing.T) {
	email := &fakeSender{ch: ChannelEmail}
	wa := &fakeSender{ch: ChannelWhatsApp}
	d := newTestDispatcher(newMemNotes(),
		prefsWith(map[Channel]string{ChannelTelegram: "42", ChannelWhatsApp: "+1 555 0100"}), email, wa)

	n, err := d.Send(context.Background(), Message{StudentID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, ChannelWhatsApp, n.Channel)
	assert.Empty(t, email.sent)
}

func TestSend_PreferredChannelFirst(t *testing.T) {
	tg := &fakeSender{ch: ChannelTelegram}
	wa := &fakeSender{ch: ChannelWhatsApp}
	d := newTestDispatcher(newMemNotes(),
		prefsWith(map[Channel]string{ChannelTelegram: "42", ChannelWhatsApp: "15550100"}), tg, wa)

	n, err := d.Send(context.Background(), Message{StudentID: "s1", Preferred: ChannelWhatsApp})
	require.NoError(t, err)
	assert.Equal(t, ChannelWhatsApp, n.Channel)
	assert.Empty(t, tg.sent)
}

func TestSend_UnsupportedSenderSkipped(t *testing.T) {
	tg := &fakeSender{ch: ChannelTelegram, nosup: true}
	email := &fakeSender{ch: ChannelEmail}
	d := newTestDispatcher(newMemNotes(),
		prefsWith(map[Channel]string{ChannelTelegram: "42", ChannelEmail: "a@b.c"}), tg, email)

	n, err := d.Send(context.Background(), Message{StudentID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, ChannelEmail, n.Channel)
	assert.Empty(t, tg.sent)
}

func TestSend_AllChannelsFail(t *testing.T) {
	tg := &fakeSender{ch: ChannelTelegram, err: errors.New("down")}
	email := &fakeSender{ch: ChannelEmail, err: errors.New("bounced")}
	d := newTestDispatcher(newMemNotes(), prefsWith(map[Channel]string{ChannelTelegram: "42", ChannelEmail: "a@b.c"}), tg, email)

	n, err := d.Send(context.Background(), Message{StudentID: "s1"})
	require.ErrorIs(t, err, apperr.ErrUpstream)
	assert.Contains(t, err.Error(), "down")
	assert.Contains(t, err.Error(), "bounced")
	require.NotNil(t, n)
	assert.Equal(t, StatusFailed, n.Status)
}

func TestSend_Rejections(t *testing.T) {
	disabled := NewPreference("s2", fixedNow)
	disabled.Enabled = false
	prefs := memPrefs{"s1": NewPreference("s1", fixedNow), "s2": disabled}
	d := newTestDispatcher(newMemNotes(), prefs, &fakeSender{ch: ChannelTelegram})

	_, err := d.Send(context.Background(), Message{StudentID: "s1"})
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "no contacts")
	_, err = d.Send(context.Background(), Message{StudentID: "s2"})
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "disabled")
	_, err = d.Send(context.Background(), Message{StudentID: "nobody"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRetry(t *testing.T) {
	tg := &fakeSender{ch: ChannelTelegram, err: errors.New("down")}
	notes := newMemNotes()
	d := newTestDispatcher(notes, prefsWith(map[Channel]string{ChannelTelegram: "42"}), tg)
	ctx := context.Background()

	failed, err := d.Send(ctx, Message{StudentID: "s1"})
	require.Error(t, err)

	for i := 1; i <= DefaultMaxRetries; i++ {
		n, err := d.Retry(ctx, failed.ID)
		require.ErrorIs(t, err, apperr.ErrUpstream)
		assert.Equal(t, i, n.RetryCount)
	}
	_, err = d.Retry(ctx, failed.ID)
	require.ErrorIs(t, err, apperr.ErrInvalidState)

	tg.err = nil
	saved, _ := notes.FindByID(ctx, failed.ID)
	saved.RetryCount = 0
	_ = notes.Save(ctx, saved)
	n, err := d.Retry(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, n.Status)

	_, err = d.Retry(ctx, failed.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "sent notifications are not retried")
}

func TestMarkDeliveredAndRead(t *testing.T) {
	notes := newMemNotes()
	d := newTestDispatcher(notes, prefsWith(map[Channel]string{ChannelTelegram: "42"}), &fakeSender{ch: ChannelTelegram})
	ctx := context.Background()
	n, err := d.Send(ctx, Message{StudentID: "s1"})
	require.NoError(t, err)

	require.NoError(t, d.MarkDelivered(ctx, n.ID))
	got, _ := notes.FindByID(ctx, n.ID)
	assert.Equal(t, StatusDelivered, got.Status)
	assert.Equal(t, fixedNow, got.DeliveredAt)

	require.NoError(t, d.MarkRead(ctx, n.ID))
	got, _ = notes.FindByID(ctx, n.ID)
	assert.Equal(t, StatusRead, got.Status)

	assert.True(t, apperr.IsNotFound(d.MarkRead(ctx, "missing")))
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":987}}`)
	}))
	defer srv.Close()

	s := NewTelegram(TelegramConfig{BotToken: "TOKEN", BaseURL: srv.URL}, srv.Client())
	id, err := s.Send(context.Background(), &Notification{Channel: ChannelTelegram, Subject: "A<b>", Content: "x & y"}, "42")
	require.NoError(t, err)
	assert.Equal(t, "987", id)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, "<b>A&lt;b&gt;</b>\n\nx &amp; y", got["text"])
}

func TestTelegramSender_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"ok":false,"description":"bot was blocked by the user"}`)
	}))
	defer srv.Close()

	s := NewTelegram(TelegramConfig{BotToken: "T", BaseURL: srv.URL}, srv.Client())
	_, err := s.Send(context.Background(), &Notification{Channel: ChannelTelegram}, "42")
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusForbidden, httpErr.Status)
	assert.Contains(t, httpErr.Body, "blocked")
}

func TestWhatsAppSender(t *testing.T) {
	var got struct {
		To   string `json:"to"`
		Type string `json:"type"`
		Text struct {
			Body string `json:"body"`
		} `json:"text"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/PHONE/messages", r.URL.Path)
		assert.Equal(t, "Bearer TOK", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"messages":[{"id":"wamid.ABC"}]}`)
	}))
	defer srv.Close()

	s := NewWhatsApp(WhatsAppConfig{AccessToken: "TOK", PhoneNumberID: "PHONE", BaseURL: srv.URL}, srv.Client())
	id, err := s.Send(context.Background(), &Notification{Channel: ChannelWhatsApp, Subject: "Quiz", Content: "Ready?"}, "+1 (555) 010-0000")
	require.NoError(t, err)
	assert.Equal(t, "wamid.ABC", id)
	assert.Equal(t, "15550100000", got.To)
	assert.Equal(t, "text", got.Type)
	assert.Equal(t, "*Quiz*\n\nReady?", got.Text.Body)
}

func TestSendGridSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer SG", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("X-Message-Id", "sg-123")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewSendGrid(SendGridConfig{APIKey: "SG", FromEmail: "tutor@example.com", BaseURL: srv.URL}, srv.Client())
	id, err := s.Send(context.Background(), &Notification{Channel: ChannelEmail, Subject: "Reminder", Content: "Review today"}, "student@example.com")
	require.NoError(t, err)
	assert.Equal(t, "sg-123", id)
	assert.Equal(t, "Reminder", got["subject"])
	from := got["from"].(map[string]any)
	assert.Equal(t, "tutor@example.com", from["email"])
}

func TestConfigSenders(t *testing.T) {
	cfg := DefaultConfig()
	assert.Empty(t, cfg.Senders())

	cfg.Telegram.BotToken = "t"
	cfg.SendGrid.APIKey = "k"
	senders := cfg.Senders()
	require.Len(t, senders, 1, "sendgrid needs a from address")
	assert.Equal(t, ChannelTelegram, senders[0].Channel())
}

func TestChannelOrder(t *testing.T) {
	p := NewPreference("s", fixedNow)
	assert.Equal(t, []Channel{ChannelTelegram, ChannelEmail, ChannelWhatsApp}, channelOrder(p, ""))
	assert.Equal(t, []Channel{ChannelEmail, ChannelTelegram, ChannelWhatsApp}, channelOrder(p, ChannelEmail))
}
