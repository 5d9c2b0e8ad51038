package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode"
)

// Config holds the channel credentials. A channel with no credentials is
// not registered.
type Config struct {
	MaxRetries int            `yaml:"max_retries"`
	Telegram   TelegramConfig `yaml:"telegram"`
	WhatsApp   WhatsAppConfig `yaml:"whatsapp"`
	SendGrid   SendGridConfig `yaml:"sendgrid"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	BaseURL  string `yaml:"base_url"`
}

type WhatsAppConfig struct {
	AccessToken   string `yaml:"access_token"`
	PhoneNumberID string `yaml:"phone_number_id"`
	BaseURL       string `yaml:"base_url"`
}

type SendGridConfig struct {
	APIKey    string `yaml:"api_key"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
	BaseURL   string `yaml:"base_url"`
}

// DefaultConfig returns a config with no channels and three retries.
func DefaultConfig() Config {
	return Config{MaxRetries: DefaultMaxRetries}
}

// ApplyEnv overrides credentials from STUDYLOOP_* variables.
func (c *Config) ApplyEnv() {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Telegram.BotToken, "STUDYLOOP_TELEGRAM_BOT_TOKEN")
	set(&c.WhatsApp.AccessToken, "STUDYLOOP_WHATSAPP_ACCESS_TOKEN")
	set(&c.WhatsApp.PhoneNumberID, "STUDYLOOP_WHATSAPP_PHONE_NUMBER_ID")
	set(&c.SendGrid.APIKey, "STUDYLOOP_SENDGRID_API_KEY")
	set(&c.SendGrid.FromEmail, "STUDYLOOP_SENDGRID_FROM_EMAIL")
	set(&c.SendGrid.FromName, "STUDYLOOP_SENDGRID_FROM_NAME")
}

// Senders builds a sender for every configured channel.
func (c Config) Senders() []Sender {
	client := &http.Client{Timeout: 30 * time.Second}
	var out []Sender
	if c.Telegram.BotToken != "" {
		out = append(out, NewTelegram(c.Telegram, client))
	}
	if c.WhatsApp.AccessToken != "" && c.WhatsApp.PhoneNumberID != "" {
		out = append(out, NewWhatsApp(c.WhatsApp, client))
	}
	if c.SendGrid.APIKey != "" && c.SendGrid.FromEmail != "" {
		out = append(out, NewSendGrid(c.SendGrid, client))
	}
	return out
}

// HTTPError is a non-2xx response from a channel API.
type HTTPError struct {
	Channel Channel
	Status  int
	Body    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s API returned %d: %s", e.Channel, e.Status, e.Body)
}

func postJSON(ctx context.Context, client *http.Client, ch Channel, url string, headers map[string]string, payload any) (*http.Response, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s request: %w", ch, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s request: %w", ch, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("read %s response: %w", ch, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, nil, &HTTPError{Channel: ch, Status: resp.StatusCode, Body: msg}
	}
	return resp, raw, nil
}

// TelegramSender posts through the Bot API sendMessage method.
type TelegramSender struct {
	cfg    TelegramConfig
	client *http.Client
}

func NewTelegram(cfg TelegramConfig, client *http.Client) *TelegramSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &TelegramSender{cfg: cfg, client: client}
}

func (s *TelegramSender) Channel() Channel { return ChannelTelegram }

func (s *TelegramSender) Supports(n *Notification) bool { return n.Channel == ChannelTelegram }

func (s *TelegramSender) Send(ctx context.Context, n *Notification, chatID string) (string, error) {
	url := fmt.Sprintf("%s/bot%s/sendMessage", s.cfg.BaseURL, s.cfg.BotToken)
	text := fmt.Sprintf("<b>%s</b>\n\n%s", html.EscapeString(n.Subject), html.EscapeString(n.Content))
	_, raw, err := postJSON(ctx, s.client, ChannelTelegram, url, nil, map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return "", err
	}

	var out struct {
		OK     bool `json:"ok"`
		Result struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode telegram response: %w", err)
	}
	if !out.OK {
		return "", fmt.Errorf("telegram: %s", out.Description)
	}
	return fmt.Sprint(out.Result.MessageID), nil
}

// WhatsAppSender posts text messages through the WhatsApp Cloud API.
type WhatsAppSender struct {
	cfg    WhatsAppConfig
	client *http.Client
}

func NewWhatsApp(cfg WhatsAppConfig, client *http.Client) *WhatsAppSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://graph.facebook.com/v21.0"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &WhatsAppSender{cfg: cfg, client: client}
}

func (s *WhatsAppSender) Channel() Channel { return ChannelWhatsApp }

func (s *WhatsAppSender) Supports(n *Notification) bool { return n.Channel == ChannelWhatsApp }

func (s *WhatsAppSender) Send(ctx context.Context, n *Notification, phone string) (string, error) {
	to := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
	if to == "" {
		return "", fmt.Errorf("whatsapp: invalid phone number")
	}

	url := fmt.Sprintf("%s/%s/messages", s.cfg.BaseURL, s.cfg.PhoneNumberID)
	_, raw, err := postJSON(ctx, s.client, ChannelWhatsApp, url,
		map[string]string{"Authorization": "Bearer " + s.cfg.AccessToken},
		map[string]any{
			"messaging_product": "whatsapp",
			"recipient_type":    "individual",
			"to":                to,
			"type":              "text",
			"text": map[string]any{
				"preview_url": false,
				"body":        fmt.Sprintf("*%s*\n\n%s", n.Subject, n.Content),
			},
		})
	if err != nil {
		return "", err
	}

	var out struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode whatsapp response: %w", err)
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", fmt.Errorf("whatsapp: response carried no message id")
	}
	return out.Messages[0].ID, nil
}

// SendGridSender sends plain-text email through the v3 mail/send API.
type SendGridSender struct {
	cfg    SendGridConfig
	client *http.Client
}

func NewSendGrid(cfg SendGridConfig, client *http.Client) *SendGridSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.sendgrid.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &SendGridSender{cfg: cfg, client: client}
}

func (s *SendGridSender) Channel() Channel { return ChannelEmail }

func (s *SendGridSender) Supports(n *Notification) bool { return n.Channel == ChannelEmail }

type emailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func (s *SendGridSender) Send(ctx context.Context, n *Notification, email string) (string, error) {
	payload := map[string]any{
		"personalizations": []map[string]any{{"to": []emailAddress{{Email: email}}}},
		"from":             emailAddress{Email: s.cfg.FromEmail, Name: s.cfg.FromName},
		"subject":          n.Subject,
		"content":          []map[string]string{{"type": "text/plain", "value": n.Content}},
	}
	resp, _, err := postJSON(ctx, s.client, ChannelEmail, s.cfg.BaseURL+"/v3/mail/send",
		map[string]string{"Authorization": "Bearer " + s.cfg.APIKey}, payload)
	if err != nil {
		return "", err
	}
	if id := resp.Header.Get("X-Message-Id"); id != "" {
		return id, nil
	}
	return n.ID, nil
}
