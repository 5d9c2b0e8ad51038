// Package notify delivers messages to students over chat and email
// channels, falling back through each student's channel priority.
package notify

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Channel is a delivery transport.
type Channel string

const (
	ChannelTelegram Channel = "telegram"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

// ParseChannel validates a channel name.
func ParseChannel(s string) (Channel, bool) {
	switch c := Channel(s); c {
	case ChannelTelegram, ChannelWhatsApp, ChannelEmail:
		return c, true
	}
	return "", false
}

// Status is the delivery state of a notification.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// DefaultMaxRetries caps Dispatcher.Retry.
const DefaultMaxRetries = 3

// Notification is one delivery attempt over one channel.
type Notification struct {
	ID         string
	StudentID  string
	Subject    string
	Content    string
	Channel    Channel
	Status     Status
	ExternalID string
	Error      string
	RetryCount int

	SentAt      time.Time
	DeliveredAt time.Time
	ReadAt      time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func newNotification(studentID, subject, content string, ch Channel, now time.Time) *Notification {
	return &Notification{
		ID:        ulid.Make().String(),
		StudentID: studentID,
		Subject:   subject,
		Content:   content,
		Channel:   ch,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (n *Notification) MarkSent(externalID string, now time.Time) {
	n.Status = StatusSent
	n.ExternalID = externalID
	n.Error = ""
	n.SentAt = now
	n.UpdatedAt = now
}

func (n *Notification) MarkFailed(msg string, now time.Time) {
	n.Status = StatusFailed
	n.Error = msg
	n.UpdatedAt = now
}

func (n *Notification) MarkDelivered(now time.Time) {
	n.Status = StatusDelivered
	n.DeliveredAt = now
	n.UpdatedAt = now
}

func (n *Notification) MarkRead(now time.Time) {
	n.Status = StatusRead
	n.ReadAt = now
	n.UpdatedAt = now
}

// CanRetry reports whether another retry is allowed under limit.
func (n *Notification) CanRetry(limit int) bool { return n.RetryCount < limit }

// Preference holds a student's contacts and channel order.
type Preference struct {
	StudentID string
	Enabled   bool
	Priority  []Channel
	Contacts  map[Channel]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultPriority is the channel order for new preferences.
var DefaultPriority = []Channel{ChannelTelegram, ChannelEmail, ChannelWhatsApp}

// NewPreference returns enabled preferences with the default order and no
// contacts.
func NewPreference(studentID string, now time.Time) *Preference {
	return &Preference{
		StudentID: studentID,
		Enabled:   true,
		Priority:  append([]Channel(nil), DefaultPriority...),
		Contacts:  map[Channel]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Contact returns the address for ch, or "".
func (p *Preference) Contact(ch Channel) string { return p.Contacts[ch] }

// SetContact stores or clears (empty address) the contact for ch.
func (p *Preference) SetContact(ch Channel, address string, now time.Time) {
	if p.Contacts == nil {
		p.Contacts = map[Channel]string{}
	}
	if address == "" {
		delete(p.Contacts, ch)
	} else {
		p.Contacts[ch] = address
	}
	p.UpdatedAt = now
}

// Repository persists notifications.
type Repository interface {
	Save(ctx context.Context, n *Notification) error
	FindByID(ctx context.Context, id string) (*Notification, error)
	// FindByStudent returns the newest notifications first.
	FindByStudent(ctx context.Context, studentID string, limit int) ([]*Notification, error)
}

// PreferenceRepository persists channel preferences.
type PreferenceRepository interface {
	FindByStudent(ctx context.Context, studentID string) (*Preference, error)
	Save(ctx context.Context, p *Preference) error
}
