package notify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/abhisek/studyloop/internal/apperr"
	"github.com/abhisek/studyloop/internal/logging"
)

// Sender delivers notifications over one channel.
type Sender interface {
	Channel() Channel
	Supports(n *Notification) bool
	// Send delivers n to recipient and returns the transport's message id.
	Send(ctx context.Context, n *Notification, recipient string) (string, error)
}

// Message is what callers ask the Dispatcher to deliver.
type Message struct {
	StudentID string
	Subject   string
	Content   string
	// Preferred, when set, is tried before the student's priority order.
	Preferred Channel
}

// Dispatcher picks channels for a student and records every attempt.
type Dispatcher struct {
	senders    map[Channel]Sender
	notes      Repository
	prefs      PreferenceRepository
	log        *logging.Logger
	now        func() time.Time
	maxRetries int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(l *logging.Logger) Option { return func(d *Dispatcher) { d.log = logging.Or(l) } }

func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

func WithMaxRetries(n int) Option { return func(d *Dispatcher) { d.maxRetries = n } }

// NewDispatcher creates a Dispatcher with the given senders registered.
func NewDispatcher(notes Repository, prefs PreferenceRepository, senders []Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		senders:    make(map[Channel]Sender),
		notes:      notes,
		prefs:      prefs,
		log:        logging.Nop(),
		now:        time.Now,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(d)
	}
	for _, s := range senders {
		d.Register(s)
	}
	return d
}

// Register adds or replaces the sender for its channel.
func (d *Dispatcher) Register(s Sender) { d.senders[s.Channel()] = s }

// Send delivers msg through the first channel that succeeds. Every attempt
// is saved. When all channels fail the last failed notification is
// returned with an Upstream error.
func (d *Dispatcher) Send(ctx context.Context, msg Message) (*Notification, error) {
	const op = "notify.Send"
	pref, err := d.prefs.FindByStudent(ctx, msg.StudentID)
	if err != nil {
		return nil, err
	}
	if !pref.Enabled {
		return nil, apperr.InvalidState(op, "notifications are disabled for student %s", msg.StudentID)
	}

	var (
		last *Notification
		errs []error
	)
	for _, ch := range channelOrder(pref, msg.Preferred) {
		recipient := pref.Contact(ch)
		if recipient == "" {
			continue
		}
		sender, ok := d.senders[ch]
		if !ok {
			d.log.Warn("no sender registered", "channel", ch, "student_id", msg.StudentID)
			continue
		}
		n := newNotification(msg.StudentID, msg.Subject, msg.Content, ch, d.now())
		if !sender.Supports(n) {
			continue
		}

		if err := d.deliver(ctx, sender, n, recipient); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch, err))
			last = n
			continue
		}
		d.log.Info("notification sent", "notification_id", n.ID, "channel", ch, "student_id", msg.StudentID)
		return n, nil
	}

	if len(errs) == 0 {
		return nil, apperr.InvalidState(op, "student %s has no usable channel", msg.StudentID)
	}
	return last, apperr.Upstream(op, errors.Join(errs...))
}

// deliver sends n and saves the outcome.
func (d *Dispatcher) deliver(ctx context.Context, s Sender, n *Notification, recipient string) error {
	extID, sendErr := s.Send(ctx, n, recipient)
	if sendErr != nil {
		n.MarkFailed(sendErr.Error(), d.now())
		d.log.Error("notification failed", "channel", n.Channel, "student_id", n.StudentID,
			"recipient", recipient, "error", sendErr)
	} else {
		n.MarkSent(extID, d.now())
	}
	if err := d.notes.Save(context.WithoutCancel(ctx), n); err != nil {
		return errors.Join(sendErr, fmt.Errorf("save notification: %w", err))
	}
	return sendErr
}

// channelOrder lists preferred first, then the priority order, without
// duplicates.
func channelOrder(p *Preference, preferred Channel) []Channel {
	order := make([]Channel, 0, len(p.Priority)+1)
	if preferred != "" {
		order = append(order, preferred)
	}
	for _, ch := range p.Priority {
		if !slices.Contains(order, ch) {
			order = append(order, ch)
		}
	}
	return order
}

// Retry resends a failed notification over its original channel.
func (d *Dispatcher) Retry(ctx context.Context, id string) (*Notification, error) {
	const op = "notify.Retry"
	n, err := d.notes.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Status != StatusFailed {
		return nil, apperr.InvalidState(op, "notification %s is %s, not failed", id, n.Status)
	}
	if !n.CanRetry(d.maxRetries) {
		return nil, apperr.InvalidState(op, "notification %s reached %d retries", id, d.maxRetries)
	}
	pref, err := d.prefs.FindByStudent(ctx, n.StudentID)
	if err != nil {
		return nil, err
	}
	recipient := pref.Contact(n.Channel)
	if recipient == "" {
		return nil, apperr.InvalidState(op, "student %s has no %s contact", n.StudentID, n.Channel)
	}
	sender, ok := d.senders[n.Channel]
	if !ok || !sender.Supports(n) {
		return nil, apperr.InvalidState(op, "no sender for channel %s", n.Channel)
	}

	n.RetryCount++
	if err := d.deliver(ctx, sender, n, recipient); err != nil {
		return n, apperr.Upstream(op, err)
	}
	return n, nil
}

// MarkDelivered records a delivery receipt.
func (d *Dispatcher) MarkDelivered(ctx context.Context, id string) error {
	n, err := d.notes.FindByID(ctx, id)
	if err != nil {
		return err
	}
	n.MarkDelivered(d.now())
	return d.notes.Save(ctx, n)
}

// MarkRead records a read receipt.
func (d *Dispatcher) MarkRead(ctx context.Context, id string) error {
	n, err := d.notes.FindByID(ctx, id)
	if err != nil {
		return err
	}
	n.MarkRead(d.now())
	return d.notes.Save(ctx, n)
}
