package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/diagnosis/museum-visits/pkg/logger"
	"github.com/nats-io/nats.go"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	QueueSubscribe(subject, queue string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

// Decode unmarshals the message payload into v.
func (m *Message) Decode(v interface{}) error {
	return json.Unmarshal(m.Data, v)
}

type NATSEventBus struct {
	conn *nats.Conn
	subs []*nats.Subscription
}

func NewNATSEventBus(url, name string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "bytes", len(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	sub, err := n.conn.Subscribe(subject, wrap(handler))
	if err != nil {
		return err
	}
	n.subs = append(n.subs, sub)
	return nil
}

func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	sub, err := n.conn.QueueSubscribe(subject, queue, wrap(handler))
	if err != nil {
		return err
	}
	n.subs = append(n.subs, sub)
	return nil
}

func wrap(handler func(msg *Message)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	}
}

// Close drains subscriptions so in-flight handlers finish before the connection closes.
func (n *NATSEventBus) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

// Event subjects
const (
	BookingCreated     = "booking.created"
	BookingApproved    = "booking.approved"
	BookingCanceled    = "booking.canceled"
	CompanionCompleted = "companion.completed"
	VisitorCheckedIn   = "visitor.checked_in"

	// Consumed by the notify service.
	NotifySend = "notify.send"
)

// Notification templates understood by the notify service.
const (
	TemplateBookingConfirmation = "booking_confirmation"
	TemplateCompanionInvite     = "companion_invite"
	TemplateCompanionCredential = "companion_credential"
	TemplateBookingCanceled     = "booking_canceled"
)

type BookingCreatedEvent struct {
	BookingID    string    `json:"booking_id"`
	Type         string    `json:"type"`
	VisitDate    string    `json:"visit_date"`
	TimeSlot     string    `json:"time_slot"`
	VisitorCount int       `json:"visitor_count"`
	CreatedAt    time.Time `json:"created_at"`
}

type BookingStatusEvent struct {
	BookingID string    `json:"booking_id"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

type CompanionCompletedEvent struct {
	BookingID   string    `json:"booking_id"`
	VisitorID   string    `json:"visitor_id"`
	TokenID     string    `json:"token_id"`
	CompletedAt time.Time `json:"completed_at"`
}

type VisitorCheckedInEvent struct {
	BookingID   string    `json:"booking_id"`
	VisitorID   string    `json:"visitor_id"`
	CheckinTime time.Time `json:"checkin_time"`
	StaffID     string    `json:"staff_id,omitempty"`
}

type NotificationEvent struct {
	Type      string                 `json:"type"`
	Recipient string                 `json:"recipient"`
	Subject   string                 `json:"subject"`
	Template  string                 `json:"template"`
	Data      map[string]interface{} `json:"data"`
}
