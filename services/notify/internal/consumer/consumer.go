// Package consumer delivers notify.send events through a mailer.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/diagnosis/museum-visits/pkg/events"
	"github.com/diagnosis/museum-visits/pkg/logger"
	"github.com/diagnosis/museum-visits/services/notify/internal/mailer"
	"github.com/diagnosis/museum-visits/services/notify/internal/templates"
)

const (
	defaultAttempts = 3
	sendTimeout     = 15 * time.Second
)

// Stats counts delivery outcomes since start.
type Stats struct {
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
}

type Consumer struct {
	mailer   mailer.Mailer
	attempts int
	backoff  time.Duration

	sent, failed, dropped atomic.Int64
}

func New(m mailer.Mailer) *Consumer {
	return &Consumer{mailer: m, attempts: defaultAttempts, backoff: 500 * time.Millisecond}
}

// WithRetry overrides the retry policy; tests use a zero backoff.
func (c *Consumer) WithRetry(attempts int, backoff time.Duration) *Consumer {
	if attempts < 1 {
		attempts = 1
	}
	c.attempts = attempts
	c.backoff = backoff
	return c
}

// Subscribe joins the notify queue group so several instances share the load.
func (c *Consumer) Subscribe(sub events.Subscriber) error {
	return sub.QueueSubscribe(events.NotifySend, "notify", c.Handle)
}

// Handle processes one bus message. Malformed events are dropped and logged.
func (c *Consumer) Handle(msg *events.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	var n events.NotificationEvent
	if err := msg.Decode(&n); err != nil {
		c.dropped.Add(1)
		logger.Warn("Dropping undecodable notification", "error", err, "subject", msg.Subject)
		return
	}
	if err := c.Deliver(ctx, n); err != nil {
		logger.ErrorContext(ctx, "Notification delivery failed",
			"error", err, "template", n.Template, "recipient", maskEmail(n.Recipient))
	}
}

// Deliver renders and sends n, retrying transient mailer failures.
func (c *Consumer) Deliver(ctx context.Context, n events.NotificationEvent) error {
	if n.Type != "" && n.Type != "email" {
		c.dropped.Add(1)
		return fmt.Errorf("unsupported notification type %q", n.Type)
	}
	msg, err := templates.Render(n)
	if err != nil {
		c.dropped.Add(1)
		return err
	}

	for attempt := 1; ; attempt++ {
		err = c.mailer.Send(ctx, msg)
		if err == nil {
			c.sent.Add(1)
			logger.InfoContext(ctx, "Notification sent", "template", n.Template, "recipient", maskEmail(n.Recipient))
			return nil
		}
		if attempt >= c.attempts || errors.Is(err, mailer.ErrNotConfigured) {
			break
		}
		select {
		case <-ctx.Done():
			c.failed.Add(1)
			return ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	c.failed.Add(1)
	return fmt.Errorf("send %s: %w", n.Template, err)
}

func (c *Consumer) Stats() Stats {
	return Stats{Sent: c.sent.Load(), Failed: c.failed.Load(), Dropped: c.dropped.Load()}
}

func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 1 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
