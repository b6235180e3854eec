package mailer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mailersend/mailersend-go"
)

var ErrNotConfigured = errors.New("mailersend is not configured")

type MailerSendClient struct {
	client *mailersend.Mailersend
	from   mailersend.From
}

func NewMailerSend(apiKey, fromName, fromEmail string) *MailerSendClient {
	m := &MailerSendClient{
		from: mailersend.From{Name: fromName, Email: fromEmail},
	}
	if apiKey != "" && fromEmail != "" {
		m.client = mailersend.NewMailersend(apiKey)
	}
	return m
}

func (m *MailerSendClient) Send(ctx context.Context, msg Message) error {
	if m.client == nil {
		return ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	email := m.client.Email.NewMessage()
	email.SetFrom(m.from)
	email.SetRecipients([]mailersend.Recipient{{Email: msg.To}})
	email.SetSubject(msg.Subject)
	if strings.TrimSpace(msg.Text) != "" {
		email.SetText(msg.Text)
	}
	if strings.TrimSpace(msg.HTML) != "" {
		email.SetHTML(msg.HTML)
	}

	_, err := m.client.Email.Send(ctx, email)
	return err
}
