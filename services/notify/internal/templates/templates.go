// Package templates renders notification events into email bodies.
package templates

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/diagnosis/museum-visits/pkg/events"
	"github.com/diagnosis/museum-visits/services/notify/internal/mailer"
)

type pair struct {
	subject string
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

const (
	confirmationText = `Hello{{with .name}} {{.}}{{end}},

Your museum visit is booked for {{.visit_date}}, {{.time_slot}}.
Booking status: {{.status}}

Show the QR code attached to this email at the entrance, or give staff your backup code:

    {{.backup_code}}
`
	confirmationHTML = `<h2>Your museum visit</h2>
<p>Hello{{with .name}} {{.}}{{end}},</p>
<p>Your visit is booked for <strong>{{.visit_date}}</strong>, <strong>{{.time_slot}}</strong>.</p>
<p>Booking status: {{.status}}</p>
{{with .qr_code}}<p><img src="{{. | safeURL}}" alt="Entry QR code" width="256" height="256"></p>{{end}}
<p>Backup code: <strong style="font-size: 20px;">{{.backup_code}}</strong></p>`

	inviteText = `Hello,

You have been added to a museum visit on {{.visit_date}}, {{.time_slot}}.
Please complete your details before the visit:

    {{.link}}
{{with .expires_at}}
This link expires at {{.}}.
{{end}}`
	inviteHTML = `<h2>You're invited to a museum visit</h2>
<p>You have been added to a visit on <strong>{{.visit_date}}</strong>, <strong>{{.time_slot}}</strong>.</p>
<p><a href="{{.link}}">Complete your details</a></p>
{{with .expires_at}}<p>This link expires at {{.}}.</p>{{end}}`

	credentialText = `Hello{{with .name}} {{.}}{{end}},

Thanks for completing your details. Your entry credential for {{.visit_date}}, {{.time_slot}} is ready.
Backup code:

    {{.backup_code}}
`
	credentialHTML = `<h2>Your entry credential</h2>
<p>Hello{{with .name}} {{.}}{{end}},</p>
<p>Your entry credential for <strong>{{.visit_date}}</strong>, <strong>{{.time_slot}}</strong> is ready.</p>
{{with .qr_code}}<p><img src="{{. | safeURL}}" alt="Entry QR code" width="256" height="256"></p>{{end}}
<p>Backup code: <strong style="font-size: 20px;">{{.backup_code}}</strong></p>`

	canceledText = `Hello,

Your museum visit on {{.visit_date}}, {{.time_slot}} has been cancelled.
{{with .reason}}Reason: {{.}}
{{end}}`
	canceledHTML = `<h2>Your visit was cancelled</h2>
<p>Your visit on <strong>{{.visit_date}}</strong>, <strong>{{.time_slot}}</strong> has been cancelled.</p>
{{with .reason}}<p>Reason: {{.}}</p>{{end}}`
)

var htmlFuncs = htmltemplate.FuncMap{
	// QR codes arrive as data:image/png URLs, which html/template would otherwise rewrite.
	"safeURL": func(v interface{}) htmltemplate.URL {
		s := fmt.Sprint(v)
		if strings.HasPrefix(s, "data:image/png;base64,") {
			return htmltemplate.URL(s)
		}
		return ""
	},
}

var registry = map[string]pair{
	events.TemplateBookingConfirmation: build("Your museum visit booking", confirmationText, confirmationHTML),
	events.TemplateCompanionInvite:     build("You're invited to a museum visit", inviteText, inviteHTML),
	events.TemplateCompanionCredential: build("Your museum entry credential", credentialText, credentialHTML),
	events.TemplateBookingCanceled:     build("Your museum visit was cancelled", canceledText, canceledHTML),
}

func build(subject, text, html string) pair {
	return pair{
		subject: subject,
		text:    texttemplate.Must(texttemplate.New("text").Option("missingkey=zero").Parse(text)),
		html:    htmltemplate.Must(htmltemplate.New("html").Funcs(htmlFuncs).Option("missingkey=zero").Parse(html)),
	}
}

// Known reports whether name is a registered template.
func Known(name string) bool {
	_, ok := registry[name]
	return ok
}

// Render turns a notification event into a deliverable message. The event's
// subject wins over the template default when set.
func Render(n events.NotificationEvent) (mailer.Message, error) {
	p, ok := registry[n.Template]
	if !ok {
		return mailer.Message{}, fmt.Errorf("unknown template %q", n.Template)
	}
	if strings.TrimSpace(n.Recipient) == "" {
		return mailer.Message{}, fmt.Errorf("template %q: empty recipient", n.Template)
	}

	data := n.Data
	if data == nil {
		data = map[string]interface{}{}
	}

	var text, html bytes.Buffer
	if err := p.text.Execute(&text, data); err != nil {
		return mailer.Message{}, fmt.Errorf("render %s text: %w", n.Template, err)
	}
	if err := p.html.Execute(&html, data); err != nil {
		return mailer.Message{}, fmt.Errorf("render %s html: %w", n.Template, err)
	}

	subject := n.Subject
	if subject == "" {
		subject = p.subject
	}
	return mailer.Message{
		To:      n.Recipient,
		Subject: subject,
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}
