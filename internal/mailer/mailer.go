package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
)

// Message is a rendered HTML email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var verifyTemplate = template.Must(template.New("verify").Parse(`<h1>Verify your mail</h1>
<p>Click on the following link to verify your mail:</p>
<a href="{{.Link}}">{{.Link}}</a>
<p>The link will expire in {{.Expiry}}.</p>`))

var resetTemplate = template.Must(template.New("reset").Parse(`<h1>Reset Your Password</h1>
<p>Click on the following link to reset your password:</p>
<a href="{{.Link}}">{{.Link}}</a>
<p>The link will expire in {{.Expiry}}.</p>
<p>If you didn't request a password reset, please ignore this email.</p>`))

// Mailer renders account emails pointing at the frontend and hands them to
// a Sender.
type Mailer struct {
	sender      Sender
	frontendURL string
	expiry      string
}

// New builds a Mailer. expiry is the human readable link lifetime quoted in
// the message body.
func New(sender Sender, frontendURL, expiry string) *Mailer {
	return &Mailer{
		sender:      sender,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		expiry:      expiry,
	}
}

// SendVerification mails a link to <frontend>/verified/<token>.
func (m *Mailer) SendVerification(ctx context.Context, to, token string) error {
	return m.send(ctx, to, "Verify Mail", verifyTemplate, m.frontendURL+"/verified/"+token)
}

// SendPasswordReset mails a link to <frontend>/reset-password/<token>.
func (m *Mailer) SendPasswordReset(ctx context.Context, to, token string) error {
	return m.send(ctx, to, "Reset Password", resetTemplate, m.frontendURL+"/reset-password/"+token)
}

func (m *Mailer) send(ctx context.Context, to, subject string, tmpl *template.Template, link string) error {
	var body bytes.Buffer
	data := struct {
		Link   string
		Expiry string
	}{Link: link, Expiry: m.expiry}
	if err := tmpl.Execute(&body, data); err != nil {
		return fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return m.sender.Send(ctx, Message{To: to, Subject: subject, HTML: body.String()})
}
