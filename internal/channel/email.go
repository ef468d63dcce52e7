package channel

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/smtp"
	"strings"

	"registrar/internal/judgement/models"
)

// Mailer delivers one HTML message.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

var (
	challengeTemplate = template.Must(template.New("challenge").Parse(`<p>Hello{{if .Display}} {{.Display}}{{end}},</p>
<p>The on-chain identity <code>{{.Account}}</code> lists this address and asked for a judgement.</p>
<p><a href="{{.Link}}">Confirm this email address</a></p>
<p>If you did not set this identity, ignore this message.</p>
`))
	resultTemplate = template.Must(template.New("result").Parse(`<p>The email address of identity <code>{{.Account}}</code> was {{.Outcome}}.</p>
`))
)

// EmailDriver sends the email challenge.
type EmailDriver struct {
	mailer Mailer
	links  *Linker
}

func NewEmailDriver(mailer Mailer, links *Linker) *EmailDriver {
	return &EmailDriver{mailer: mailer, links: links}
}

func (d *EmailDriver) Channel() models.Channel { return models.ChannelEmail }

func (d *EmailDriver) Invoke(ctx context.Context, r *models.JudgementRequest) error {
	link, err := d.links.Link(r, models.ChannelEmail)
	if err != nil {
		return err
	}
	var body bytes.Buffer
	err = challengeTemplate.Execute(&body, map[string]string{
		"Display": r.Display,
		"Account": r.Account,
		"Link":    link,
	})
	if err != nil {
		return fmt.Errorf("render email challenge: %w", err)
	}
	return d.mailer.Send(ctx, r.Email, "Verify your identity email", body.String())
}

func (d *EmailDriver) Notify(ctx context.Context, r *models.JudgementRequest, verified bool) error {
	var body bytes.Buffer
	err := resultTemplate.Execute(&body, map[string]string{
		"Account": r.Account,
		"Outcome": outcomeText(verified),
	})
	if err != nil {
		return fmt.Errorf("render email result: %w", err)
	}
	return d.mailer.Send(ctx, r.Email, "Identity email verification result", body.String())
}

// SMTPMailer sends through an SMTP relay with PLAIN auth.
type SMTPMailer struct {
	addr     string
	from     string
	username string
	password string
}

func NewSMTPMailer(addr, from, username, password string) *SMTPMailer {
	return &SMTPMailer{addr: addr, from: from, username: username, password: password}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("invalid header value")
	}
	var auth smtp.Auth
	if m.username != "" {
		host, _, err := net.SplitHostPort(m.addr)
		if err != nil {
			return fmt.Errorf("smtp addr: %w", err)
		}
		auth = smtp.PlainAuth("", m.username, m.password, host)
	}
	msg := "From: " + m.from + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
		htmlBody

	errCh := make(chan error, 1)
	go func() {
		errCh <- smtp.SendMail(m.addr, auth, m.from, []string{to}, []byte(msg))
	}()
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("send mail: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogMailer logs messages instead of sending them. Intended for development.
type LogMailer struct {
	Logger *slog.Logger
}

func (l *LogMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "email not sent, no smtp relay configured",
		"to", to,
		"subject", subject,
		"body", htmlBody,
	)
	return nil
}
