//go:generate mockgen -source=notifier.go -package=notify -destination=notifier_mock.go

// Package notify delivers the html emails sent to submitters and to the operator.
package notify

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	mail "gopkg.in/mail.v2"

	"github.com/primerid/hpcqueue/config"
)

// Notifier sends one html message to every recipient.
type Notifier interface {
	Send(ctx context.Context, subject, htmlBody string, recipients []string) error
}

type smtpNotifier struct {
	from string
	send func(m *mail.Message) error
}

// NewSMTP returns a Notifier dialing cfg's server once per message.
func NewSMTP(cfg config.SMTPConfig) Notifier {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &smtpNotifier{from: cfg.From, send: func(m *mail.Message) error { return d.DialAndSend(m) }}
}

func (s *smtpNotifier) Send(ctx context.Context, subject, htmlBody string, recipients []string) error {
	to := cleanRecipients(recipients)
	if len(to) == 0 {
		return errors.Errorf("no recipients for %q", subject)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := mail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	if err := s.send(m); err != nil {
		return errors.Wrapf(err, "sending %q to %v", subject, to)
	}
	log.Infof("Sent %q to %v", subject, to)
	return nil
}

type logNotifier struct{}

// NewLogNotifier returns a Notifier that only logs, for dev mode.
func NewLogNotifier() Notifier {
	return logNotifier{}
}

func (logNotifier) Send(_ context.Context, subject, htmlBody string, recipients []string) error {
	log.WithField("to", cleanRecipients(recipients)).Infof("Email: %s - %s", subject, htmlBody)
	return nil
}

// FromLocations logs in dev mode and sends over SMTP otherwise.
func FromLocations(l *config.Locations) Notifier {
	if l.Dev || l.SMTP.Host == "" {
		return NewLogNotifier()
	}
	return NewSMTP(l.SMTP)
}

func cleanRecipients(recipients []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, r := range recipients {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// Gateway addresses messages to a submitter, optionally copying the operator.
type Gateway struct {
	Notifier   Notifier
	AdminEmail string
}

// Notify sends to, plus the operator when includeAdmin is set.
func (g *Gateway) Notify(ctx context.Context, subject, htmlBody, to string, includeAdmin bool) error {
	recipients := []string{to}
	if includeAdmin {
		recipients = append(recipients, g.AdminEmail)
	}
	return g.Notifier.Send(ctx, subject, htmlBody, recipients)
}

// Alert sends to the operator only.
func (g *Gateway) Alert(ctx context.Context, subject, htmlBody string) error {
	if g.AdminEmail == "" {
		log.Warnf("No admin email configured, dropping alert %q", subject)
		return nil
	}
	return g.Notifier.Send(ctx, subject, htmlBody, []string{g.AdminEmail})
}
