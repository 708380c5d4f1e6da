// Package mailer delivers rendered reports by email.
package mailer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"

	"github.com/ticketdesk/reportd/internal/config"
)

var ErrNoRecipients = errors.New("message has no recipients")

// Message is a multipart report email.
type Message struct {
	To      []string
	Cc      []string
	Subject string
	HTML    string
	Text    string
}

// RecipientCount returns the number of To and Cc addresses.
func (m *Message) RecipientCount() int {
	return len(m.To) + len(m.Cc)
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMailer sends messages through an SMTP relay. Sends are rate limited
// and abandoned when ctx is done.
type SMTPMailer struct {
	from     string
	fromName string
	dialer   dialer
	limiter  *rate.Limiter
}

// New returns an SMTP mailer, or a LogMailer when dry run is enabled.
func New(cfg config.EmailConfig) Sender {
	if cfg.DryRun {
		return NewLogMailer(cfg.From)
	}
	return NewSMTPMailer(cfg)
}

func NewSMTPMailer(cfg config.EmailConfig) *SMTPMailer {
	return &SMTPMailer{
		from:     cfg.From,
		fromName: cfg.FromName,
		dialer:   gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		limiter:  newLimiter(cfg.RatePerSecond, cfg.Burst),
	}
}

func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (m *SMTPMailer) Send(ctx context.Context, msg *Message) error {
	if msg.RecipientCount() == 0 {
		return ErrNoRecipients
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for send slot: %w", err)
	}

	gm := buildMessage(m.from, m.fromName, msg)

	// gomail has no context support; the dial runs in its own goroutine and
	// is abandoned if ctx ends first.
	done := make(chan error, 1)
	go func() {
		done <- m.dialer.DialAndSend(gm)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("sending via smtp: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sending via smtp: %w", ctx.Err())
	}
}

func buildMessage(from, fromName string, msg *Message) *gomail.Message {
	gm := gomail.NewMessage()
	gm.SetAddressHeader("From", from, fromName)
	if len(msg.To) > 0 {
		gm.SetHeader("To", msg.To...)
	}
	if len(msg.Cc) > 0 {
		gm.SetHeader("Cc", msg.Cc...)
	}
	gm.SetHeader("Subject", msg.Subject)

	switch {
	case msg.Text != "" && msg.HTML != "":
		gm.SetBody("text/plain", msg.Text)
		gm.AddAlternative("text/html", msg.HTML)
	case msg.HTML != "":
		gm.SetBody("text/html", msg.HTML)
	default:
		gm.SetBody("text/plain", msg.Text)
	}
	return gm
}

// LogMailer logs messages instead of sending them.
type LogMailer struct {
	from string
}

func NewLogMailer(from string) *LogMailer {
	return &LogMailer{from: from}
}

func (m *LogMailer) Send(ctx context.Context, msg *Message) error {
	if msg.RecipientCount() == 0 {
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	log.Info().
		Str("from", m.from).
		Strs("to", msg.To).
		Strs("cc", msg.Cc).
		Str("subject", msg.Subject).
		Int("html_bytes", len(msg.HTML)).
		Msg("Dry run: report email not sent")
	return nil
}
