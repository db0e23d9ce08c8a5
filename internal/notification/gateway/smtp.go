// internal/notification/gateway/smtp.go
package gateway

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/mail.v2"
)

// Dialer is the subset of *mail.Dialer used here.
type Dialer interface {
	DialAndSend(m ...*mail.Message) error
}

// SMTPConfig configures NewSMTPDialer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
	Timeout  time.Duration
}

// NewSMTPDialer builds a mail.v2 dialer. mail.v2 applies Timeout as the
// connection deadline of the dial and of every SMTP operation, so it must
// stay positive; a zero cfg.Timeout keeps the library default.
func NewSMTPDialer(cfg SMTPConfig) *mail.Dialer {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.Timeout > 0 {
		d.Timeout = cfg.Timeout
	}
	if cfg.UseTLS {
		d.StartTLSPolicy = mail.MandatoryStartTLS
	}
	return d
}

// SMTPSender delivers HTML email over SMTP.
type SMTPSender struct {
	dialer Dialer
	from   string
}

func NewSMTPSender(dialer Dialer, from string) *SMTPSender {
	return &SMTPSender{dialer: dialer, from: from}
}

// Send honours ctx by abandoning the wait, not the conversation: an abandoned
// DialAndSend keeps running in the background until it finishes or an SMTP
// operation exceeds the dialer timeout.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	m := mail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", PlainText(body))
	m.AddAlternative("text/html", body)

	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", to, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send to %s: %w", to, ctx.Err())
	}
}
