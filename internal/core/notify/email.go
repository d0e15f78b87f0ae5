package notify

import (
	"context"
	"fmt"

	"github.com/frostdev-ops/pma-alerting-go/internal/core/alarm"
	"gopkg.in/gomail.v2"
)

// MailSender delivers composed messages. *gomail.Dialer satisfies it.
type MailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailConfig contains recovery email configuration
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// EmailChannel sends the formatted notification as a plain text email.
type EmailChannel struct {
	name   string
	config EmailConfig
	sender MailSender
}

// NewEmailChannel creates an email channel. A nil sender dials the
// configured SMTP server.
func NewEmailChannel(name string, config EmailConfig, sender MailSender) *EmailChannel {
	if sender == nil {
		sender = gomail.NewDialer(config.Host, config.Port, config.Username, config.Password)
	}
	return &EmailChannel{name: name, config: config, sender: sender}
}

func (e *EmailChannel) Name() string { return e.name }

func (e *EmailChannel) Send(ctx context.Context, event alarm.NotificationEvent) error {
	if len(e.config.To) == 0 {
		return fmt.Errorf("no email recipients configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := Format(event)
	m := gomail.NewMessage()
	m.SetHeader("From", e.config.From)
	m.SetHeader("To", e.config.To...)
	// subjects are capped at 100 characters like SNS email notifications
	m.SetHeader("Subject", truncate(msg.Title, 100))
	m.SetBody("text/plain", msg.Body)

	done := make(chan error, 1)
	go func() {
		done <- e.sender.DialAndSend(m)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("email send timed out: %w", ctx.Err())
	}
}
