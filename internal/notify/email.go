package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"gopkg.in/mail.v2"
)

type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	// TLS dials implicit TLS; otherwise STARTTLS is used when offered.
	TLS bool
}

// Email sends alerts through an SMTP relay.
type Email struct {
	cfg     SMTP
	send    func(*mail.Message) error
	Timeout time.Duration
}

func NewEmail(cfg SMTP) *Email {
	if cfg.Host == "" || len(cfg.To) == 0 {
		return nil
	}
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	d.Timeout = 15 * time.Second
	d.SSL = cfg.TLS
	if !cfg.TLS {
		d.StartTLSPolicy = mail.OpportunisticStartTLS
	}
	return &Email{
		cfg:     cfg,
		send:    func(m *mail.Message) error { return d.DialAndSend(m) },
		Timeout: 15 * time.Second,
	}
}

func (e *Email) Send(ctx context.Context, title, text string) error {
	if e == nil {
		return errors.New("email disabled")
	}
	m := mail.NewMessage()
	m.SetHeader("From", e.cfg.From)
	m.SetHeader("To", e.cfg.To...)
	m.SetHeader("Subject", title)
	m.SetBody("text/plain", text)

	done := make(chan error, 1)
	go func() { done <- e.send(m) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.Timeout):
		return fmt.Errorf("timeout sending email after %s", e.Timeout)
	}
}
