package notify

import (
	"context"
	"crypto/tls"

	"gopkg.in/gomail.v2"
)

// SMTPConfig holds the mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// SSL selects implicit TLS (port 465). Otherwise STARTTLS is used when offered.
	SSL bool
}

type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender delivers messages through an SMTP server.
type SMTPSender struct {
	dialer mailDialer
}

// NewSMTPSender constructs an SMTP-backed Sender.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = cfg.SSL
	d.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	return &SMTPSender{dialer: d}
}

// Send delivers msg. gomail dials without a context, so cancellation only
// abandons the wait; the SMTP exchange itself is bounded by gomail's dial timeout.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m := buildMessage(msg)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.dialer.DialAndSend(m)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildMessage(msg Message) *gomail.Message {
	m := gomail.NewMessage(gomail.SetCharset("UTF-8"))
	if msg.FromName != "" {
		m.SetAddressHeader("From", msg.From, msg.FromName)
	} else {
		m.SetHeader("From", msg.From)
	}
	m.SetHeader("To", msg.To...)
	if len(msg.Bcc) > 0 {
		m.SetHeader("Bcc", msg.Bcc...)
	}
	if msg.ReplyTo != "" {
		if msg.ReplyToName != "" {
			m.SetAddressHeader("Reply-To", msg.ReplyTo, msg.ReplyToName)
		} else {
			m.SetHeader("Reply-To", msg.ReplyTo)
		}
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)
	return m
}
