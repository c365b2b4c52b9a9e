package mailer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/wneessen/go-mail"
)

// SMTPConfig carries the settings for the outbound mail account.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPTransport sends messages through an authenticated SMTP account.
type SMTPTransport struct {
	cfg    SMTPConfig
	client *mail.Client
}

// NewSMTPTransport builds the transport. It validates settings eagerly but
// only dials when sending.
func NewSMTPTransport(cfg SMTPConfig) (*SMTPTransport, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("smtp host and from address are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}
	return &SMTPTransport{cfg: cfg, client: client}, nil
}

// Send delivers one message with its attachment.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	m := mail.NewMsg()
	if err := m.From(t.cfg.From); err != nil {
		return fmt.Errorf("%w: bad from address: %v", ErrSendFailed, err)
	}
	if err := m.To(msg.To); err != nil {
		return fmt.Errorf("%w: bad recipient %q: %v", ErrSendFailed, msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	if len(msg.Attachment) > 0 {
		if err := m.AttachReader(msg.FileName, bytes.NewReader(msg.Attachment)); err != nil {
			return fmt.Errorf("%w: attach %s: %v", ErrSendFailed, msg.FileName, err)
		}
	}

	if err := t.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	slog.Info("sent mail", "to", msg.To, "subject", msg.Subject, "attachment", msg.FileName)
	return nil
}
