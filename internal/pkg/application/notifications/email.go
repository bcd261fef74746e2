package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	mail "github.com/wneessen/go-mail"
)

type EmailConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

type emailChannel struct {
	cfg EmailConfig
}

func NewEmailChannel(cfg EmailConfig) Channel {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &emailChannel{cfg: cfg}
}

func (e *emailChannel) Name() string {
	return "email"
}

func (e *emailChannel) Send(ctx context.Context, msg Message) error {
	if len(e.cfg.To) == 0 {
		return fmt.Errorf("no email recipients configured")
	}

	m, err := e.compose(msg)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(e.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(10 * time.Second),
	}

	if e.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(e.cfg.Username),
			mail.WithPassword(e.cfg.Password),
		)
	}

	c, err := mail.NewClient(e.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create mail client: %w", err)
	}

	return c.DialAndSendWithContext(ctx, m)
}

func (e *emailChannel) compose(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()

	if err := m.From(headerValue(e.cfg.From)); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}

	to := make([]string, 0, len(e.cfg.To))
	for _, addr := range e.cfg.To {
		to = append(to, headerValue(addr))
	}

	if err := m.To(to...); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}

	m.Subject(headerValue(msg.Subject))
	m.SetDateWithValue(msg.CreatedAt)
	m.SetMessageIDWithValue(msg.ID + "@iot-fleet-sync")
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	return m, nil
}

// headerValue collapses whitespace and line breaks into single spaces.
// Subjects carry upstream device aliases and must stay on one header line.
func headerValue(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
