package notify

import (
	"context"

	"github.com/pkg/errors"
	mail "github.com/wneessen/go-mail"
)

// EmailConfig is the SMTP channel configuration.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// EmailChannel delivers notifications over SMTP.
type EmailChannel struct {
	cfg    EmailConfig
	client *mail.Client
}

func NewEmailChannel(cfg EmailConfig) (*EmailChannel, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "smtp client")
	}
	return &EmailChannel{cfg: cfg, client: client}, nil
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Send(ctx context.Context, msg Message) error {
	m := mail.NewMsg()
	if err := m.From(c.cfg.From); err != nil {
		return errors.Wrap(err, "from address")
	}
	if err := m.To(c.cfg.To...); err != nil {
		return errors.Wrap(err, "to addresses")
	}
	m.Subject(msg.Subject)
	body := msg.Body
	if msg.CorrelationID != "" {
		body += "\n\nattempt: " + msg.CorrelationID
	}
	m.SetBodyString(mail.TypeTextPlain, body)

	if err := c.client.DialAndSendWithContext(ctx, m); err != nil {
		return errors.Wrap(err, "send mail")
	}
	return nil
}
