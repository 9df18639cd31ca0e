package notify

import (
	"context"

	"github.com/gregdel/pushover"
	"github.com/pkg/errors"
)

// PushoverChannel delivers notifications through the Pushover push service.
type PushoverChannel struct {
	app       *pushover.Pushover
	recipient *pushover.Recipient
}

func NewPushoverChannel(appToken, userKey string) *PushoverChannel {
	return &PushoverChannel{
		app:       pushover.New(appToken),
		recipient: pushover.NewRecipient(userKey),
	}
}

func (c *PushoverChannel) Name() string { return "pushover" }

func (c *PushoverChannel) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := pushover.NewMessageWithTitle(msg.Body, msg.Subject)
	if _, err := c.app.SendMessage(m, c.recipient); err != nil {
		return errors.Wrap(err, "pushover send")
	}
	return nil
}
