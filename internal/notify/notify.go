package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/tee-scheduler/internal/domain/teetime"
	"github.com/example/tee-scheduler/internal/logging"
	"github.com/example/tee-scheduler/internal/telemetry"
)

// Message is one logical notification delivered on every configured channel.
type Message struct {
	Subject       string
	Body          string
	CorrelationID string
}

// Channel delivers a message somewhere a human will see it.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Fanout delivers to every configured channel. Notification is best-effort
// auxiliary behavior: one channel's failure never blocks or fails the others,
// every delivery is awaited, failures are logged and swallowed, and an empty
// channel set is a silent no-op.
type Fanout struct {
	channels []Channel
}

func NewFanout(channels ...Channel) *Fanout {
	return &Fanout{channels: channels}
}

func (f *Fanout) Channels() int { return len(f.channels) }

// Success announces a completed booking.
func (f *Fanout) Success(ctx context.Context, outcome teetime.BookingOutcome) {
	subject := "Tee time booked"
	body := outcome.Message
	if outcome.Slot != nil {
		body = fmt.Sprintf("Booked %s.\nConfirmation: %s\n%s", outcome.Slot, outcome.ConfirmationCode, outcome.Message)
	}
	f.send(ctx, Message{Subject: subject, Body: body, CorrelationID: logging.CorrelationID(ctx)})
}

// Failure announces a terminal job failure. Intermediate retries stay silent.
func (f *Fanout) Failure(ctx context.Context, reason string) {
	f.send(ctx, Message{
		Subject:       "Tee time booking failed",
		Body:          reason,
		CorrelationID: logging.CorrelationID(ctx),
	})
}

// HealthAlert announces a provider health problem worth a human look.
func (f *Fanout) HealthAlert(ctx context.Context, detail string) {
	f.send(ctx, Message{
		Subject:       "Tee time provider unhealthy",
		Body:          detail,
		CorrelationID: logging.CorrelationID(ctx),
	})
}

func (f *Fanout) send(ctx context.Context, msg Message) {
	if len(f.channels) == 0 {
		return
	}
	log := logging.FromContext(ctx)

	var wg sync.WaitGroup
	for _, ch := range f.channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			if err := ch.Send(ctx, msg); err != nil {
				telemetry.NotifyFailures.Inc()
				log.Error().Err(err).Str("channel", ch.Name()).Str("subject", msg.Subject).Msg("notification delivery failed")
				return
			}
			log.Info().Str("channel", ch.Name()).Str("subject", msg.Subject).Msg("notification delivered")
		}(ch)
	}
	wg.Wait()
}
