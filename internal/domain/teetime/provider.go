package teetime

import "context"

// Provider is any backend able to report and book tee-time openings. The two
// conforming implementations (REST client, browser automation) must be
// indistinguishable from the engine's point of view.
//
// Healthy must be a cheap probe, never a full availability scan. All errors
// returned across this boundary are classified domain errors; raw transport
// errors stay inside the implementation.
type Provider interface {
	Name() string
	Connect(ctx context.Context) error
	Healthy(ctx context.Context) error
	FindSlots(ctx context.Context, q AvailabilityQuery) ([]Slot, error)
	Book(ctx context.Context, slot Slot, req BookingRequest) (BookingOutcome, error)
	Close(ctx context.Context) error
}
