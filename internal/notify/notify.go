package notify

import (
	"context"

	model "auction-rounds/internal/models"
	"auction-rounds/utils"
)

//go:generate mockgen -source=notify.go -destination=mock_notify.go -package=notify

// Notifier delivers auction events on a best-effort basis. It never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, event model.Event)
}

// Publisher is one delivery transport of the bus
type Publisher interface {
	Publish(ctx context.Context, event model.Event) error
}

// Dispatcher fans an event out to every publisher and logs delivery failures
type Dispatcher struct {
	publishers []Publisher
}

// NewDispatcher creates a Dispatcher over the given transports
func NewDispatcher(publishers ...Publisher) *Dispatcher {
	return &Dispatcher{publishers: publishers}
}

// Notify publishes the event to every transport
func (d *Dispatcher) Notify(ctx context.Context, event model.Event) {
	for _, p := range d.publishers {
		if err := p.Publish(ctx, event); err != nil {
			utils.Warn("notify: failed to publish event", map[string]any{
				"event":      string(event.Type),
				"auction_id": event.AuctionID,
				"round":      event.RoundNumber,
				"error":      err.Error(),
			})
		}
	}
}

// Nop discards every event
type Nop struct{}

func (Nop) Notify(context.Context, model.Event) {}
