package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	model "auction-rounds/internal/models"
	"auction-rounds/utils"

	"github.com/gin-gonic/gin"
)

const subscriberBuffer = 16

var errHubStopped = errors.New("event hub stopped")

// Subscriber receives the events of one auction over server-sent events
type Subscriber struct {
	ID        string
	AuctionID string
	UserID    string
	Events    chan model.Event
}

// Hub keeps the live SSE subscribers and routes events to them. Bid events are
// sealed: they only reach the subscribers of the bidding user.
type Hub struct {
	messages   chan model.Event
	register   chan *Subscriber
	unregister chan *Subscriber
	done       chan struct{}
	stopped    chan struct{}
	stopOnce   sync.Once

	byAuction map[string]map[string]*Subscriber
}

// NewHub creates a Hub and starts its routing loop
func NewHub() *Hub {
	h := &Hub{
		messages:   make(chan model.Event),
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		byAuction:  make(map[string]map[string]*Subscriber),
	}
	go h.listen()
	return h
}

func (h *Hub) listen() {
	defer close(h.stopped)
	for {
		select {
		case sub := <-h.register:
			if h.byAuction[sub.AuctionID] == nil {
				h.byAuction[sub.AuctionID] = make(map[string]*Subscriber)
			}
			h.byAuction[sub.AuctionID][sub.ID] = sub

		case sub := <-h.unregister:
			if subs, ok := h.byAuction[sub.AuctionID]; ok {
				if _, ok := subs[sub.ID]; ok {
					delete(subs, sub.ID)
					close(sub.Events)
				}
				if len(subs) == 0 {
					delete(h.byAuction, sub.AuctionID)
				}
			}

		case event := <-h.messages:
			h.broadcast(event)

		case <-h.done:
			for _, subs := range h.byAuction {
				for _, sub := range subs {
					close(sub.Events)
				}
			}
			h.byAuction = nil
			return
		}
	}
}

func (h *Hub) broadcast(event model.Event) {
	for _, sub := range h.byAuction[event.AuctionID] {
		if event.Type == model.EventBidPlaced && sub.UserID != event.UserID {
			continue
		}
		select {
		case sub.Events <- event:
		default:
			utils.Warn("notify: dropping event for slow subscriber", map[string]any{
				"subscriber": sub.ID,
				"auction_id": sub.AuctionID,
				"event":      string(event.Type),
			})
		}
	}
}

// Publish hands the event to the routing loop
func (h *Hub) Publish(ctx context.Context, event model.Event) error {
	select {
	case h.messages <- event:
		return nil
	case <-h.done:
		return errHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a subscriber for the auction. userID may be empty for
// spectators, who never see bid events.
func (h *Hub) Subscribe(auctionID, userID string) (*Subscriber, error) {
	sub := &Subscriber{
		ID:        utils.GenerateID(),
		AuctionID: auctionID,
		UserID:    userID,
		Events:    make(chan model.Event, subscriberBuffer),
	}
	select {
	case h.register <- sub:
		return sub, nil
	case <-h.done:
		return nil, errHubStopped
	}
}

// Unsubscribe removes the subscriber and closes its channel
func (h *Hub) Unsubscribe(sub *Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// Stop closes every subscriber and waits for the routing loop to end
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
	<-h.stopped
}

// ServeEvents streams the events of /auctions/:auction_id/events to the client
func (h *Hub) ServeEvents(c *gin.Context) {
	auctionID := c.Param("auction_id")
	if auctionID == "" {
		utils.JSONError(c, http.StatusBadRequest, errors.New("missing auction id"), "Invalid request")
		return
	}

	sub, err := h.Subscribe(auctionID, c.Query("user_id"))
	if err != nil {
		utils.JSONError(c, http.StatusServiceUnavailable, err, "Event stream unavailable")
		return
	}
	defer h.Unsubscribe(sub)

	utils.Debug("sse subscriber connected", map[string]any{"subscriber": sub.ID, "auction_id": auctionID})

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-sub.Events:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Type), event)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})

	utils.Debug("sse subscriber disconnected", map[string]any{"subscriber": sub.ID, "auction_id": auctionID})
}
