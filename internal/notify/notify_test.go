package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	model "auction-rounds/internal/models"

	"github.com/golang/mock/gomock"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/sugawarayuuta/sonnet"
)

var ts = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	declared   []string
	declareErr error
	publishErr error
	published  []published
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.declared = append(f.declared, name+"/"+kind)
	return f.declareErr
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func TestDispatcher_PublishesToEveryTransport(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	failing := NewMockPublisher(ctrl)
	ok := NewMockPublisher(ctrl)
	event := model.RoundClosedEvent("a1", 2, ts)

	failing.EXPECT().Publish(gomock.Any(), event).Return(errors.New("broker down"))
	ok.EXPECT().Publish(gomock.Any(), event).Return(nil)

	NewDispatcher(failing, ok).Notify(context.Background(), event)
}

func TestAMQPPublisher_DeclaresTopicExchange(t *testing.T) {
	ch := &fakeChannel{}

	_, err := NewAMQPPublisher(ch, "auction_events")

	require.NoError(t, err)
	require.Equal(t, []string{"auction_events/topic"}, ch.declared)
}

func TestAMQPPublisher_DeclareFailure(t *testing.T) {
	ch := &fakeChannel{declareErr: errors.New("access refused")}

	_, err := NewAMQPPublisher(ch, "auction_events")

	require.Error(t, err)
	require.Contains(t, err.Error(), "auction_events")
}

func TestAMQPPublisher_Publish(t *testing.T) {
	ch := &fakeChannel{}
	pub, err := NewAMQPPublisher(ch, "auction_events")
	require.NoError(t, err)

	bid := model.Bid{AuctionID: "a1", Round: 1, UserID: "u1", Amount: decimal.NewFromInt(150), PlacedAt: ts}
	require.NoError(t, pub.Publish(context.Background(), model.BidPlacedEvent(bid)))

	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	require.Equal(t, "auction_events", msg.exchange)
	require.Equal(t, "bid.placed", msg.key)
	require.Equal(t, "application/json", msg.msg.ContentType)
	require.Equal(t, "bid_placed", msg.msg.Type)

	var body map[string]any
	require.NoError(t, sonnet.Unmarshal(msg.msg.Body, &body))
	require.Equal(t, "bid_placed", body["type"])
	require.Equal(t, "a1", body["auction_id"])
	require.Equal(t, "u1", body["user_id"])
	require.Equal(t, "150", body["amount"])
}

func TestAMQPPublisher_PublishError(t *testing.T) {
	ch := &fakeChannel{}
	pub, err := NewAMQPPublisher(ch, "auction_events")
	require.NoError(t, err)
	ch.publishErr = amqp.ErrClosed

	err = pub.Publish(context.Background(), model.AuctionFinishedEvent("a1", ts))

	require.ErrorIs(t, err, amqp.ErrClosed)
}

func receive(t *testing.T, sub *Subscriber) model.Event {
	t.Helper()
	select {
	case event := <-sub.Events:
		return event
	case <-time.After(time.Second):
		t.Fatalf("no event for subscriber %s", sub.ID)
		return model.Event{}
	}
}

func requireNoEvent(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case event := <-sub.Events:
		t.Fatalf("unexpected %s event for subscriber %s", event.Type, sub.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_RoutesEventsByAuction(t *testing.T) {
	hub := NewHub()
	defer hub.Stop()
	ctx := context.Background()

	bidder, err := hub.Subscribe("a1", "u1")
	require.NoError(t, err)
	rival, err := hub.Subscribe("a1", "u2")
	require.NoError(t, err)
	other, err := hub.Subscribe("a2", "u1")
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, model.RoundClosedEvent("a1", 1, ts)))
	require.Equal(t, model.EventRoundClosed, receive(t, bidder).Type)
	require.Equal(t, model.EventRoundClosed, receive(t, rival).Type)
	requireNoEvent(t, other)

	bid := model.Bid{AuctionID: "a1", Round: 1, UserID: "u1", Amount: decimal.NewFromInt(10), PlacedAt: ts}
	require.NoError(t, hub.Publish(ctx, model.BidPlacedEvent(bid)))
	require.Equal(t, model.EventBidPlaced, receive(t, bidder).Type)
	requireNoEvent(t, rival)
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	defer hub.Stop()

	sub, err := hub.Subscribe("a1", "")
	require.NoError(t, err)
	hub.Unsubscribe(sub)

	_, open := <-sub.Events
	require.False(t, open)
}

func TestHub_PublishAfterStop(t *testing.T) {
	hub := NewHub()
	hub.Stop()

	err := hub.Publish(context.Background(), model.AuctionFinishedEvent("a1", ts))
	require.ErrorIs(t, err, errHubStopped)
}
