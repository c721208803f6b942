package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilbid/auctiond/internal/domain"
)

// stubBus hands each subscriber a channel the test can emit into.
type stubBus struct {
	mu    sync.Mutex
	chans map[string]chan []byte
}

func newStubBus() *stubBus {
	return &stubBus{chans: make(map[string]chan []byte)}
}

func (b *stubBus) Publish(ctx context.Context, channel string, payload []byte) error { return nil }

func (b *stubBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 8)
	b.chans[channel] = ch
	return ch, nil
}

func (b *stubBus) StreamAppend(ctx context.Context, stream string, payload []byte) error { return nil }

func (b *stubBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// emit waits for the hub's subscription to land, then delivers the payload.
func (b *stubBus) emit(t *testing.T, channel string, payload []byte) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		b.mu.Lock()
		ch, ok := b.chans[channel]
		b.mu.Unlock()
		if ok {
			ch <- payload
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("hub never subscribed to %s", channel)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHub_DeliversEnvelopesToSubscribers(t *testing.T) {
	bus := newStubBus()
	hub := NewHub(bus, testLogger(), Config{Mode: "serve"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	interested := &client{hub: hub, send: make(chan []byte, 4), subs: map[string]bool{
		domain.ChannelAuctionEnded: true,
	}}
	other := &client{hub: hub, send: make(chan []byte, 4), subs: map[string]bool{
		domain.ChannelBidCommitted: true,
	}}
	hub.register <- interested
	hub.register <- other

	bus.emit(t, domain.ChannelAuctionEnded, []byte(`{"sold":true}`))

	select {
	case frame := <-interested.send:
		var ev envelope
		require.NoError(t, json.Unmarshal(frame, &ev))
		assert.Equal(t, domain.ChannelAuctionEnded, ev.Channel)
		assert.JSONEq(t, `{"sold":true}`, string(ev.Payload))
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the settlement frame")
	}

	select {
	case <-other.send:
		t.Fatal("client subscribed to another channel must not receive the frame")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClient_SubscriptionMatching(t *testing.T) {
	c := &client{subs: make(map[string]bool)}

	c.applySubscription(subscribeMsg{Action: "subscribe", Channels: []string{"ch:bid:*"}})
	assert.True(t, c.isSubscribed(domain.ChannelBidRevealed))
	assert.True(t, c.isSubscribed(domain.ChannelBidCommitted))
	assert.False(t, c.isSubscribed(domain.ChannelAuctionEnded))

	c.applySubscription(subscribeMsg{Action: "subscribe", Channels: []string{domain.ChannelAuctionEnded}})
	assert.True(t, c.isSubscribed(domain.ChannelAuctionEnded))

	c.applySubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{"ch:bid:*"}})
	assert.False(t, c.isSubscribed(domain.ChannelBidRevealed))
	assert.True(t, c.isSubscribed(domain.ChannelAuctionEnded), "exact subscription survives the wildcard removal")
}
