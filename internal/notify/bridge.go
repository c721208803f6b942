package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/veilbid/auctiond/internal/domain"
)

// Bridge subscribes to the engine's event channels and turns bus payloads
// into operator notifications. It runs until its context is cancelled.
type Bridge struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewBridge creates a Bridge between the signal bus and the notifier.
func NewBridge(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Bridge {
	return &Bridge{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_bridge")),
	}
}

// Run subscribes to the auction event channels and forwards formatted
// notifications until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	created, err := b.bus.Subscribe(ctx, domain.ChannelAuctionCreated)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", domain.ChannelAuctionCreated, err)
	}
	ended, err := b.bus.Subscribe(ctx, domain.ChannelAuctionEnded)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", domain.ChannelAuctionEnded, err)
	}

	b.logger.InfoContext(ctx, "notification bridge started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-created:
			if !ok {
				return nil
			}
			b.onCreated(ctx, payload)
		case payload, ok := <-ended:
			if !ok {
				return nil
			}
			b.onEnded(ctx, payload)
		}
	}
}

func (b *Bridge) onCreated(ctx context.Context, payload []byte) {
	var ev domain.AuctionCreatedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		b.logger.WarnContext(ctx, "malformed created event", slog.String("error", err.Error()))
		return
	}

	title := "Auction created"
	msg := fmt.Sprintf("asset %s/%s (round %d)\nseller %s\nreserve %s\nbidding closes %s",
		ev.AssetCollection.Hex(), ev.AssetInstanceID, ev.AuctionIndex,
		ev.Seller.Hex(), ev.ReservePrice, ev.EndOfBidding.Format("2006-01-02 15:04:05 MST"))

	if err := b.notifier.Notify(ctx, "auction_created", title, msg); err != nil {
		b.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
	}
}

func (b *Bridge) onEnded(ctx context.Context, payload []byte) {
	var ev domain.AuctionEndedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		b.logger.WarnContext(ctx, "malformed ended event", slog.String("error", err.Error()))
		return
	}

	var title, msg string
	if ev.Sold {
		title = "Auction sold"
		msg = fmt.Sprintf("asset %s/%s (round %d)\nwinner %s\nprice %s",
			ev.AssetCollection.Hex(), ev.AssetInstanceID, ev.AuctionIndex,
			ev.Winner.Hex(), ev.WinningPrice)
	} else {
		title = "Auction ended without sale"
		msg = fmt.Sprintf("asset %s/%s (round %d) returned to seller",
			ev.AssetCollection.Hex(), ev.AssetInstanceID, ev.AuctionIndex)
	}

	if err := b.notifier.Notify(ctx, "auction_ended", title, msg); err != nil {
		b.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
	}
}
