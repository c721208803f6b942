// Package engine implements the sealed-bid second-price auction protocol:
// the time-windowed lifecycle state machine, commit-reveal verification,
// collateral accounting, and second-price settlement. Every state-changing
// operation takes the authenticated caller as an explicit argument and runs
// under a per-asset-key lock, so operations against one auction are fully
// serialized while different auctions proceed in parallel.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/veilbid/auctiond/internal/commit"
	"github.com/veilbid/auctiond/internal/domain"
	"github.com/veilbid/auctiond/internal/token"
)

// Config holds the engine's policy knobs.
type Config struct {
	// Escrow is the engine's custody account on both token ledgers. Assets
	// and collateral are held here between creation and settlement.
	Escrow common.Address

	// StartGrace is how far in the past an auction's start time may lie
	// before creation fails with ErrInvalidWindow.
	StartGrace time.Duration

	// AllowRecommit controls the double-commit policy. When true (the
	// ledger's original behavior) a second commit from the same bidder
	// overwrites the commitment and tops up collateral; when false it fails
	// with ErrDuplicateBid.
	AllowRecommit bool

	// ForfeitUnrevealed controls the unrevealed-collateral policy. When
	// true, collateral of bidders who never revealed accrues to the seller
	// at settlement; when false they withdraw it in full after the auction
	// ends.
	ForfeitUnrevealed bool
}

// Engine orchestrates auctions against the live stores and the external
// token ledgers.
type Engine struct {
	cfg      Config
	auctions domain.AuctionStore
	bids     domain.BidStore
	payments token.FungibleLedger
	assets   token.AssetRegistry

	// Optional collaborators; any of them may be nil.
	bus       domain.SignalBus
	audit     domain.AuditStore
	blacklist domain.Blacklist

	locks  *keyLocks
	now    func() time.Time
	logger *slog.Logger
}

// New creates an Engine. Stores and both token ledgers are required; bus,
// audit log, and blacklist are attached with the With* methods.
func New(cfg Config, auctions domain.AuctionStore, bids domain.BidStore, payments token.FungibleLedger, assets token.AssetRegistry, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		auctions: auctions,
		bids:     bids,
		payments: payments,
		assets:   assets,
		locks:    newKeyLocks(),
		now:      time.Now,
		logger:   logger.With(slog.String("component", "engine")),
	}
}

// WithBus attaches the event bus engine notifications are published on.
func (e *Engine) WithBus(bus domain.SignalBus) *Engine {
	e.bus = bus
	return e
}

// WithAudit attaches the append-only audit log.
func (e *Engine) WithAudit(audit domain.AuditStore) *Engine {
	e.audit = audit
	return e
}

// WithBlacklist attaches the seller blacklist consulted at creation time.
func (e *Engine) WithBlacklist(bl domain.Blacklist) *Engine {
	e.blacklist = bl
	return e
}

// WithClock overrides the engine clock. Tests drive the lifecycle windows
// through this.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// CreateAuction opens a new auction for the asset. The seller must own the
// instance and have approved the engine's escrow account for it; custody
// moves to escrow before the record is created. A zero startTime means
// "start now". The new record's index is strictly greater than any previous
// auction of the same asset.
func (e *Engine) CreateAuction(
	ctx context.Context,
	seller common.Address,
	assetCollection common.Address,
	assetInstanceID *uint256.Int,
	paymentToken common.Address,
	startTime time.Time,
	bidPeriod, revealPeriod time.Duration,
	reservePrice domain.Amount,
) (domain.Auction, error) {
	now := e.now()
	if startTime.IsZero() {
		startTime = now
	}
	if bidPeriod <= 0 || revealPeriod <= 0 {
		return domain.Auction{}, fmt.Errorf("engine: create auction: %w", domain.ErrInvalidWindow)
	}
	if startTime.Before(now.Add(-e.cfg.StartGrace)) {
		return domain.Auction{}, fmt.Errorf("engine: create auction: start time in the past: %w", domain.ErrInvalidWindow)
	}
	endOfBidding := startTime.Add(bidPeriod)
	endOfReveal := endOfBidding.Add(revealPeriod)
	if err := assertWindowOrder(startTime, endOfBidding, endOfReveal); err != nil {
		return domain.Auction{}, fmt.Errorf("engine: create auction: %w", err)
	}

	if e.blacklist != nil {
		barred, err := e.blacklist.Contains(ctx, seller)
		if err != nil {
			return domain.Auction{}, fmt.Errorf("engine: create auction: blacklist check: %w", err)
		}
		if barred {
			return domain.Auction{}, fmt.Errorf("engine: create auction: %w", domain.ErrSellerBlacklisted)
		}
	}

	key := domain.NewAuctionKey(assetCollection, assetInstanceID)
	unlock := e.locks.lock(key)
	defer unlock()

	owner, err := e.assets.OwnerOf(ctx, assetCollection, assetInstanceID)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("engine: create auction: %w: %w", domain.ErrSellerNotAuthorized, err)
	}
	if owner != seller {
		return domain.Auction{}, fmt.Errorf("engine: create auction: seller %s does not own asset: %w", seller.Hex(), domain.ErrSellerNotAuthorized)
	}

	index, err := e.auctions.NextIndex(ctx, key)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("engine: create auction: allocate index: %w", err)
	}

	// Take custody before recording anything; a failed transfer leaves no
	// local state behind.
	if err := e.assets.TransferFrom(ctx, assetCollection, e.cfg.Escrow, seller, e.cfg.Escrow, assetInstanceID); err != nil {
		return domain.Auction{}, fmt.Errorf("engine: create auction: take custody: %w", err)
	}

	a := domain.Auction{
		Key:          key,
		Index:        index,
		Seller:       seller,
		PaymentToken: paymentToken,
		StartTime:    startTime,
		EndOfBidding: endOfBidding,
		EndOfReveal:  endOfReveal,
		ReservePrice: reservePrice,
		CreatedAt:    now,
	}
	if err := e.auctions.Put(ctx, a); err != nil {
		return domain.Auction{}, fmt.Errorf("engine: create auction: store: %w", err)
	}

	e.logger.InfoContext(ctx, "auction created",
		slog.String("key", key.String()),
		slog.Uint64("index", index),
		slog.String("seller", seller.Hex()),
		slog.String("reserve_price", reservePrice.String()),
	)
	e.publish(ctx, domain.ChannelAuctionCreated, domain.AuctionCreatedEvent{
		AssetCollection: assetCollection,
		AssetInstanceID: key.AssetInstanceID.Dec(),
		AuctionIndex:    index,
		Seller:          seller,
		PaymentToken:    paymentToken,
		ReservePrice:    reservePrice,
		StartTime:       a.StartTime,
		EndOfBidding:    a.EndOfBidding,
		EndOfReveal:     a.EndOfReveal,
	})
	e.auditLog(ctx, "auction_created", map[string]any{
		"key":    key.String(),
		"index":  index,
		"seller": seller.Hex(),
	})
	return a, nil
}

// CommitBid records a sealed bid against the latest auction of the asset and
// escrows collateral from the bidder. Only admissible during the bidding
// window. Re-commits follow the configured double-commit policy.
func (e *Engine) CommitBid(
	ctx context.Context,
	bidder common.Address,
	assetCollection common.Address,
	assetInstanceID *uint256.Int,
	commitment domain.Commitment,
	collateral domain.Amount,
) error {
	key := domain.NewAuctionKey(assetCollection, assetInstanceID)
	unlock := e.locks.lock(key)
	defer unlock()

	a, err := e.auctions.Latest(ctx, key)
	if err != nil {
		return fmt.Errorf("engine: commit bid: %w", err)
	}
	if a.Settled || !a.InBiddingWindow(e.now()) {
		return fmt.Errorf("engine: commit bid: %w", domain.ErrAuctionNotInBiddingPeriod)
	}

	bid := domain.Bid{Bidder: bidder, Commitment: commitment, Collateral: collateral}
	firstCommit := true
	if existing, err := e.bids.GetBid(ctx, key, a.Index, bidder); err == nil {
		if !e.cfg.AllowRecommit {
			return fmt.Errorf("engine: commit bid: %w", domain.ErrDuplicateBid)
		}
		firstCommit = false
		// Top up: the new commitment replaces the old one, collateral
		// accumulates.
		total, err := existing.Collateral.Add(collateral)
		if err != nil {
			return fmt.Errorf("engine: commit bid: collateral: %w", err)
		}
		bid.Collateral = total
	} else if !errors.Is(err, domain.ErrNoSuchBid) {
		return fmt.Errorf("engine: commit bid: %w", err)
	}

	// Lock the new collateral into escrow. The bidder must have approved
	// the escrow account on the payment ledger beforehand.
	if !collateral.IsZero() {
		if err := e.payments.TransferFrom(ctx, a.PaymentToken, e.cfg.Escrow, bidder, e.cfg.Escrow, collateral); err != nil {
			return fmt.Errorf("engine: commit bid: escrow collateral: %w", err)
		}
	}

	if err := e.bids.PutBid(ctx, key, a.Index, bid); err != nil {
		return fmt.Errorf("engine: commit bid: store: %w", err)
	}
	if firstCommit {
		a.NumBids++
		if err := e.auctions.Put(ctx, a); err != nil {
			return fmt.Errorf("engine: commit bid: store: %w", err)
		}
	}

	e.logger.InfoContext(ctx, "bid committed",
		slog.String("key", key.String()),
		slog.Uint64("index", a.Index),
		slog.String("bidder", bidder.Hex()),
		slog.String("commitment", commitment.Hex()),
	)
	e.publish(ctx, domain.ChannelBidCommitted, domain.BidCommittedEvent{
		AssetCollection: assetCollection,
		AssetInstanceID: key.AssetInstanceID.Dec(),
		AuctionIndex:    a.Index,
		Bidder:          bidder,
		Commitment:      commitment,
		Collateral:      bid.Collateral,
	})
	return nil
}

// RevealBid discloses a bidder's (nonce, bidValue) pair during the reveal
// window and, when the recomputed commitment matches the stored one, feeds
// the value into the second-price ranking. Bids below the reserve price are
// accepted as revealed but never enter the ranking. A BidRevealed event is
// published for every attempt that passes window gating, matched or not, so
// failed reveals stay auditable.
func (e *Engine) RevealBid(
	ctx context.Context,
	bidder common.Address,
	assetCollection common.Address,
	assetInstanceID *uint256.Int,
	bidValue domain.Amount,
	nonce domain.Nonce,
) error {
	key := domain.NewAuctionKey(assetCollection, assetInstanceID)
	unlock := e.locks.lock(key)
	defer unlock()

	a, err := e.auctions.Latest(ctx, key)
	if err != nil {
		return fmt.Errorf("engine: reveal bid: %w", err)
	}
	if a.Settled || !a.InRevealWindow(e.now()) {
		return fmt.Errorf("engine: reveal bid: %w", domain.ErrAuctionNotInRevealPeriod)
	}

	bid, err := e.bids.GetBid(ctx, key, a.Index, bidder)
	if err != nil {
		return fmt.Errorf("engine: reveal bid: %w", err)
	}
	if bid.Revealed {
		return fmt.Errorf("engine: reveal bid: %w", domain.ErrAlreadyRevealed)
	}

	recomputed, ok := commit.Verify(bid.Commitment, nonce, bidValue, assetCollection, assetInstanceID, a.Index)
	e.publish(ctx, domain.ChannelBidRevealed, domain.BidRevealedEvent{
		AssetCollection:      assetCollection,
		AssetInstanceID:      key.AssetInstanceID.Dec(),
		AuctionIndex:         a.Index,
		Bidder:               bidder,
		Commitment:           bid.Commitment,
		RecomputedCommitment: recomputed,
		Nonce:                nonce.Hex(),
		BidValue:             bidValue,
		Matched:              ok,
	})
	if !ok {
		return fmt.Errorf("engine: reveal bid: %w", domain.ErrCommitmentMismatch)
	}
	if bid.Collateral.Cmp(bidValue) < 0 {
		return fmt.Errorf("engine: reveal bid: %w", domain.ErrInsufficientCollateral)
	}

	bid.Revealed = true
	if err := e.bids.PutBid(ctx, key, a.Index, bid); err != nil {
		return fmt.Errorf("engine: reveal bid: store: %w", err)
	}

	// Ranking floor: only bids at or above the reserve can win, so only
	// they shift the highest/second-highest pair.
	if bidValue.Cmp(a.ReservePrice) >= 0 {
		switch {
		case a.HighestBidder == nil || bidValue.Cmp(a.HighestBid) > 0:
			a.SecondHighestBid = a.HighestBid
			a.HighestBid = bidValue
			b := bidder
			a.HighestBidder = &b
		case bidValue.Cmp(a.SecondHighestBid) > 0:
			a.SecondHighestBid = bidValue
		}
		if err := e.auctions.Put(ctx, a); err != nil {
			return fmt.Errorf("engine: reveal bid: store: %w", err)
		}
	}

	e.logger.InfoContext(ctx, "bid revealed",
		slog.String("key", key.String()),
		slog.Uint64("index", a.Index),
		slog.String("bidder", bidder.Hex()),
		slog.String("bid_value", bidValue.String()),
	)
	return nil
}

// GetAuction returns the latest auction for the asset.
func (e *Engine) GetAuction(ctx context.Context, assetCollection common.Address, assetInstanceID *uint256.Int) (domain.Auction, error) {
	return e.auctions.Latest(ctx, domain.NewAuctionKey(assetCollection, assetInstanceID))
}

// GetAuctionAt returns the auction at an explicit index.
func (e *Engine) GetAuctionAt(ctx context.Context, assetCollection common.Address, assetInstanceID *uint256.Int, index uint64) (domain.Auction, error) {
	return e.auctions.Get(ctx, domain.NewAuctionKey(assetCollection, assetInstanceID), index)
}

// GetAllAuctions enumerates every auction, newest first.
func (e *Engine) GetAllAuctions(ctx context.Context) ([]domain.Auction, error) {
	return e.auctions.List(ctx)
}

// GetEndedAuctions enumerates settled auctions, newest first.
func (e *Engine) GetEndedAuctions(ctx context.Context) ([]domain.Auction, error) {
	return e.auctions.ListEnded(ctx)
}

// GetBid returns one bidder's record for an explicit auction index.
func (e *Engine) GetBid(ctx context.Context, assetCollection common.Address, assetInstanceID *uint256.Int, index uint64, bidder common.Address) (domain.Bid, error) {
	return e.bids.GetBid(ctx, domain.NewAuctionKey(assetCollection, assetInstanceID), index, bidder)
}

// publish marshals an event and publishes it on the bus. Bus failures are
// logged, never propagated: notifications are observability, not ledger
// state.
func (e *Engine) publish(ctx context.Context, channel string, event any) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		e.logger.ErrorContext(ctx, "marshal event", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}
	if err := e.bus.Publish(ctx, channel, payload); err != nil {
		e.logger.WarnContext(ctx, "publish event", slog.String("channel", channel), slog.String("error", err.Error()))
	}
}

// streamAppend appends an event to a durable bus stream, logging failures.
func (e *Engine) streamAppend(ctx context.Context, stream string, event any) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		e.logger.ErrorContext(ctx, "marshal event", slog.String("stream", stream), slog.String("error", err.Error()))
		return
	}
	if err := e.bus.StreamAppend(ctx, stream, payload); err != nil {
		e.logger.WarnContext(ctx, "stream append", slog.String("stream", stream), slog.String("error", err.Error()))
	}
}

// auditLog writes to the audit store when one is attached.
func (e *Engine) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "audit log", slog.String("event", event), slog.String("error", err.Error()))
	}
}
