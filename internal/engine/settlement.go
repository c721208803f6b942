package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/veilbid/auctiond/internal/domain"
)

// EndAuction settles the auction once the reveal window has elapsed. Anyone
// may call it, exactly once per auction. On a sale the asset moves from
// escrow to the winner, and the winning price (the greater of the
// second-highest bid and the reserve) moves from escrowed collateral to the
// seller. Without a qualifying bid the asset returns to the seller and no
// payment moves. Any arithmetic overflow aborts the whole call.
func (e *Engine) EndAuction(
	ctx context.Context,
	caller common.Address,
	assetCollection common.Address,
	assetInstanceID *uint256.Int,
) (domain.Auction, error) {
	key := domain.NewAuctionKey(assetCollection, assetInstanceID)
	unlock := e.locks.lock(key)
	defer unlock()

	a, err := e.auctions.Latest(ctx, key)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("engine: end auction: %w", err)
	}
	if a.Settled {
		return domain.Auction{}, fmt.Errorf("engine: end auction: %w", domain.ErrAlreadyEnded)
	}
	now := e.now()
	if !a.RevealClosed(now) {
		return domain.Auction{}, fmt.Errorf("engine: end auction: %w", domain.ErrAuctionNotYetEnded)
	}

	sold := a.HighestBidder != nil && a.HighestBid.Cmp(a.ReservePrice) >= 0

	// Winning price: second price with the reserve as floor.
	winningPrice := a.ReservePrice
	if sold && a.SecondHighestBid.Cmp(winningPrice) > 0 {
		winningPrice = a.SecondHighestBid
	}
	if !sold {
		winningPrice = domain.Amount{}
	}

	// Under the forfeiture policy, collateral of bidders who never revealed
	// accrues to the seller. Computed (checked) before any transfer so an
	// overflow aborts with nothing moved.
	forfeited, forfeitedBids, err := e.forfeitedCollateral(ctx, key, a.Index)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("engine: end auction: %w", err)
	}

	sellerProceeds := forfeited
	winner := common.Address{}
	if sold {
		winner = *a.HighestBidder
		sellerProceeds, err = sellerProceeds.Add(winningPrice)
		if err != nil {
			return domain.Auction{}, fmt.Errorf("engine: end auction: seller proceeds: %w", err)
		}
	}

	// External transfers. These are the only fallible boundary; a failure
	// here aborts before any local state changes, so the call can be
	// retried.
	assetRecipient := a.Seller
	if sold {
		assetRecipient = winner
	}
	if err := e.assets.TransferFrom(ctx, assetCollection, e.cfg.Escrow, e.cfg.Escrow, assetRecipient, assetInstanceID); err != nil {
		return domain.Auction{}, fmt.Errorf("engine: end auction: release asset: %w", err)
	}
	if !sellerProceeds.IsZero() {
		if err := e.payments.Transfer(ctx, a.PaymentToken, e.cfg.Escrow, a.Seller, sellerProceeds); err != nil {
			return domain.Auction{}, fmt.Errorf("engine: end auction: pay seller: %w", err)
		}
	}

	// Local state: zero forfeited records, then mark the auction settled.
	for _, b := range forfeitedBids {
		b.Collateral = domain.Amount{}
		b.Withdrawn = true
		if err := e.bids.PutBid(ctx, key, a.Index, b); err != nil {
			return domain.Auction{}, fmt.Errorf("engine: end auction: store: %w", err)
		}
	}
	a.Settled = true
	a.Sold = sold
	a.WinningPrice = winningPrice
	settledAt := now
	a.SettledAt = &settledAt
	if err := e.auctions.Put(ctx, a); err != nil {
		return domain.Auction{}, fmt.Errorf("engine: end auction: store: %w", err)
	}

	e.logger.InfoContext(ctx, "auction ended",
		slog.String("key", key.String()),
		slog.Uint64("index", a.Index),
		slog.Bool("sold", sold),
		slog.String("winner", winner.Hex()),
		slog.String("winning_price", winningPrice.String()),
		slog.String("caller", caller.Hex()),
	)

	event := domain.AuctionEndedEvent{
		AssetCollection: assetCollection,
		AssetInstanceID: key.AssetInstanceID.Dec(),
		AuctionIndex:    a.Index,
		Winner:          winner,
		WinningPrice:    winningPrice,
		Sold:            sold,
		EndedAt:         now,
	}
	e.publish(ctx, domain.ChannelAuctionEnded, event)

	// The durable stream carries the full record so archival consumers can
	// run in a separate process without access to the live store.
	allBids, err := e.bids.ListBids(ctx, key, a.Index)
	if err != nil {
		e.logger.ErrorContext(ctx, "list bids for settlement record",
			slog.String("key", key.String()),
			slog.String("error", err.Error()),
		)
	}
	e.streamAppend(ctx, domain.StreamAuctionEnded, domain.SettlementRecord{Auction: a, Bids: allBids})
	e.auditLog(ctx, "auction_ended", map[string]any{
		"key":           key.String(),
		"index":         a.Index,
		"sold":          sold,
		"winner":        winner.Hex(),
		"winning_price": winningPrice.String(),
	})
	return a, nil
}

// forfeitedCollateral sums the collateral of unrevealed bids when the
// forfeiture policy is active and returns the affected records.
func (e *Engine) forfeitedCollateral(ctx context.Context, key domain.AuctionKey, index uint64) (domain.Amount, []domain.Bid, error) {
	if !e.cfg.ForfeitUnrevealed {
		return domain.Amount{}, nil, nil
	}

	all, err := e.bids.ListBids(ctx, key, index)
	if err != nil {
		return domain.Amount{}, nil, fmt.Errorf("list bids: %w", err)
	}

	var total domain.Amount
	var affected []domain.Bid
	for _, b := range all {
		if b.Revealed || b.Collateral.IsZero() {
			continue
		}
		total, err = total.Add(b.Collateral)
		if err != nil {
			return domain.Amount{}, nil, fmt.Errorf("forfeited collateral: %w", err)
		}
		affected = append(affected, b)
	}
	return total, affected, nil
}

// WithdrawCollateral refunds a bidder's escrowed collateral after the
// auction has ended: the full amount for losers (and, without the forfeiture
// policy, for bidders who never revealed), the excess above the winning
// price for the winner. The record is zeroed before the external transfer is
// issued; a failed transfer restores it, keeping the call all-or-nothing. A
// second withdrawal finds nothing and fails.
func (e *Engine) WithdrawCollateral(
	ctx context.Context,
	bidder common.Address,
	assetCollection common.Address,
	assetInstanceID *uint256.Int,
	index uint64,
) (domain.Amount, error) {
	key := domain.NewAuctionKey(assetCollection, assetInstanceID)
	unlock := e.locks.lock(key)
	defer unlock()

	a, err := e.auctions.Get(ctx, key, index)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("engine: withdraw collateral: %w", err)
	}
	if !a.Settled {
		return domain.Amount{}, fmt.Errorf("engine: withdraw collateral: %w", domain.ErrAuctionNotYetEnded)
	}

	bid, err := e.bids.GetBid(ctx, key, index, bidder)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("engine: withdraw collateral: %w", err)
	}
	if bid.Withdrawn || bid.Collateral.IsZero() {
		return domain.Amount{}, fmt.Errorf("engine: withdraw collateral: %w", domain.ErrNothingToWithdraw)
	}

	refund := bid.Collateral
	if a.Sold && a.HighestBidder != nil && *a.HighestBidder == bidder {
		refund, err = bid.Collateral.Sub(a.WinningPrice)
		if err != nil {
			return domain.Amount{}, fmt.Errorf("engine: withdraw collateral: %w", err)
		}
	}
	if refund.IsZero() {
		return domain.Amount{}, fmt.Errorf("engine: withdraw collateral: %w", domain.ErrNothingToWithdraw)
	}

	// Zero the record before issuing the transfer, restore on failure.
	prior := bid
	bid.Collateral = domain.Amount{}
	bid.Withdrawn = true
	if err := e.bids.PutBid(ctx, key, index, bid); err != nil {
		return domain.Amount{}, fmt.Errorf("engine: withdraw collateral: store: %w", err)
	}
	if err := e.payments.Transfer(ctx, a.PaymentToken, e.cfg.Escrow, bidder, refund); err != nil {
		if restoreErr := e.bids.PutBid(ctx, key, index, prior); restoreErr != nil {
			e.logger.ErrorContext(ctx, "restore bid after failed refund",
				slog.String("key", key.String()),
				slog.String("bidder", bidder.Hex()),
				slog.String("error", restoreErr.Error()),
			)
		}
		return domain.Amount{}, fmt.Errorf("engine: withdraw collateral: refund: %w", err)
	}

	e.logger.InfoContext(ctx, "collateral withdrawn",
		slog.String("key", key.String()),
		slog.Uint64("index", index),
		slog.String("bidder", bidder.Hex()),
		slog.String("refund", refund.String()),
	)
	e.auditLog(ctx, "collateral_withdrawn", map[string]any{
		"key":    key.String(),
		"index":  index,
		"bidder": bidder.Hex(),
		"refund": refund.String(),
	})
	return refund, nil
}

// assertWindowOrder is a creation-time invariant shared with config
// validation: start < endOfBidding < endOfReveal.
func assertWindowOrder(start, endOfBidding, endOfReveal time.Time) error {
	if !start.Before(endOfBidding) || !endOfBidding.Before(endOfReveal) {
		return domain.ErrInvalidWindow
	}
	return nil
}
