// Package domain defines the core types of the sealed-bid auction engine:
// auctions, bids, bounded token amounts, commitment values, engine events,
// and the store and bus interfaces the rest of the system implements.
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Phase is the lifecycle phase of an auction. It is never persisted; it is
// recomputed from the clock and the auction's window boundaries on every read.
type Phase string

const (
	PhasePending Phase = "pending"
	PhaseBidding Phase = "bidding"
	PhaseReveal  Phase = "reveal"
	PhaseEnded   Phase = "ended"
)

// AuctionKey identifies the asset being auctioned: an NFT collection address
// plus the instance (token) id within it. Successive auctions of the same
// asset share the key and are told apart by Auction.Index.
type AuctionKey struct {
	AssetCollection common.Address
	AssetInstanceID uint256.Int
}

// NewAuctionKey builds an AuctionKey from a collection address and instance id.
func NewAuctionKey(collection common.Address, instanceID *uint256.Int) AuctionKey {
	k := AuctionKey{AssetCollection: collection}
	if instanceID != nil {
		k.AssetInstanceID = *instanceID
	}
	return k
}

// String renders the key as "collection/instance" for logs and bus payloads.
func (k AuctionKey) String() string {
	return fmt.Sprintf("%s/%s", k.AssetCollection.Hex(), k.AssetInstanceID.Dec())
}

// auctionKeyJSON is the wire form of an AuctionKey. The instance id travels
// as a decimal string so full 256-bit values survive JSON number handling.
type auctionKeyJSON struct {
	AssetCollection common.Address `json:"asset_collection"`
	AssetInstanceID string         `json:"asset_instance_id"`
}

// MarshalJSON encodes the key with the instance id as a decimal string.
func (k AuctionKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(auctionKeyJSON{
		AssetCollection: k.AssetCollection,
		AssetInstanceID: k.AssetInstanceID.Dec(),
	})
}

// UnmarshalJSON decodes the wire form produced by MarshalJSON.
func (k *AuctionKey) UnmarshalJSON(data []byte) error {
	var aux auctionKeyJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	id, err := uint256.FromDecimal(aux.AssetInstanceID)
	if err != nil {
		return fmt.Errorf("domain: parse instance id: %w", err)
	}
	k.AssetCollection = aux.AssetCollection
	k.AssetInstanceID = *id
	return nil
}

// Auction is one sealed-bid auction of one asset instance. A record is
// created by the seller, mutated only by commits and reveals, and becomes
// immutable once settled. Re-auctioning the same asset creates a new record
// with a strictly greater Index.
type Auction struct {
	Key   AuctionKey `json:"key"`
	Index uint64     `json:"index"`

	Seller       common.Address `json:"seller"`
	PaymentToken common.Address `json:"payment_token"`

	StartTime    time.Time `json:"start_time"`
	EndOfBidding time.Time `json:"end_of_bidding"`
	EndOfReveal  time.Time `json:"end_of_reveal"`

	ReservePrice Amount `json:"reserve_price"`

	// Reveal-phase ranking. Both amounts stay zero and HighestBidder stays
	// nil until the first reveal at or above the reserve price.
	HighestBid       Amount          `json:"highest_bid"`
	SecondHighestBid Amount          `json:"second_highest_bid"`
	HighestBidder    *common.Address `json:"highest_bidder,omitempty"`

	NumBids uint64 `json:"num_bids"`

	// Settlement outcome, populated by EndAuction.
	Settled      bool       `json:"settled"`
	Sold         bool       `json:"sold"`
	WinningPrice Amount     `json:"winning_price"`
	SettledAt    *time.Time `json:"settled_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// PhaseAt computes the lifecycle phase at the given instant. Ended requires
// the explicit settlement transition, not just the reveal deadline, because
// settlement must run exactly once.
func (a *Auction) PhaseAt(now time.Time) Phase {
	switch {
	case a.Settled:
		return PhaseEnded
	case now.Before(a.StartTime):
		return PhasePending
	case now.Before(a.EndOfBidding):
		return PhaseBidding
	case now.Before(a.EndOfReveal):
		return PhaseReveal
	default:
		// Past the reveal deadline but not yet settled: no further commits
		// or reveals are admissible, only EndAuction.
		return PhaseReveal
	}
}

// RevealClosed reports whether the reveal window has elapsed at now.
func (a *Auction) RevealClosed(now time.Time) bool {
	return !now.Before(a.EndOfReveal)
}

// InBiddingWindow reports whether now falls inside [StartTime, EndOfBidding).
func (a *Auction) InBiddingWindow(now time.Time) bool {
	return !now.Before(a.StartTime) && now.Before(a.EndOfBidding)
}

// InRevealWindow reports whether now falls inside [EndOfBidding, EndOfReveal).
func (a *Auction) InRevealWindow(now time.Time) bool {
	return !now.Before(a.EndOfBidding) && now.Before(a.EndOfReveal)
}
