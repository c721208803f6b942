package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Bus channel names for engine events.
const (
	ChannelAuctionCreated = "ch:auction:created"
	ChannelAuctionEnded   = "ch:auction:ended"
	ChannelBidCommitted   = "ch:bid:committed"
	ChannelBidRevealed    = "ch:bid:revealed"

	// StreamAuctionEnded is the durable stream consumed by the archival
	// pipeline.
	StreamAuctionEnded = "stream:auction:ended"
)

// AuctionCreatedEvent is published when a seller opens a new auction.
type AuctionCreatedEvent struct {
	AssetCollection common.Address `json:"asset_collection"`
	AssetInstanceID string         `json:"asset_instance_id"`
	AuctionIndex    uint64         `json:"auction_index"`
	Seller          common.Address `json:"seller"`
	PaymentToken    common.Address `json:"payment_token"`
	ReservePrice    Amount         `json:"reserve_price"`
	StartTime       time.Time      `json:"start_time"`
	EndOfBidding    time.Time      `json:"end_of_bidding"`
	EndOfReveal     time.Time      `json:"end_of_reveal"`
}

// BidCommittedEvent is published on every accepted commitment. The
// commitment itself is public on-ledger data; the bid value stays hidden.
type BidCommittedEvent struct {
	AssetCollection common.Address `json:"asset_collection"`
	AssetInstanceID string         `json:"asset_instance_id"`
	AuctionIndex    uint64         `json:"auction_index"`
	Bidder          common.Address `json:"bidder"`
	Commitment      Commitment     `json:"commitment"`
	Collateral      Amount         `json:"collateral"`
}

// BidRevealedEvent is published on every reveal attempt that passes window
// gating, including failed commitment checks. Carrying both the stored and
// the recomputed commitment makes failed reveals auditable.
type BidRevealedEvent struct {
	AssetCollection      common.Address `json:"asset_collection"`
	AssetInstanceID      string         `json:"asset_instance_id"`
	AuctionIndex         uint64         `json:"auction_index"`
	Bidder               common.Address `json:"bidder"`
	Commitment           Commitment     `json:"commitment"`
	RecomputedCommitment Commitment     `json:"recomputed_commitment"`
	Nonce                string         `json:"nonce"`
	BidValue             Amount         `json:"bid_value"`
	Matched              bool           `json:"matched"`
}

// AuctionEndedEvent is published exactly once per auction, when settlement
// completes. Winner is the zero address when the auction failed to sell.
type AuctionEndedEvent struct {
	AssetCollection common.Address `json:"asset_collection"`
	AssetInstanceID string         `json:"asset_instance_id"`
	AuctionIndex    uint64         `json:"auction_index"`
	Winner          common.Address `json:"winner"`
	WinningPrice    Amount         `json:"winning_price"`
	Sold            bool           `json:"sold"`
	EndedAt         time.Time      `json:"ended_at"`
}

// SettlementRecord is the durable stream payload written at settlement: the
// full auction record plus every bid, so archival consumers never need access
// to the live store.
type SettlementRecord struct {
	Auction Auction `json:"auction"`
	Bids    []Bid   `json:"bids"`
}

// InstanceIDString renders an asset instance id for event payloads.
func InstanceIDString(id uint256.Int) string {
	return id.Dec()
}
