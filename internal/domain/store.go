package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuctionStore holds live auction records. The engine serializes writers per
// asset key; implementations only need to be safe for concurrent access
// across different keys and for concurrent readers.
type AuctionStore interface {
	// Put inserts or replaces the record for (a.Key, a.Index).
	Put(ctx context.Context, a Auction) error
	// Latest returns the highest-index auction for the key, or ErrNoSuchAuction.
	Latest(ctx context.Context, key AuctionKey) (Auction, error)
	// Get returns the auction at an explicit index, or ErrNoSuchAuction.
	Get(ctx context.Context, key AuctionKey, index uint64) (Auction, error)
	// NextIndex returns the index a new auction for the key must use:
	// strictly greater than every index ever allocated for that key.
	NextIndex(ctx context.Context, key AuctionKey) (uint64, error)
	// List returns all auctions, newest first.
	List(ctx context.Context) ([]Auction, error)
	// ListEnded returns all settled auctions, newest first.
	ListEnded(ctx context.Context) ([]Auction, error)
}

// BidStore holds per-auction-instance sealed bids, keyed by bidder.
type BidStore interface {
	// PutBid inserts or replaces a bidder's record for the auction instance.
	PutBid(ctx context.Context, key AuctionKey, index uint64, bid Bid) error
	// GetBid returns a bidder's record, or ErrNoSuchBid.
	GetBid(ctx context.Context, key AuctionKey, index uint64, bidder common.Address) (Bid, error)
	// ListBids returns every bid for the auction instance.
	ListBids(ctx context.Context, key AuctionKey, index uint64) ([]Bid, error)
}

// ArchiveStore persists settled auctions durably, outside the live store.
type ArchiveStore interface {
	InsertAuction(ctx context.Context, a Auction, bids []Bid) error
	ListEnded(ctx context.Context, opts ListOpts) ([]Auction, error)
	Count(ctx context.Context) (int64, error)
}

// AuditStore persists an append-only audit log of engine operations.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// AuditEntry is one persisted audit log record.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// StreamMessage is a single durable message read from a bus stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus is the engine's event fabric: ephemeral pub/sub for UI fan-out
// plus durable ordered streams for the archival pipeline.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Blacklist answers whether a seller is barred from creating auctions.
type Blacklist interface {
	Contains(ctx context.Context, seller common.Address) (bool, error)
	Add(ctx context.Context, seller common.Address) error
	Remove(ctx context.Context, seller common.Address) error
}

// RateLimiter bounds how often a caller may hit the mutating API surface.
type RateLimiter interface {
	// Allow reports whether one more event is admissible for the key within
	// the window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager hands out distributed leases. The archival worker uses one to
// ensure a single drainer per stream across replicas.
type LockManager interface {
	// Acquire obtains the lock or fails with ErrLockHeld. The returned
	// function releases the lock and is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
