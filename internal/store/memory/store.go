// Package memory implements the live auction and bid stores in process
// memory. It is the authoritative record for open auctions; settled auctions
// are additionally archived to PostgreSQL by the archival pipeline.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilbid/auctiond/internal/domain"
)

// instanceKey identifies one auction instance: asset key plus auction index.
type instanceKey struct {
	key   domain.AuctionKey
	index uint64
}

// Store holds auctions and bids. The engine serializes writers per asset
// key; the internal lock only protects map structure for cross-key readers
// such as enumeration.
type Store struct {
	mu       sync.RWMutex
	auctions map[domain.AuctionKey][]domain.Auction
	bids     map[instanceKey]map[common.Address]domain.Bid
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		auctions: make(map[domain.AuctionKey][]domain.Auction),
		bids:     make(map[instanceKey]map[common.Address]domain.Bid),
	}
}

// Put inserts or replaces the record for (a.Key, a.Index). A new record must
// use exactly the index NextIndex reported; anything else is a programming
// error in the caller.
func (s *Store) Put(ctx context.Context, a domain.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.auctions[a.Key]
	switch {
	case a.Index < uint64(len(seq)):
		seq[a.Index] = a
	case a.Index == uint64(len(seq)):
		s.auctions[a.Key] = append(seq, a)
	default:
		return fmt.Errorf("memory: put auction %s index %d: gap after %d", a.Key, a.Index, len(seq))
	}
	return nil
}

// Latest returns the highest-index auction for the key.
func (s *Store) Latest(ctx context.Context, key domain.AuctionKey) (domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq := s.auctions[key]
	if len(seq) == 0 {
		return domain.Auction{}, fmt.Errorf("memory: latest auction %s: %w", key, domain.ErrNoSuchAuction)
	}
	return seq[len(seq)-1], nil
}

// Get returns the auction at an explicit index.
func (s *Store) Get(ctx context.Context, key domain.AuctionKey, index uint64) (domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq := s.auctions[key]
	if index >= uint64(len(seq)) {
		return domain.Auction{}, fmt.Errorf("memory: auction %s index %d: %w", key, index, domain.ErrNoSuchAuction)
	}
	return seq[index], nil
}

// NextIndex returns the index a new auction for the key must use. Indexes
// are dense and strictly increasing per key, never reused.
func (s *Store) NextIndex(ctx context.Context, key domain.AuctionKey) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.auctions[key])), nil
}

// List returns all auctions ordered by creation time, newest first.
func (s *Store) List(ctx context.Context) ([]domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Auction
	for _, seq := range s.auctions {
		out = append(out, seq...)
	}
	sortNewestFirst(out)
	return out, nil
}

// ListEnded returns all settled auctions, newest first.
func (s *Store) ListEnded(ctx context.Context) ([]domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Auction
	for _, seq := range s.auctions {
		for _, a := range seq {
			if a.Settled {
				out = append(out, a)
			}
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(auctions []domain.Auction) {
	sort.Slice(auctions, func(i, j int) bool {
		return auctions[i].CreatedAt.After(auctions[j].CreatedAt)
	})
}

// PutBid inserts or replaces a bidder's record for the auction instance.
func (s *Store) PutBid(ctx context.Context, key domain.AuctionKey, index uint64, bid domain.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ik := instanceKey{key, index}
	byBidder := s.bids[ik]
	if byBidder == nil {
		byBidder = make(map[common.Address]domain.Bid)
		s.bids[ik] = byBidder
	}
	byBidder[bid.Bidder] = bid
	return nil
}

// GetBid returns a bidder's record for the auction instance.
func (s *Store) GetBid(ctx context.Context, key domain.AuctionKey, index uint64, bidder common.Address) (domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bid, ok := s.bids[instanceKey{key, index}][bidder]
	if !ok {
		return domain.Bid{}, fmt.Errorf("memory: bid %s index %d bidder %s: %w", key, index, bidder.Hex(), domain.ErrNoSuchBid)
	}
	return bid, nil
}

// ListBids returns every bid for the auction instance, in stable bidder
// order.
func (s *Store) ListBids(ctx context.Context, key domain.AuctionKey, index uint64) ([]domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byBidder := s.bids[instanceKey{key, index}]
	out := make([]domain.Bid, 0, len(byBidder))
	for _, b := range byBidder {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Bidder.Hex() < out[j].Bidder.Hex()
	})
	return out, nil
}

// Compile-time interface checks.
var (
	_ domain.AuctionStore = (*Store)(nil)
	_ domain.BidStore     = (*Store)(nil)
)
