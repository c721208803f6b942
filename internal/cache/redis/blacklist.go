package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/veilbid/auctiond/internal/domain"
)

const blacklistKey = "auction:seller_blacklist"

// Blacklist implements domain.Blacklist on a Redis set so the ban list is
// shared across replicas and survives restarts. Addresses are stored in
// lowercase hex so lookups are case-insensitive.
type Blacklist struct {
	rdb *redis.Client
}

// NewBlacklist creates a Blacklist backed by the given Client and seeds it
// with the provided addresses.
func NewBlacklist(ctx context.Context, c *Client, seed []common.Address) (*Blacklist, error) {
	bl := &Blacklist{rdb: c.Underlying()}
	for _, addr := range seed {
		if err := bl.Add(ctx, addr); err != nil {
			return nil, err
		}
	}
	return bl, nil
}

func blacklistMember(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// Contains reports whether the seller is barred from creating auctions.
func (b *Blacklist) Contains(ctx context.Context, seller common.Address) (bool, error) {
	ok, err := b.rdb.SIsMember(ctx, blacklistKey, blacklistMember(seller)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: blacklist contains: %w", err)
	}
	return ok, nil
}

// Add bars a seller from creating auctions.
func (b *Blacklist) Add(ctx context.Context, seller common.Address) error {
	if err := b.rdb.SAdd(ctx, blacklistKey, blacklistMember(seller)).Err(); err != nil {
		return fmt.Errorf("redis: blacklist add: %w", err)
	}
	return nil
}

// Remove lifts a seller's ban.
func (b *Blacklist) Remove(ctx context.Context, seller common.Address) error {
	if err := b.rdb.SRem(ctx, blacklistKey, blacklistMember(seller)).Err(); err != nil {
		return fmt.Errorf("redis: blacklist remove: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.Blacklist = (*Blacklist)(nil)
