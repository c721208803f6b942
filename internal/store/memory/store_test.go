package memory

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilbid/auctiond/internal/domain"
)

func testKey(instance uint64) domain.AuctionKey {
	return domain.NewAuctionKey(
		common.HexToAddress("0xab9b88e591AE6Df69F9B0765d83112814e22Ed05"),
		uint256.NewInt(instance),
	)
}

func TestStore_IndexAllocation(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	key := testKey(1)

	idx, err := s.NextIndex(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), idx)

	require.NoError(t, s.Put(ctx, domain.Auction{Key: key, Index: 0, CreatedAt: time.Now()}))

	idx, err = s.NextIndex(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), idx)

	// A gap in the sequence is rejected.
	err = s.Put(ctx, domain.Auction{Key: key, Index: 5})
	assert.Error(t, err)

	// Another asset key allocates independently.
	idx, err = s.NextIndex(ctx, testKey(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), idx)
}

func TestStore_LatestAndGet(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	key := testKey(1)

	_, err := s.Latest(ctx, key)
	assert.ErrorIs(t, err, domain.ErrNoSuchAuction)

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(ctx, domain.Auction{Key: key, Index: 0, Settled: true, CreatedAt: base}))
	require.NoError(t, s.Put(ctx, domain.Auction{Key: key, Index: 1, CreatedAt: base.Add(time.Hour)}))

	latest, err := s.Latest(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), latest.Index)

	first, err := s.Get(ctx, key, 0)
	require.NoError(t, err)
	assert.True(t, first.Settled)

	_, err = s.Get(ctx, key, 9)
	assert.ErrorIs(t, err, domain.ErrNoSuchAuction)
}

func TestStore_ListEnded(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Put(ctx, domain.Auction{Key: testKey(1), Index: 0, Settled: true, CreatedAt: base}))
	require.NoError(t, s.Put(ctx, domain.Auction{Key: testKey(2), Index: 0, CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, s.Put(ctx, domain.Auction{Key: testKey(3), Index: 0, Settled: true, CreatedAt: base.Add(2 * time.Minute)}))

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.True(t, all[0].CreatedAt.After(all[1].CreatedAt), "newest first")

	ended, err := s.ListEnded(ctx)
	require.NoError(t, err)
	require.Len(t, ended, 2)
	for _, a := range ended {
		assert.True(t, a.Settled)
	}
}

func TestStore_Bids(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	key := testKey(1)
	alice := common.HexToAddress("0x1000000000000000000000000000000000000001")

	_, err := s.GetBid(ctx, key, 0, alice)
	assert.ErrorIs(t, err, domain.ErrNoSuchBid)

	bid := domain.Bid{Bidder: alice, Collateral: domain.NewAmount(50)}
	require.NoError(t, s.PutBid(ctx, key, 0, bid))

	got, err := s.GetBid(ctx, key, 0, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), got.Collateral.Uint64())

	// Bids are scoped per auction index.
	_, err = s.GetBid(ctx, key, 1, alice)
	assert.ErrorIs(t, err, domain.ErrNoSuchBid)

	bids, err := s.ListBids(ctx, key, 0)
	require.NoError(t, err)
	assert.Len(t, bids, 1)
}
