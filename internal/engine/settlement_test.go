package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilbid/auctiond/internal/commit"
	"github.com/veilbid/auctiond/internal/domain"
	"github.com/veilbid/auctiond/internal/store/memory"
	"github.com/veilbid/auctiond/internal/token"
)

// runToReveal commits the given (bidder, value, collateral) rows and
// advances the clock into the reveal window, returning the nonces.
func runToReveal(t *testing.T, f *fixture, reserve uint64, rows []bidRow) map[string]domain.Nonce {
	t.Helper()
	f.createAuction(t, reserve)

	nonces := make(map[string]domain.Nonce, len(rows))
	for _, r := range rows {
		nonces[r.bidder.Hex()] = f.commitFor(t, r.bidder, 0, r.value, r.collateral)
	}
	f.clk.advance(time.Hour)
	return nonces
}

type bidRow struct {
	bidder     common.Address
	value      uint64
	collateral uint64
}

func TestEndAuction_SecondPriceSettlement(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	rows := []bidRow{{bob, 100, 100}, {carol, 80, 80}, {alice, 60, 60}}
	nonces := runToReveal(t, f, 50, rows)
	for _, r := range rows {
		f.reveal(t, r.bidder, r.value, nonces[r.bidder.Hex()])
	}

	f.clk.advance(time.Hour)
	sellerBefore := f.balance(t, seller)

	a, err := f.eng.EndAuction(ctx, carol, collection, f.instance)
	require.NoError(t, err)

	assert.True(t, a.Sold)
	assert.Equal(t, uint64(80), a.WinningPrice.Uint64(), "winner pays the second-highest bid, not their own")

	// Asset to the winner, second price to the seller.
	owner, err := f.registry.OwnerOf(ctx, collection, f.instance)
	require.NoError(t, err)
	assert.Equal(t, bob, owner)
	assert.Equal(t, sellerBefore+80, f.balance(t, seller))

	// The winner recovers the excess over the winning price.
	refund, err := f.eng.WithdrawCollateral(ctx, bob, collection, f.instance, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), refund.Uint64())

	// Losers recover everything.
	refund, err = f.eng.WithdrawCollateral(ctx, carol, collection, f.instance, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(80), refund.Uint64())
	refund, err = f.eng.WithdrawCollateral(ctx, alice, collection, f.instance, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), refund.Uint64())

	// Exactly-once settlement and exactly-once withdrawal.
	_, err = f.eng.EndAuction(ctx, carol, collection, f.instance)
	assert.ErrorIs(t, err, domain.ErrAlreadyEnded)
	_, err = f.eng.WithdrawCollateral(ctx, alice, collection, f.instance, 0)
	assert.ErrorIs(t, err, domain.ErrNothingToWithdraw)

	// Collateral conservation: everything escrowed has flowed back out.
	assert.Zero(t, f.balance(t, escrow))
}

func TestEndAuction_ReserveFloor(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	nonces := runToReveal(t, f, 70, []bidRow{{alice, 100, 100}})
	f.reveal(t, alice, 100, nonces[alice.Hex()])

	f.clk.advance(time.Hour)
	a, err := f.eng.EndAuction(ctx, alice, collection, f.instance)
	require.NoError(t, err)

	assert.True(t, a.Sold)
	assert.Equal(t, uint64(70), a.WinningPrice.Uint64(),
		"with no second bid the winner pays the reserve price")
	assert.True(t, a.SecondHighestBid.IsZero())

	refund, err := f.eng.WithdrawCollateral(ctx, alice, collection, f.instance, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), refund.Uint64())
}

func TestEndAuction_NoSaleBelowReserve(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	nonces := runToReveal(t, f, 70, []bidRow{{alice, 60, 60}})
	f.reveal(t, alice, 60, nonces[alice.Hex()])

	f.clk.advance(time.Hour)
	sellerBefore := f.balance(t, seller)

	a, err := f.eng.EndAuction(ctx, bob, collection, f.instance)
	require.NoError(t, err)

	assert.False(t, a.Sold)
	assert.True(t, a.WinningPrice.IsZero())
	assert.Nil(t, a.HighestBidder, "a sub-reserve reveal never enters the ranking")

	// Asset back to the seller, no payment moved.
	owner, err := f.registry.OwnerOf(ctx, collection, f.instance)
	require.NoError(t, err)
	assert.Equal(t, seller, owner)
	assert.Equal(t, sellerBefore, f.balance(t, seller))

	// The sub-reserve bidder recovers full collateral.
	refund, err := f.eng.WithdrawCollateral(ctx, alice, collection, f.instance, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), refund.Uint64())
	assert.Zero(t, f.balance(t, escrow))
}

func TestEndAuction_NoBidsAtAll(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.createAuction(t, 50)

	f.clk.advance(2 * time.Hour)
	a, err := f.eng.EndAuction(ctx, seller, collection, f.instance)
	require.NoError(t, err)

	assert.False(t, a.Sold)
	owner, err := f.registry.OwnerOf(ctx, collection, f.instance)
	require.NoError(t, err)
	assert.Equal(t, seller, owner)
}

func TestEndAuction_Gating(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.createAuction(t, 0)

	_, err := f.eng.EndAuction(ctx, alice, collection, f.instance)
	assert.ErrorIs(t, err, domain.ErrAuctionNotYetEnded)

	f.clk.advance(90 * time.Minute) // inside reveal window
	_, err = f.eng.EndAuction(ctx, alice, collection, f.instance)
	assert.ErrorIs(t, err, domain.ErrAuctionNotYetEnded)

	f.clk.advance(30 * time.Minute) // reveal deadline reached
	_, err = f.eng.EndAuction(ctx, alice, collection, f.instance)
	assert.NoError(t, err)
}

func TestEndAuction_PublishesEndedNotification(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	nonces := runToReveal(t, f, 50, []bidRow{{bob, 100, 100}, {alice, 80, 80}})
	f.reveal(t, bob, 100, nonces[bob.Hex()])
	f.reveal(t, alice, 80, nonces[alice.Hex()])

	f.clk.advance(time.Hour)
	_, err := f.eng.EndAuction(ctx, carol, collection, f.instance)
	require.NoError(t, err)

	published := f.bus.published(domain.ChannelAuctionEnded)
	require.Len(t, published, 1)

	var ev domain.AuctionEndedEvent
	require.NoError(t, json.Unmarshal(published[0], &ev))
	assert.Equal(t, collection, ev.AssetCollection)
	assert.Equal(t, bob, ev.Winner)
	assert.Equal(t, uint64(80), ev.WinningPrice.Uint64())
	assert.True(t, ev.Sold)

	// The durable stream gets a self-contained settlement record for the
	// archival pipeline.
	streamed := f.bus.published(domain.StreamAuctionEnded)
	require.Len(t, streamed, 1)
	var rec domain.SettlementRecord
	require.NoError(t, json.Unmarshal(streamed[0], &rec))
	assert.True(t, rec.Auction.Settled)
	assert.Equal(t, uint64(80), rec.Auction.WinningPrice.Uint64())
	assert.Len(t, rec.Bids, 2)
}

func TestWithdrawCollateral_RequiresEndedAuction(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.createAuction(t, 0)
	f.commitFor(t, alice, 0, 50, 50)

	_, err := f.eng.WithdrawCollateral(ctx, alice, collection, f.instance, 0)
	assert.ErrorIs(t, err, domain.ErrAuctionNotYetEnded)

	_, err = f.eng.WithdrawCollateral(ctx, bob, collection, f.instance, 3)
	assert.ErrorIs(t, err, domain.ErrNoSuchAuction)
}

func TestWithdrawCollateral_UnrevealedBidderDefaultPolicy(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	// Alice commits but never reveals.
	runToReveal(t, f, 0, []bidRow{{alice, 50, 50}})
	f.clk.advance(time.Hour)
	_, err := f.eng.EndAuction(ctx, bob, collection, f.instance)
	require.NoError(t, err)

	refund, err := f.eng.WithdrawCollateral(ctx, alice, collection, f.instance, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), refund.Uint64(),
		"without forfeiture an unrevealed bidder recovers everything")
}

func TestWithdrawCollateral_ForfeiturePolicy(t *testing.T) {
	f := newFixture(t, Config{ForfeitUnrevealed: true})
	ctx := context.Background()

	rows := []bidRow{{bob, 100, 100}, {alice, 80, 80}, {carol, 40, 40}}
	nonces := runToReveal(t, f, 50, rows)
	// Carol never reveals.
	f.reveal(t, bob, 100, nonces[bob.Hex()])
	f.reveal(t, alice, 80, nonces[alice.Hex()])

	f.clk.advance(time.Hour)
	sellerBefore := f.balance(t, seller)
	_, err := f.eng.EndAuction(ctx, seller, collection, f.instance)
	require.NoError(t, err)

	// Seller receives the winning price plus carol's forfeited collateral.
	assert.Equal(t, sellerBefore+80+40, f.balance(t, seller))

	_, err = f.eng.WithdrawCollateral(ctx, carol, collection, f.instance, 0)
	assert.ErrorIs(t, err, domain.ErrNothingToWithdraw)

	// Other refunds are untouched by the policy.
	refund, err := f.eng.WithdrawCollateral(ctx, bob, collection, f.instance, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), refund.Uint64())
	refund, err = f.eng.WithdrawCollateral(ctx, alice, collection, f.instance, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(80), refund.Uint64())

	assert.Zero(t, f.balance(t, escrow))
}

// openLedger accepts every transfer without tracking balances, standing in
// for an external ledger whose totals the engine cannot see. Settlement
// payouts are counted so tests can assert nothing moved.
type openLedger struct {
	payouts int
}

func (l *openLedger) Transfer(ctx context.Context, token, from, to common.Address, amount domain.Amount) error {
	l.payouts++
	return nil
}

func (l *openLedger) TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount domain.Amount) error {
	return nil
}

func (l *openLedger) Approve(ctx context.Context, token, owner, spender common.Address, amount domain.Amount) error {
	return nil
}

func (l *openLedger) BalanceOf(ctx context.Context, token, holder common.Address) (domain.Amount, error) {
	return domain.Amount{}, nil
}

func TestEndAuction_SellerProceedsOverflowAborts(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	ledger := &openLedger{}
	registry := token.NewMemoryRegistry()

	instance := uint256.NewInt(9)
	registry.Mint(collection, instance, seller)
	require.NoError(t, registry.Approve(ctx, collection, seller, escrow, instance))

	eng := New(Config{Escrow: escrow, ForfeitUnrevealed: true},
		store, store, ledger, registry, testLogger()).WithClock(clk.now)

	_, err := eng.CreateAuction(ctx, seller, collection, instance, payToken,
		clk.now(), time.Hour, time.Hour, domain.NewAmount(500))
	require.NoError(t, err)

	// Alice reveals above the reserve. Dave escrows collateral near the
	// 96-bit cap and never reveals, so under forfeiture the seller proceeds
	// (forfeited collateral plus the winning price) cannot fit in an Amount.
	nonce := domain.NonceFromString("n")
	c := commit.Compute(nonce, domain.NewAmount(600), collection, instance, 0)
	require.NoError(t, eng.CommitBid(ctx, alice, collection, instance, c, domain.NewAmount(600)))

	dave := common.HexToAddress("0x5000000000000000000000000000000000000005")
	huge, err := domain.MaxAmount.Sub(domain.NewAmount(10))
	require.NoError(t, err)
	cd := commit.Compute(domain.NonceFromString("never"), huge, collection, instance, 0)
	require.NoError(t, eng.CommitBid(ctx, dave, collection, instance, cd, huge))

	clk.advance(time.Hour)
	require.NoError(t, eng.RevealBid(ctx, alice, collection, instance, domain.NewAmount(600), nonce))
	clk.advance(time.Hour)

	_, err = eng.EndAuction(ctx, bob, collection, instance)
	assert.ErrorIs(t, err, domain.ErrArithmeticOverflow)

	// The abort happens before any transfer: no payout issued, the asset
	// still escrowed, the auction still open.
	assert.Zero(t, ledger.payouts)
	owner, err := registry.OwnerOf(ctx, collection, instance)
	require.NoError(t, err)
	assert.Equal(t, escrow, owner)
	a, err := eng.GetAuction(ctx, collection, instance)
	require.NoError(t, err)
	assert.False(t, a.Settled)
}

func TestWithdrawCollateral_WinnerWithExactCollateral(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	nonces := runToReveal(t, f, 0, []bidRow{{alice, 100, 100}, {bob, 100, 100}})
	f.reveal(t, alice, 100, nonces[alice.Hex()])
	f.reveal(t, bob, 100, nonces[bob.Hex()])

	f.clk.advance(time.Hour)
	a, err := f.eng.EndAuction(ctx, alice, collection, f.instance)
	require.NoError(t, err)

	// Tie: the first reveal holds the top slot and pays the tied second
	// price, leaving no excess to withdraw.
	require.NotNil(t, a.HighestBidder)
	assert.Equal(t, alice, *a.HighestBidder)
	assert.Equal(t, uint64(100), a.WinningPrice.Uint64())

	_, err = f.eng.WithdrawCollateral(ctx, alice, collection, f.instance, 0)
	assert.ErrorIs(t, err, domain.ErrNothingToWithdraw)

	refund, err := f.eng.WithdrawCollateral(ctx, bob, collection, f.instance, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), refund.Uint64())
}
