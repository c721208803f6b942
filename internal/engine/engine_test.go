package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
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

var (
	escrow     = common.HexToAddress("0x00000000000000000000000000000000000Ec40f")
	seller     = common.HexToAddress("0x94d3130C53288921Cd620b00f1e6Fd95aA8ACF2d")
	alice      = common.HexToAddress("0x1000000000000000000000000000000000000001")
	bob        = common.HexToAddress("0x2000000000000000000000000000000000000002")
	carol      = common.HexToAddress("0x3000000000000000000000000000000000000003")
	collection = common.HexToAddress("0xab9b88e591AE6Df69F9B0765d83112814e22Ed05")
	payToken   = common.HexToAddress("0x40CA1cd6482790f79b4bd862070Ef1236274625F")
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// captureBus records published events so tests can assert on notifications.
type captureBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newCaptureBus() *captureBus {
	return &captureBus{messages: make(map[string][][]byte)}
}

func (b *captureBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *captureBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *captureBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return b.Publish(ctx, stream, payload)
}

func (b *captureBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *captureBus) published(channel string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.messages[channel]
}

type fixture struct {
	eng      *Engine
	clk      *fakeClock
	ledger   *token.MemoryLedger
	registry *token.MemoryRegistry
	bus      *captureBus
	instance *uint256.Int
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	cfg.Escrow = escrow
	clk := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	ledger := token.NewMemoryLedger()
	registry := token.NewMemoryRegistry()
	bus := newCaptureBus()

	instance := uint256.NewInt(7)
	registry.Mint(collection, instance, seller)
	require.NoError(t, registry.Approve(context.Background(), collection, seller, escrow, instance))

	for _, bidder := range []common.Address{alice, bob, carol} {
		require.NoError(t, ledger.Mint(payToken, bidder, domain.NewAmount(1_000)))
		require.NoError(t, ledger.Approve(context.Background(), payToken, bidder, escrow, domain.NewAmount(1_000)))
	}

	eng := New(cfg, store, store, ledger, registry, testLogger()).
		WithBus(bus).
		WithClock(clk.now)

	return &fixture{eng: eng, clk: clk, ledger: ledger, registry: registry, bus: bus, instance: instance}
}

// createAuction opens a standard auction: starts now, one hour of bidding,
// one hour of reveal.
func (f *fixture) createAuction(t *testing.T, reserve uint64) domain.Auction {
	t.Helper()
	a, err := f.eng.CreateAuction(
		context.Background(),
		seller, collection, f.instance, payToken,
		f.clk.now(), time.Hour, time.Hour,
		domain.NewAmount(reserve),
	)
	require.NoError(t, err)
	return a
}

// commitFor computes and commits the commitment for (bidder, value) with a
// bidder-derived nonce, escrowing the given collateral.
func (f *fixture) commitFor(t *testing.T, bidder common.Address, index uint64, value, collateral uint64) domain.Nonce {
	t.Helper()
	nonce := domain.NonceFromString("nonce-" + bidder.Hex())
	c := commit.Compute(nonce, domain.NewAmount(value), collection, f.instance, index)
	require.NoError(t, f.eng.CommitBid(context.Background(), bidder, collection, f.instance, c, domain.NewAmount(collateral)))
	return nonce
}

func (f *fixture) reveal(t *testing.T, bidder common.Address, value uint64, nonce domain.Nonce) {
	t.Helper()
	require.NoError(t, f.eng.RevealBid(context.Background(), bidder, collection, f.instance, domain.NewAmount(value), nonce))
}

func (f *fixture) balance(t *testing.T, holder common.Address) uint64 {
	t.Helper()
	b, err := f.ledger.BalanceOf(context.Background(), payToken, holder)
	require.NoError(t, err)
	return b.Uint64()
}

func TestCreateAuction_TakesCustodyAndAllocatesIndex(t *testing.T) {
	f := newFixture(t, Config{AllowRecommit: true})

	a := f.createAuction(t, 50)
	assert.Equal(t, uint64(0), a.Index)
	assert.Equal(t, seller, a.Seller)
	assert.True(t, a.StartTime.Before(a.EndOfBidding))
	assert.True(t, a.EndOfBidding.Before(a.EndOfReveal))

	owner, err := f.registry.OwnerOf(context.Background(), collection, f.instance)
	require.NoError(t, err)
	assert.Equal(t, escrow, owner, "asset must be escrowed on creation")
}

func TestCreateAuction_Validation(t *testing.T) {
	f := newFixture(t, Config{StartGrace: time.Minute})
	ctx := context.Background()

	_, err := f.eng.CreateAuction(ctx, seller, collection, f.instance, payToken, f.clk.now(), 0, time.Hour, domain.Amount{})
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)

	_, err = f.eng.CreateAuction(ctx, seller, collection, f.instance, payToken, f.clk.now(), time.Hour, 0, domain.Amount{})
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)

	past := f.clk.now().Add(-2 * time.Minute)
	_, err = f.eng.CreateAuction(ctx, seller, collection, f.instance, payToken, past, time.Hour, time.Hour, domain.Amount{})
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)

	// A start inside the grace tolerance is accepted.
	within := f.clk.now().Add(-30 * time.Second)
	_, err = f.eng.CreateAuction(ctx, seller, collection, f.instance, payToken, within, time.Hour, time.Hour, domain.Amount{})
	assert.NoError(t, err)
}

func TestCreateAuction_SellerMustOwnAsset(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.eng.CreateAuction(
		context.Background(),
		alice, collection, f.instance, payToken,
		f.clk.now(), time.Hour, time.Hour, domain.Amount{},
	)
	assert.ErrorIs(t, err, domain.ErrSellerNotAuthorized)
}

type staticBlacklist struct {
	barred map[common.Address]bool
}

func (b *staticBlacklist) Contains(ctx context.Context, s common.Address) (bool, error) {
	return b.barred[s], nil
}
func (b *staticBlacklist) Add(ctx context.Context, s common.Address) error {
	b.barred[s] = true
	return nil
}
func (b *staticBlacklist) Remove(ctx context.Context, s common.Address) error {
	delete(b.barred, s)
	return nil
}

func TestCreateAuction_BlacklistedSeller(t *testing.T) {
	f := newFixture(t, Config{})
	f.eng.WithBlacklist(&staticBlacklist{barred: map[common.Address]bool{seller: true}})

	_, err := f.eng.CreateAuction(
		context.Background(),
		seller, collection, f.instance, payToken,
		f.clk.now(), time.Hour, time.Hour, domain.Amount{},
	)
	assert.ErrorIs(t, err, domain.ErrSellerBlacklisted)
}

func TestCommitBid_WindowGating(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	start := f.clk.now().Add(30 * time.Minute)
	_, err := f.eng.CreateAuction(ctx, seller, collection, f.instance, payToken, start, time.Hour, time.Hour, domain.Amount{})
	require.NoError(t, err)

	c := commit.Compute(domain.NonceFromString("n"), domain.NewAmount(10), collection, f.instance, 0)

	// Before startTime.
	err = f.eng.CommitBid(ctx, alice, collection, f.instance, c, domain.NewAmount(10))
	assert.ErrorIs(t, err, domain.ErrAuctionNotInBiddingPeriod)

	// Inside the window.
	f.clk.advance(30 * time.Minute)
	require.NoError(t, f.eng.CommitBid(ctx, alice, collection, f.instance, c, domain.NewAmount(10)))

	// At the bidding deadline the window is closed.
	f.clk.advance(time.Hour)
	err = f.eng.CommitBid(ctx, bob, collection, f.instance, c, domain.NewAmount(10))
	assert.ErrorIs(t, err, domain.ErrAuctionNotInBiddingPeriod)
}

func TestRevealBid_WindowGating(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.createAuction(t, 0)

	nonce := f.commitFor(t, alice, 0, 100, 100)

	// Still bidding.
	err := f.eng.RevealBid(ctx, alice, collection, f.instance, domain.NewAmount(100), nonce)
	assert.ErrorIs(t, err, domain.ErrAuctionNotInRevealPeriod)

	// Inside the reveal window.
	f.clk.advance(time.Hour)
	f.reveal(t, alice, 100, nonce)

	// At the reveal deadline the window is closed.
	f2 := newFixture(t, Config{})
	f2.createAuction(t, 0)
	nonce2 := f2.commitFor(t, bob, 0, 50, 50)
	f2.clk.advance(2 * time.Hour)
	err = f2.eng.RevealBid(ctx, bob, collection, f2.instance, domain.NewAmount(50), nonce2)
	assert.ErrorIs(t, err, domain.ErrAuctionNotInRevealPeriod)
}

func TestRevealBid_CommitmentBindsEveryField(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.createAuction(t, 0)

	nonce := f.commitFor(t, alice, 0, 100, 200)
	f.clk.advance(time.Hour)

	// Wrong value.
	err := f.eng.RevealBid(ctx, alice, collection, f.instance, domain.NewAmount(101), nonce)
	assert.ErrorIs(t, err, domain.ErrCommitmentMismatch)

	// Wrong nonce.
	err = f.eng.RevealBid(ctx, alice, collection, f.instance, domain.NewAmount(100), domain.NonceFromString("wrong"))
	assert.ErrorIs(t, err, domain.ErrCommitmentMismatch)

	// Correct pair round-trips.
	f.reveal(t, alice, 100, nonce)

	// Replay fails.
	err = f.eng.RevealBid(ctx, alice, collection, f.instance, domain.NewAmount(100), nonce)
	assert.ErrorIs(t, err, domain.ErrAlreadyRevealed)

	// Every attempt past window gating was published for audit, matched or
	// not.
	events := f.bus.published(domain.ChannelBidRevealed)
	require.Len(t, events, 3)
	var first domain.BidRevealedEvent
	require.NoError(t, json.Unmarshal(events[0], &first))
	assert.False(t, first.Matched)
	assert.NotEqual(t, first.Commitment, first.RecomputedCommitment)
}

func TestRevealBid_CollateralMustCoverBid(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.createAuction(t, 0)

	nonce := domain.NonceFromString("n")
	c := commit.Compute(nonce, domain.NewAmount(80), collection, f.instance, 0)
	require.NoError(t, f.eng.CommitBid(ctx, alice, collection, f.instance, c, domain.NewAmount(50)))

	f.clk.advance(time.Hour)
	err := f.eng.RevealBid(ctx, alice, collection, f.instance, domain.NewAmount(80), nonce)
	assert.ErrorIs(t, err, domain.ErrInsufficientCollateral)
}

func TestRevealBid_OrderingInvariant(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.createAuction(t, 0)

	a, err := f.eng.GetAuction(ctx, collection, f.instance)
	require.NoError(t, err)
	assert.True(t, a.HighestBid.IsZero(), "highest is zero before any reveal")
	assert.True(t, a.SecondHighestBid.IsZero())
	assert.Nil(t, a.HighestBidder)

	nonceA := f.commitFor(t, alice, 0, 60, 60)
	nonceB := f.commitFor(t, bob, 0, 100, 100)
	nonceC := f.commitFor(t, carol, 0, 80, 80)
	f.clk.advance(time.Hour)

	for _, step := range []struct {
		bidder common.Address
		value  uint64
		nonce  domain.Nonce
	}{
		{alice, 60, nonceA},
		{bob, 100, nonceB},
		{carol, 80, nonceC},
	} {
		f.reveal(t, step.bidder, step.value, step.nonce)

		a, err := f.eng.GetAuction(ctx, collection, f.instance)
		require.NoError(t, err)
		assert.LessOrEqual(t, a.SecondHighestBid.Cmp(a.HighestBid), 0,
			"secondHighestBid must never exceed highestBid")
	}

	a, err = f.eng.GetAuction(ctx, collection, f.instance)
	require.NoError(t, err)
	require.NotNil(t, a.HighestBidder)
	assert.Equal(t, bob, *a.HighestBidder)
	assert.Equal(t, uint64(100), a.HighestBid.Uint64())
	assert.Equal(t, uint64(80), a.SecondHighestBid.Uint64())
}

func TestCommitBid_RecommitTopsUp(t *testing.T) {
	f := newFixture(t, Config{AllowRecommit: true})
	ctx := context.Background()
	f.createAuction(t, 0)

	nonce := domain.NonceFromString("n")
	first := commit.Compute(nonce, domain.NewAmount(40), collection, f.instance, 0)
	require.NoError(t, f.eng.CommitBid(ctx, alice, collection, f.instance, first, domain.NewAmount(40)))

	// Second commit replaces the commitment and tops up collateral.
	second := commit.Compute(nonce, domain.NewAmount(90), collection, f.instance, 0)
	require.NoError(t, f.eng.CommitBid(ctx, alice, collection, f.instance, second, domain.NewAmount(50)))

	bid, err := f.eng.GetBid(ctx, collection, f.instance, 0, alice)
	require.NoError(t, err)
	assert.Equal(t, second, bid.Commitment)
	assert.Equal(t, uint64(90), bid.Collateral.Uint64())

	a, err := f.eng.GetAuction(ctx, collection, f.instance)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), a.NumBids, "numBids counts bidders, not commits")

	// The replaced commitment no longer reveals.
	f.clk.advance(time.Hour)
	err = f.eng.RevealBid(ctx, alice, collection, f.instance, domain.NewAmount(40), nonce)
	assert.ErrorIs(t, err, domain.ErrCommitmentMismatch)
	f.reveal(t, alice, 90, nonce)
}

func TestCommitBid_DuplicateRejectedWhenRecommitDisabled(t *testing.T) {
	f := newFixture(t, Config{AllowRecommit: false})
	ctx := context.Background()
	f.createAuction(t, 0)

	c := commit.Compute(domain.NonceFromString("n"), domain.NewAmount(40), collection, f.instance, 0)
	require.NoError(t, f.eng.CommitBid(ctx, alice, collection, f.instance, c, domain.NewAmount(40)))

	err := f.eng.CommitBid(ctx, alice, collection, f.instance, c, domain.NewAmount(10))
	assert.ErrorIs(t, err, domain.ErrDuplicateBid)

	bid, err := f.eng.GetBid(ctx, collection, f.instance, 0, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), bid.Collateral.Uint64(), "rejected commit must not move collateral")
}

func TestCommitBid_InsufficientAllowance(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.createAuction(t, 0)

	stranger := common.HexToAddress("0x4000000000000000000000000000000000000004")
	require.NoError(t, f.ledger.Mint(payToken, stranger, domain.NewAmount(100)))

	c := commit.Compute(domain.NonceFromString("n"), domain.NewAmount(10), collection, f.instance, 0)
	err := f.eng.CommitBid(ctx, stranger, collection, f.instance, c, domain.NewAmount(10))
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)

	_, err = f.eng.GetBid(ctx, collection, f.instance, 0, stranger)
	assert.ErrorIs(t, err, domain.ErrNoSuchBid, "failed escrow must leave no bid behind")

	a, err := f.eng.GetAuction(ctx, collection, f.instance)
	require.NoError(t, err)
	assert.Zero(t, a.NumBids)
}

func TestIndexMonotonicity_AcrossReauctions(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.createAuction(t, 0)

	nonce := f.commitFor(t, alice, 0, 100, 100)
	f.clk.advance(time.Hour)
	f.reveal(t, alice, 100, nonce)
	f.clk.advance(time.Hour)
	_, err := f.eng.EndAuction(ctx, bob, collection, f.instance)
	require.NoError(t, err)

	// Alice won the asset; she re-auctions it.
	require.NoError(t, f.registry.Approve(ctx, collection, alice, escrow, f.instance))
	second, err := f.eng.CreateAuction(ctx, alice, collection, f.instance, payToken, f.clk.now(), time.Hour, time.Hour, domain.Amount{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), second.Index, "re-auction allocates a strictly greater index")

	// A commitment built for index 0 cannot satisfy index 1's check.
	oldNonce := domain.NonceFromString("old")
	oldCommitment := commit.Compute(oldNonce, domain.NewAmount(50), collection, f.instance, 0)
	require.NoError(t, f.eng.CommitBid(ctx, bob, collection, f.instance, oldCommitment, domain.NewAmount(50)))
	f.clk.advance(time.Hour)
	err = f.eng.RevealBid(ctx, bob, collection, f.instance, domain.NewAmount(50), oldNonce)
	assert.ErrorIs(t, err, domain.ErrCommitmentMismatch)

	// Index 0's bid record remains scoped to index 0.
	bid, err := f.eng.GetBid(ctx, collection, f.instance, 0, alice)
	require.NoError(t, err)
	assert.True(t, bid.Revealed)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
