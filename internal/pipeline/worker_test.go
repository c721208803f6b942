package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilbid/auctiond/internal/domain"
)

// fakeBus serves a fixed backlog of stream messages.
type fakeBus struct {
	messages []domain.StreamMessage
	reads    int
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error { return nil }

func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, nil
}

func (b *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return nil
}

func (b *fakeBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	b.reads++
	var out []domain.StreamMessage
	for _, m := range b.messages {
		if m.ID > lastID && len(out) < count {
			out = append(out, m)
		}
	}
	return out, nil
}

// fakeArchive records inserted auctions and optionally fails on one key.
type fakeArchive struct {
	inserted []domain.Auction
	failOn   string
}

func (a *fakeArchive) InsertAuction(ctx context.Context, auction domain.Auction, bids []domain.Bid) error {
	if a.failOn != "" && auction.Key.String() == a.failOn {
		return errors.New("insert failed")
	}
	a.inserted = append(a.inserted, auction)
	return nil
}

func (a *fakeArchive) ListEnded(ctx context.Context, opts domain.ListOpts) ([]domain.Auction, error) {
	return nil, nil
}

func (a *fakeArchive) Count(ctx context.Context) (int64, error) {
	return int64(len(a.inserted)), nil
}

// heldLocks always reports the lease as taken.
type heldLocks struct{}

func (heldLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func settledPayload(t *testing.T, instance uint64, index uint64) []byte {
	t.Helper()
	settledAt := time.Date(2025, time.May, 1, 12, 0, 0, 0, time.UTC)
	a := domain.Auction{
		Key:       domain.NewAuctionKey(common.HexToAddress("0x01"), uint256.NewInt(instance)),
		Index:     index,
		Seller:    common.HexToAddress("0xaa"),
		Settled:   true,
		Sold:      true,
		SettledAt: &settledAt,
	}
	payload, err := json.Marshal(domain.SettlementRecord{
		Auction: a,
		Bids:    []domain.Bid{{Bidder: common.HexToAddress("0xbb")}},
	})
	require.NoError(t, err)
	return payload
}

func newTestWorker(bus *fakeBus, archive *fakeArchive, locks domain.LockManager) *Worker {
	return NewWorker(bus, archive, nil, locks, WorkerConfig{
		PollInterval: time.Second,
		BatchSize:    10,
	}, slog.Default())
}

func TestWorker_DrainArchivesBacklog(t *testing.T) {
	bus := &fakeBus{messages: []domain.StreamMessage{
		{ID: "1-0", Payload: settledPayload(t, 1, 0)},
		{ID: "2-0", Payload: settledPayload(t, 2, 0)},
	}}
	archive := &fakeArchive{}
	w := newTestWorker(bus, archive, nil)

	require.NoError(t, w.drainOnce(context.Background()))

	require.Len(t, archive.inserted, 2)
	assert.Equal(t, "2-0", w.cursor)

	// A second drain finds nothing new and archives nothing twice.
	require.NoError(t, w.drainOnce(context.Background()))
	assert.Len(t, archive.inserted, 2)
}

func TestWorker_MalformedPayloadIsSkipped(t *testing.T) {
	bus := &fakeBus{messages: []domain.StreamMessage{
		{ID: "1-0", Payload: []byte("{not json")},
		{ID: "2-0", Payload: settledPayload(t, 7, 0)},
	}}
	archive := &fakeArchive{}
	w := newTestWorker(bus, archive, nil)

	require.NoError(t, w.drainOnce(context.Background()))

	// The bad message is consumed, the good one behind it still lands.
	require.Len(t, archive.inserted, 1)
	assert.Equal(t, uint64(7), archive.inserted[0].Key.AssetInstanceID.Uint64())
	assert.Equal(t, "2-0", w.cursor)
}

func TestWorker_FailedInsertHoldsCursor(t *testing.T) {
	failKey := domain.NewAuctionKey(common.HexToAddress("0x01"), uint256.NewInt(2))
	bus := &fakeBus{messages: []domain.StreamMessage{
		{ID: "1-0", Payload: settledPayload(t, 1, 0)},
		{ID: "2-0", Payload: settledPayload(t, 2, 0)},
	}}
	archive := &fakeArchive{failOn: failKey.String()}
	w := newTestWorker(bus, archive, nil)

	err := w.drainOnce(context.Background())
	require.Error(t, err)

	// Only the first message got through; the cursor stays behind the failed
	// one so the next cycle retries it.
	assert.Len(t, archive.inserted, 1)
	assert.Equal(t, "1-0", w.cursor)

	archive.failOn = ""
	require.NoError(t, w.drainOnce(context.Background()))
	assert.Len(t, archive.inserted, 2)
	assert.Equal(t, "2-0", w.cursor)
}

func TestWorker_LeaseHeldSkipsCycle(t *testing.T) {
	bus := &fakeBus{messages: []domain.StreamMessage{
		{ID: "1-0", Payload: settledPayload(t, 1, 0)},
	}}
	archive := &fakeArchive{}
	w := newTestWorker(bus, archive, heldLocks{})

	require.NoError(t, w.drainOnce(context.Background()))
	assert.Zero(t, bus.reads, "a held lease must skip the read entirely")
	assert.Empty(t, archive.inserted)
}
