package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veilbid/auctiond/internal/domain"
)

// ArchiveStore implements domain.ArchiveStore using PostgreSQL. It receives
// settled auctions from the archival pipeline and serves historical queries.
type ArchiveStore struct {
	pool *pgxpool.Pool
}

// NewArchiveStore creates a new ArchiveStore backed by the given connection pool.
func NewArchiveStore(pool *pgxpool.Pool) *ArchiveStore {
	return &ArchiveStore{pool: pool}
}

// InsertAuction upserts a settled auction together with its bids. The stream
// the pipeline drains is at-least-once, so redelivery of the same auction
// must be a no-op; the upsert keys on (collection, instance, index).
func (s *ArchiveStore) InsertAuction(ctx context.Context, a domain.Auction, bids []domain.Bid) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin archive tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const auctionQuery = `
		INSERT INTO auctions (
			asset_collection, asset_instance_id, auction_index,
			seller, payment_token,
			start_time, end_of_bidding, end_of_reveal,
			reserve_price, highest_bid, second_highest_bid, highest_bidder,
			num_bids, sold, winning_price, settled_at, created_at
		) VALUES (
			$1, $2, $3,
			$4, $5,
			$6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16, $17
		)
		ON CONFLICT (asset_collection, asset_instance_id, auction_index)
		DO UPDATE SET
			sold = EXCLUDED.sold,
			winning_price = EXCLUDED.winning_price,
			settled_at = EXCLUDED.settled_at
		RETURNING id`

	var highestBidder *string
	if a.HighestBidder != nil {
		h := a.HighestBidder.Hex()
		highestBidder = &h
	}

	var auctionID int64
	err = tx.QueryRow(ctx, auctionQuery,
		a.Key.AssetCollection.Hex(), a.Key.AssetInstanceID.Dec(), int64(a.Index),
		a.Seller.Hex(), a.PaymentToken.Hex(),
		a.StartTime, a.EndOfBidding, a.EndOfReveal,
		a.ReservePrice.String(), a.HighestBid.String(), a.SecondHighestBid.String(), highestBidder,
		int64(a.NumBids), a.Sold, a.WinningPrice.String(), a.SettledAt, a.CreatedAt,
	).Scan(&auctionID)
	if err != nil {
		return fmt.Errorf("postgres: insert auction %s: %w", a.Key, err)
	}

	const bidQuery = `
		INSERT INTO bids (auction_id, bidder, commitment, collateral, revealed, withdrawn)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (auction_id, bidder) DO UPDATE SET
			collateral = EXCLUDED.collateral,
			revealed = EXCLUDED.revealed,
			withdrawn = EXCLUDED.withdrawn`

	batch := &pgx.Batch{}
	for _, b := range bids {
		batch.Queue(bidQuery,
			auctionID, b.Bidder.Hex(), b.Commitment.Hex(),
			b.Collateral.String(), b.Revealed, b.Withdrawn,
		)
	}
	br := tx.SendBatch(ctx, batch)
	for range bids {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: insert bids for auction %s: %w", a.Key, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close bid batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit archive tx: %w", err)
	}
	return nil
}

const auctionSelectCols = `asset_collection, asset_instance_id, auction_index,
	seller, payment_token, start_time, end_of_bidding, end_of_reveal,
	reserve_price, highest_bid, second_highest_bid, highest_bidder,
	num_bids, sold, winning_price, settled_at, created_at`

// ListEnded returns archived auctions, most recently settled first.
func (s *ArchiveStore) ListEnded(ctx context.Context, opts domain.ListOpts) ([]domain.Auction, error) {
	query := `SELECT ` + auctionSelectCols + ` FROM auctions WHERE settled_at IS NOT NULL`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND settled_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND settled_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY settled_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ended auctions: %w", err)
	}
	defer rows.Close()

	var auctions []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list ended auctions rows: %w", err)
	}
	return auctions, nil
}

// Count returns the number of archived auctions.
func (s *ArchiveStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM auctions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count auctions: %w", err)
	}
	return n, nil
}

func scanAuction(row pgx.Row) (domain.Auction, error) {
	var (
		a             domain.Auction
		collection    string
		instanceID    string
		index         int64
		seller        string
		paymentToken  string
		reserve       string
		highest       string
		second        string
		highestBidder *string
		numBids       int64
		winning       string
	)

	err := row.Scan(
		&collection, &instanceID, &index,
		&seller, &paymentToken, &a.StartTime, &a.EndOfBidding, &a.EndOfReveal,
		&reserve, &highest, &second, &highestBidder,
		&numBids, &a.Sold, &winning, &a.SettledAt, &a.CreatedAt,
	)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("postgres: scan auction: %w", err)
	}

	instance, parseErr := uint256.FromDecimal(instanceID)
	if parseErr != nil {
		return domain.Auction{}, fmt.Errorf("postgres: parse instance id %q: %w", instanceID, parseErr)
	}
	a.Key = domain.NewAuctionKey(common.HexToAddress(collection), instance)
	a.Index = uint64(index)
	a.Seller = common.HexToAddress(seller)
	a.PaymentToken = common.HexToAddress(paymentToken)
	a.NumBids = uint64(numBids)
	a.Settled = a.SettledAt != nil

	if a.ReservePrice, err = domain.ParseAmount(reserve); err != nil {
		return domain.Auction{}, fmt.Errorf("postgres: parse reserve price: %w", err)
	}
	if a.HighestBid, err = domain.ParseAmount(highest); err != nil {
		return domain.Auction{}, fmt.Errorf("postgres: parse highest bid: %w", err)
	}
	if a.SecondHighestBid, err = domain.ParseAmount(second); err != nil {
		return domain.Auction{}, fmt.Errorf("postgres: parse second highest bid: %w", err)
	}
	if a.WinningPrice, err = domain.ParseAmount(winning); err != nil {
		return domain.Auction{}, fmt.Errorf("postgres: parse winning price: %w", err)
	}
	if highestBidder != nil {
		addr := common.HexToAddress(*highestBidder)
		a.HighestBidder = &addr
	}

	return a, nil
}

// Compile-time interface check.
var _ domain.ArchiveStore = (*ArchiveStore)(nil)
