package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/veilbid/auctiond/internal/domain"
)

// EndedAuctionLister provides read access to settled auctions for monthly
// archival. The Postgres ArchiveStore satisfies it.
type EndedAuctionLister interface {
	ListEnded(ctx context.Context, opts domain.ListOpts) ([]domain.Auction, error)
}

// SnapshotWriter persists settled auctions to object storage. It writes one
// JSON snapshot per auction as settlements happen, plus monthly JSONL rollups
// for bulk export.
//
// Snapshots are write-once: an auction is immutable after settlement, so a
// redelivered event simply overwrites the object with identical content.
type SnapshotWriter struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
}

// NewSnapshotWriter creates a SnapshotWriter uploading through the given
// BlobWriter. audit may be nil.
func NewSnapshotWriter(writer domain.BlobWriter, audit domain.AuditStore) *SnapshotWriter {
	return &SnapshotWriter{writer: writer, audit: audit}
}

// auctionSnapshot is the JSON document stored per settled auction.
type auctionSnapshot struct {
	Auction domain.Auction `json:"auction"`
	Bids    []domain.Bid   `json:"bids"`
}

// WriteSnapshot uploads a settled auction and its bids as a single JSON
// object at auctions/<collection>/<instance>/<index>.json.
func (sw *SnapshotWriter) WriteSnapshot(ctx context.Context, a domain.Auction, bids []domain.Bid) error {
	doc, err := json.Marshal(auctionSnapshot{Auction: a, Bids: bids})
	if err != nil {
		return fmt.Errorf("s3blob: marshal snapshot %s: %w", a.Key, err)
	}

	path := snapshotPath(a)
	if err := sw.writer.Put(ctx, path, bytes.NewReader(doc), "application/json"); err != nil {
		return fmt.Errorf("s3blob: upload snapshot %s: %w", a.Key, err)
	}

	if sw.audit != nil {
		if err := sw.audit.Log(ctx, "archive.snapshot", map[string]any{
			"path":  path,
			"asset": a.Key.String(),
			"index": a.Index,
		}); err != nil {
			return fmt.Errorf("s3blob: snapshot audit log: %w", err)
		}
	}
	return nil
}

// ArchiveMonth queries all auctions settled before the cutoff, serializes
// them to JSONL, and uploads the rollup to archive/auctions/YYYY-MM.jsonl.
// It returns the number of archived records.
func (sw *SnapshotWriter) ArchiveMonth(ctx context.Context, store EndedAuctionLister, before time.Time) (int64, error) {
	auctions, err := store.ListEnded(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive month query: %w", err)
	}
	if len(auctions) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(auctions)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive month marshal: %w", err)
	}

	path := archivePath("auctions", before)
	if err := sw.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive month upload: %w", err)
	}

	count := int64(len(auctions))

	if sw.audit != nil {
		if err := sw.audit.Log(ctx, "archive.month", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive month audit log: %w", err)
		}
	}

	return count, nil
}

// snapshotPath builds the S3 key for a single settled auction.
//
//	auctions/0xCollection/42/0.json
func snapshotPath(a domain.Auction) string {
	return fmt.Sprintf("auctions/%s/%s/%d.json",
		a.Key.AssetCollection.Hex(), a.Key.AssetInstanceID.Dec(), a.Index)
}

// archivePath builds the S3 key for a monthly rollup file, partitioned by
// the year-month of the cutoff time.
//
//	archive/auctions/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
