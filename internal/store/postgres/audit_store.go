package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veilbid/auctiond/internal/domain"
)

// AuditStore is the append-only trail of engine and archive operations:
// settlements, withdrawals, blacklist changes, snapshot writes. Rows are
// never updated or deleted.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore over the given pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends one entry. The detail map lands as JSONB so operators can
// query into it.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, detailJSON,
	); err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first, filtered by the optional time bounds
// and paginated by Limit/Offset.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var q strings.Builder
	q.WriteString(`SELECT id, event, detail, created_at FROM audit_log`)

	var args []any
	var conds []string
	if opts.Since != nil {
		args = append(args, *opts.Since)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if len(conds) > 0 {
		q.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}

	q.WriteString(" ORDER BY created_at DESC")
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&q, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&q, " OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var detailJSON []byte
		if err := rows.Scan(&e.ID, &e.Event, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	return entries, nil
}

// Compile-time interface check.
var _ domain.AuditStore = (*AuditStore)(nil)
