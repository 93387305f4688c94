package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"pharmatrack/m/domain"
)

// store reads and writes the two inventory collections and the audit table.
// All quantity writes go through the ledger; nothing else in the codebase
// touches quantity_in_stock or stock.
type store struct {
	db *sqlx.DB
}

func (s *store) quantity(ctx context.Context, tx *sqlx.Tx, ref domain.RecordRef) (int64, error) {
	var query string
	switch ref.Kind {
	case domain.RecordKindMedicine:
		query = `SELECT quantity_in_stock FROM medicines WHERE id = ?`
	case domain.RecordKindProduct:
		query = `SELECT stock FROM non_medical_products WHERE id = ?`
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", ErrRecordNotFound, ref.Kind)
	}

	var qty int64
	err := tx.QueryRowxContext(ctx, query, ref.ID).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrRecordNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read quantity for %s: %w", ref, err)
	}
	return qty, nil
}

func (s *store) setQuantity(ctx context.Context, tx *sqlx.Tx, ref domain.RecordRef, qty int64) error {
	var query string
	switch ref.Kind {
	case domain.RecordKindMedicine:
		query = `UPDATE medicines SET quantity_in_stock = ? WHERE id = ?`
	case domain.RecordKindProduct:
		query = `UPDATE non_medical_products SET stock = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	}
	res, err := tx.ExecContext(ctx, query, qty, ref.ID)
	if err != nil {
		return fmt.Errorf("write quantity for %s: %w", ref, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *store) appendAudit(ctx context.Context, tx *sqlx.Tx, ref domain.RecordRef, delta int64, actor, reason string) (domain.AuditEntry, error) {
	entry := domain.AuditEntry{
		RecordKind: ref.Kind,
		RecordID:   ref.ID,
		Delta:      delta,
		Actor:      actor,
		Reason:     reason,
	}
	err := tx.QueryRowxContext(ctx,
		`INSERT INTO stock_audit (record_kind, record_id, delta, actor, reason)
         VALUES (?, ?, ?, ?, ?) RETURNING id, created_at`,
		entry.RecordKind, entry.RecordID, entry.Delta, entry.Actor, entry.Reason,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("append audit for %s: %w", ref, err)
	}
	return entry, nil
}

// exists checks a single-collection lookup used by the restore fallback.
func (s *store) exists(ctx context.Context, query string, arg any) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowxContext(ctx, query, arg).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}
