package ledger

import (
	"context"
	"fmt"

	"pharmatrack/m/domain"
)

// ResolveRestoreTarget finds the record an order line should be credited to,
// trying each strategy in order of preference: the stored medicine id, the
// stored product id, then an exact name match against medicines and finally
// against non-medical products. The name fallback can credit the wrong
// record when two different products share a name after the original was
// deleted and recreated; that behavior is intentional and flagged to
// product owners rather than papered over here.
func (l *Ledger) ResolveRestoreTarget(ctx context.Context, medicineID, productID *int64, name string) (domain.RecordRef, error) {
	type lookup struct {
		kind  domain.RecordKind
		query string
		arg   any
		skip  bool
	}
	lookups := []lookup{
		{domain.RecordKindMedicine, `SELECT id FROM medicines WHERE id = ?`, idOrZero(medicineID), medicineID == nil},
		{domain.RecordKindProduct, `SELECT id FROM non_medical_products WHERE id = ?`, idOrZero(productID), productID == nil},
		{domain.RecordKindMedicine, `SELECT id FROM medicines WHERE name = ? LIMIT 1`, name, name == ""},
		{domain.RecordKindProduct, `SELECT id FROM non_medical_products WHERE name = ? LIMIT 1`, name, name == ""},
	}

	for _, lk := range lookups {
		if lk.skip {
			continue
		}
		id, ok, err := l.store.exists(ctx, lk.query, lk.arg)
		if err != nil {
			return domain.RecordRef{}, fmt.Errorf("restore lookup: %w", err)
		}
		if ok {
			return domain.RecordRef{Kind: lk.kind, ID: id}, nil
		}
	}
	return domain.RecordRef{}, ErrRecordNotFound
}

func idOrZero(id *int64) any {
	if id == nil {
		return int64(0)
	}
	return *id
}
