// Package prescription drives the stock ledger for pharmacist dispensing:
// adding medicines to a prescription, editing requested quantities and
// returning stock when items or whole prescriptions are removed.
package prescription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"pharmatrack/m/domain"
	"pharmatrack/m/internal/ledger"
)

var (
	ErrPrescriptionNotFound = errors.New("prescription not found")
	ErrItemNotFound         = errors.New("prescription item not found")

	// ErrOutOfStock is the hard rejection for a dispense that could apply
	// nothing at all. Partial availability is not an error; it surfaces as
	// a warning on the result instead.
	ErrOutOfStock = errors.New("no stock available")
)

type Coordinator struct {
	db     *sqlx.DB
	ledger *ledger.Ledger
	log    zerolog.Logger
}

func New(db *sqlx.DB, l *ledger.Ledger, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		db:     db,
		ledger: l,
		log:    log.With().Str("component", "prescription").Logger(),
	}
}

// DispenseResult reports what one item operation did to the line and to
// stock. Warning is non-empty when the request was only partially fulfilled.
type DispenseResult struct {
	Item      domain.PrescriptionItem `json:"item"`
	Applied   int64                   `json:"applied"`
	Shortfall int64                   `json:"shortfall"`
	Warning   string                  `json:"warning,omitempty"`
}

// AddItem dispenses requested units of a medicine for the prescription. If
// the medicine already has a line on this prescription the new quantities
// merge into it rather than creating a duplicate. On shortage the available
// quantity is dispensed and a warning is attached; if nothing is available
// the request is rejected outright and no line is created.
func (c *Coordinator) AddItem(ctx context.Context, prescriptionID, medicineID, requested int64, dosage, duration, actor string) (DispenseResult, error) {
	if err := c.prescriptionExists(ctx, prescriptionID); err != nil {
		return DispenseResult{}, err
	}

	ref := domain.RecordRef{Kind: domain.RecordKindMedicine, ID: medicineID}
	mut, err := c.ledger.Dispense(ctx, ref, requested, actor, fmt.Sprintf("prescription #%d dispense", prescriptionID))
	if err != nil {
		return DispenseResult{}, err
	}
	if mut.Applied == 0 {
		return DispenseResult{}, ErrOutOfStock
	}

	item, err := c.mergeItem(ctx, prescriptionID, medicineID, requested, mut.Applied, dosage, duration)
	if err != nil {
		return DispenseResult{}, err
	}

	res := DispenseResult{Item: item, Applied: mut.Applied, Shortfall: mut.Shortfall}
	if mut.Shortfall > 0 {
		res.Warning = fmt.Sprintf("only %d of %d units available; dispensed the available quantity", mut.Applied, requested)
	}
	return res, nil
}

// UpdateItem edits a line's requested quantity. The ledger delta is the
// difference between the new requested total and what has been dispensed so
// far: a positive difference dispenses more (bounded by stock), a negative
// one returns the surplus. Net effect matches a single dispense of the
// final total no matter how many edits happened in between.
func (c *Coordinator) UpdateItem(ctx context.Context, prescriptionID, itemID, newRequested int64, dosage, duration, actor string) (DispenseResult, error) {
	if newRequested <= 0 {
		return DispenseResult{}, ledger.ErrInvalidQuantity
	}
	item, err := c.getItem(ctx, prescriptionID, itemID)
	if err != nil {
		return DispenseResult{}, err
	}

	ref := domain.RecordRef{Kind: domain.RecordKindMedicine, ID: item.MedicineID}
	delta := newRequested - item.DispensedQuantity
	mut, err := c.ledger.AdjustDispensed(ctx, ref, delta, actor, fmt.Sprintf("prescription #%d adjust", prescriptionID))
	if err != nil {
		return DispenseResult{}, err
	}

	// Relative write: the dispensed total moves by exactly what the ledger
	// applied, so an edit racing another mutation of the same line still
	// accounts for every unit that left the shelf.
	err = c.db.GetContext(ctx, &item,
		`UPDATE prescription_items
         SET requested_quantity = ?, dispensed_quantity = dispensed_quantity - ?, dosage = ?, duration = ?
         WHERE id = ? AND prescription_id = ?
         RETURNING id, prescription_id, medicine_id, dosage, duration, requested_quantity, dispensed_quantity`,
		newRequested, mut.Entry.Delta, dosage, duration, item.ID, prescriptionID)
	if errors.Is(err, sql.ErrNoRows) {
		// The line vanished while the edit was in flight. Undo the stock
		// movement before reporting the miss.
		c.reverse(ctx, ref, mut, actor, fmt.Sprintf("prescription #%d adjust reverted", prescriptionID))
		return DispenseResult{}, ErrItemNotFound
	}
	if err != nil {
		return DispenseResult{}, fmt.Errorf("update prescription item: %w", err)
	}

	res := DispenseResult{Item: item, Applied: mut.Applied, Shortfall: mut.Shortfall}
	if delta > 0 && mut.Shortfall > 0 {
		res.Warning = fmt.Sprintf("only %d more units available; dispensed total is %d of %d requested", mut.Applied, item.DispensedQuantity, newRequested)
	}
	return res, nil
}

// RemoveItem deletes the line and returns its dispensed quantity to stock.
// The delete is the gate: the row is handed to exactly one caller, so of N
// concurrent removals only the one that claimed the row restores, and repeat
// requests cannot credit stock twice.
func (c *Coordinator) RemoveItem(ctx context.Context, prescriptionID, itemID int64, actor string) error {
	var medicineID, dispensed int64
	err := c.db.QueryRowxContext(ctx,
		`DELETE FROM prescription_items WHERE id = ? AND prescription_id = ?
         RETURNING medicine_id, dispensed_quantity`,
		itemID, prescriptionID).Scan(&medicineID, &dispensed)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrItemNotFound
	}
	if err != nil {
		return fmt.Errorf("delete prescription item: %w", err)
	}

	if dispensed > 0 {
		ref := domain.RecordRef{Kind: domain.RecordKindMedicine, ID: medicineID}
		if _, err := c.ledger.Restore(ctx, ref, dispensed, actor, fmt.Sprintf("prescription #%d item removed", prescriptionID)); err != nil {
			if errors.Is(err, ledger.ErrRecordNotFound) {
				c.log.Warn().Int64("medicine_id", medicineID).Int64("prescription_id", prescriptionID).
					Msg("medicine gone, dispensed quantity not restored")
				return nil
			}
			return err
		}
	}
	return nil
}

// Delete removes the prescription with its lines, restoring every line's
// dispensed quantity. Deleting the lines claims them: each row is handed to
// exactly one caller, so a concurrent delete of the same prescription cannot
// restore the same line twice. Restores are per-line ledger calls; a line
// whose medicine no longer resolves is logged and skipped rather than
// blocking the rest.
func (c *Coordinator) Delete(ctx context.Context, prescriptionID int64, actor string) error {
	if err := c.prescriptionExists(ctx, prescriptionID); err != nil {
		return err
	}

	type claimed struct {
		medicineID int64
		dispensed  int64
	}
	rows, err := c.db.QueryxContext(ctx,
		`DELETE FROM prescription_items WHERE prescription_id = ?
         RETURNING medicine_id, dispensed_quantity`, prescriptionID)
	if err != nil {
		return fmt.Errorf("delete prescription items: %w", err)
	}
	var items []claimed
	for rows.Next() {
		var it claimed
		if err := rows.Scan(&it.medicineID, &it.dispensed); err != nil {
			rows.Close()
			return fmt.Errorf("scan prescription item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("delete prescription items: %w", err)
	}
	rows.Close()

	reason := fmt.Sprintf("prescription #%d deleted", prescriptionID)
	for _, item := range items {
		if item.dispensed == 0 {
			continue
		}
		ref := domain.RecordRef{Kind: domain.RecordKindMedicine, ID: item.medicineID}
		if _, err := c.ledger.Restore(ctx, ref, item.dispensed, actor, reason); err != nil {
			if errors.Is(err, ledger.ErrRecordNotFound) {
				c.log.Warn().Int64("medicine_id", item.medicineID).Int64("prescription_id", prescriptionID).
					Msg("medicine gone, dispensed quantity not restored")
				continue
			}
			return err
		}
	}

	if _, err := c.db.ExecContext(ctx, `DELETE FROM prescriptions WHERE id = ?`, prescriptionID); err != nil {
		return fmt.Errorf("delete prescription: %w", err)
	}
	return nil
}

func (c *Coordinator) prescriptionExists(ctx context.Context, id int64) error {
	var found int64
	err := c.db.QueryRowxContext(ctx, `SELECT id FROM prescriptions WHERE id = ?`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrPrescriptionNotFound
	}
	if err != nil {
		return fmt.Errorf("load prescription: %w", err)
	}
	return nil
}

func (c *Coordinator) getItem(ctx context.Context, prescriptionID, itemID int64) (domain.PrescriptionItem, error) {
	var item domain.PrescriptionItem
	err := c.db.GetContext(ctx, &item,
		`SELECT id, prescription_id, medicine_id, dosage, duration, requested_quantity, dispensed_quantity
         FROM prescription_items WHERE id = ? AND prescription_id = ?`, itemID, prescriptionID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PrescriptionItem{}, ErrItemNotFound
	}
	if err != nil {
		return domain.PrescriptionItem{}, fmt.Errorf("load prescription item: %w", err)
	}
	return item, nil
}

// mergeItem folds a new dispense into the (prescription, medicine) line,
// inserting it if absent. The upsert applies relative increments in one
// statement, so two concurrent dispenses of the same medicine both land
// instead of one overwriting the other from a stale read, and the unique
// constraint can never strand a dispense that already moved stock.
func (c *Coordinator) mergeItem(ctx context.Context, prescriptionID, medicineID, requested, applied int64, dosage, duration string) (domain.PrescriptionItem, error) {
	var item domain.PrescriptionItem
	err := c.db.GetContext(ctx, &item,
		`INSERT INTO prescription_items (prescription_id, medicine_id, dosage, duration, requested_quantity, dispensed_quantity)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(prescription_id, medicine_id) DO UPDATE SET
             requested_quantity = requested_quantity + excluded.requested_quantity,
             dispensed_quantity = dispensed_quantity + excluded.dispensed_quantity,
             dosage = excluded.dosage,
             duration = excluded.duration
         RETURNING id, prescription_id, medicine_id, dosage, duration, requested_quantity, dispensed_quantity`,
		prescriptionID, medicineID, dosage, duration, requested, applied)
	if err != nil {
		return domain.PrescriptionItem{}, fmt.Errorf("merge prescription item: %w", err)
	}
	return item, nil
}

// reverse undoes a ledger mutation whose prescription line disappeared
// before the edit could land on it.
func (c *Coordinator) reverse(ctx context.Context, ref domain.RecordRef, mut ledger.Mutation, actor, reason string) {
	if mut.Entry.Delta == 0 {
		return
	}
	if _, err := c.ledger.AdjustDispensed(ctx, ref, mut.Entry.Delta, actor, reason); err != nil {
		c.log.Error().Err(err).Stringer("record", ref).Int64("delta", mut.Entry.Delta).
			Msg("unable to revert stock movement")
	}
}
