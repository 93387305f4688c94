// Package order owns the online-order state machine and drives the stock
// ledger at its two stock-moving transitions: the deduction when a payment
// is confirmed and the restore when a paid order is cancelled.
package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pharmatrack/m/domain"
	"pharmatrack/m/internal/idempotency"
	"pharmatrack/m/internal/ledger"
	"pharmatrack/m/internal/payment"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrEmptyOrder        = errors.New("order has no lines")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrDuplicateRequest  = errors.New("duplicate request")
	ErrPaymentDeclined   = errors.New("payment declined")

	// ErrUnresolvedRestoreTarget marks a cancelled line whose inventory
	// record could not be found by id or by name. It is reported per line
	// and never fails the cancellation as a whole.
	ErrUnresolvedRestoreTarget = errors.New("restore target unresolved")
)

type Coordinator struct {
	db        *sqlx.DB
	ledger    *ledger.Ledger
	authority payment.Authority
	guard     idempotency.Guard
	log       zerolog.Logger
}

func New(db *sqlx.DB, l *ledger.Ledger, authority payment.Authority, guard idempotency.Guard, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		db:        db,
		ledger:    l,
		authority: authority,
		guard:     guard,
		log:       log.With().Str("component", "order").Logger(),
	}
}

// LineInput is one requested line at order placement.
type LineInput struct {
	Kind     domain.RecordKind `json:"kind"`
	RecordID int64             `json:"record_id"`
	Quantity int64             `json:"quantity"`
}

// LineOutcome reports what happened to one line during a stock-moving
// transition.
type LineOutcome struct {
	LineID      int64             `json:"line_id"`
	ProductName string            `json:"product_name"`
	Record      *domain.RecordRef `json:"record,omitempty"`
	Quantity    int64             `json:"quantity"`
	Applied     int64             `json:"applied"`
	Shortfall   int64             `json:"shortfall,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Place validates availability, snapshots names and prices, and creates the
// order in pending state. No stock moves here: the authoritative deduction
// happens at payment confirmation.
func (c *Coordinator) Place(ctx context.Context, customerID int64, lines []LineInput) (domain.Order, error) {
	if len(lines) == 0 {
		return domain.Order{}, ErrEmptyOrder
	}

	type snapshot struct {
		name  string
		price decimal.Decimal
	}
	snapshots := make([]snapshot, len(lines))
	total := decimal.Zero

	for i, in := range lines {
		if in.Quantity <= 0 {
			return domain.Order{}, ledger.ErrInvalidQuantity
		}
		name, price, onHand, err := c.lookupRecord(ctx, in.Kind, in.RecordID)
		if err != nil {
			return domain.Order{}, err
		}
		if onHand < in.Quantity {
			return domain.Order{}, fmt.Errorf("%w: %s has %d of %d requested", ErrInsufficientStock, name, onHand, in.Quantity)
		}
		snapshots[i] = snapshot{name: name, price: price}
		total = total.Add(price.Mul(decimal.NewFromInt(in.Quantity)))
	}

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ord := domain.Order{
		Number:        uuid.NewString(),
		CustomerID:    customerID,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		TotalAmount:   total,
	}
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO orders (number, customer_id, status, payment_status, total_amount)
         VALUES (?, ?, ?, ?, ?) RETURNING id, created_at, updated_at`,
		ord.Number, ord.CustomerID, ord.Status, ord.PaymentStatus, ord.TotalAmount,
	).Scan(&ord.ID, &ord.CreatedAt, &ord.UpdatedAt)
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	for i, in := range lines {
		var medicineID, productID *int64
		id := in.RecordID
		if in.Kind == domain.RecordKindMedicine {
			medicineID = &id
		} else {
			productID = &id
		}
		subtotal := snapshots[i].price.Mul(decimal.NewFromInt(in.Quantity))
		_, err = tx.ExecContext(ctx,
			`INSERT INTO order_lines (order_id, medicine_id, product_id, product_name, quantity, unit_price, subtotal)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ord.ID, medicineID, productID, snapshots[i].name, in.Quantity, snapshots[i].price, subtotal)
		if err != nil {
			return domain.Order{}, fmt.Errorf("insert order line: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit order: %w", err)
	}
	return ord, nil
}

// ConfirmResult is the outcome of a payment confirmation: the paid order,
// the authority's charge reference and the per-line deductions.
type ConfirmResult struct {
	Order     domain.Order  `json:"order"`
	Reference string        `json:"reference"`
	Lines     []LineOutcome `json:"lines"`
}

// Confirm charges the payment authority and, on approval, transitions the
// order into paid and deducts every line exactly once. Stock is deducted
// with dispense semantics: if availability dropped since placement the line
// degrades to partial fulfillment rather than failing the order.
func (c *Coordinator) Confirm(ctx context.Context, orderID int64, actor string) (ConfirmResult, error) {
	ord, err := c.Get(ctx, orderID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if ord.Status != domain.OrderStatusPending {
		return ConfirmResult{}, fmt.Errorf("%w: cannot confirm %s order", ErrInvalidTransition, ord.Status)
	}

	guardKey := "order:confirm:" + ord.Number
	ok, err := c.guard.Acquire(ctx, guardKey)
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("idempotency check: %w", err)
	}
	if !ok {
		return ConfirmResult{}, ErrDuplicateRequest
	}

	reference, approved, err := c.authority.Charge(ctx, ord.Number, ord.TotalAmount)
	if err != nil {
		if relErr := c.guard.Release(ctx, guardKey); relErr != nil {
			c.log.Error().Err(relErr).Str("order", ord.Number).Msg("failed to release confirm guard")
		}
		return ConfirmResult{}, fmt.Errorf("payment authority: %w", err)
	}
	if !approved {
		if err := c.transition(ctx, ord.ID, domain.OrderStatusPaymentFailed, domain.PaymentStatusFailed, domain.OrderStatusPending); err != nil {
			return ConfirmResult{}, err
		}
		c.recordPayment(ctx, ord.ID, ord.TotalAmount, domain.PaymentStatusFailed, reference)
		return ConfirmResult{}, ErrPaymentDeclined
	}

	if err := c.transition(ctx, ord.ID, domain.OrderStatusPaid, domain.PaymentStatusPaid, domain.OrderStatusPending); err != nil {
		return ConfirmResult{}, err
	}

	lines, err := c.Lines(ctx, ord.ID)
	if err != nil {
		return ConfirmResult{}, err
	}

	reason := fmt.Sprintf("order %s paid", ord.Number)
	outcomes := make([]LineOutcome, 0, len(lines))
	for _, line := range lines {
		out := LineOutcome{LineID: line.ID, ProductName: line.ProductName, Quantity: line.Quantity}
		ref, hasRef := line.Ref()
		if !hasRef {
			out.Error = ErrUnresolvedRestoreTarget.Error()
			outcomes = append(outcomes, out)
			continue
		}
		out.Record = &ref
		mut, err := c.ledger.Dispense(ctx, ref, line.Quantity, actor, reason)
		if err != nil {
			// The record vanished between placement and confirmation.
			// Report the line and keep going; the order stays paid.
			c.log.Error().Err(err).Stringer("record", ref).Str("order", ord.Number).Msg("line deduction failed")
			out.Error = err.Error()
			outcomes = append(outcomes, out)
			continue
		}
		out.Applied = mut.Applied
		out.Shortfall = mut.Shortfall
		outcomes = append(outcomes, out)
	}

	c.recordPayment(ctx, ord.ID, ord.TotalAmount, domain.PaymentStatusPaid, reference)

	ord, err = c.Get(ctx, orderID)
	if err != nil {
		return ConfirmResult{}, err
	}
	return ConfirmResult{Order: ord, Reference: reference, Lines: outcomes}, nil
}

// Ship moves a paid order into shipped.
func (c *Coordinator) Ship(ctx context.Context, orderID int64) error {
	return c.transition(ctx, orderID, domain.OrderStatusShipped, "", domain.OrderStatusPaid)
}

// Deliver moves a shipped order into delivered.
func (c *Coordinator) Deliver(ctx context.Context, orderID int64) error {
	return c.transition(ctx, orderID, domain.OrderStatusDelivered, "", domain.OrderStatusShipped)
}

// CancelResult reports which lines were credited back and which could not
// be resolved to any inventory record.
type CancelResult struct {
	Order       domain.Order  `json:"order"`
	Restored    []LineOutcome `json:"restored"`
	NotRestored []LineOutcome `json:"not_restored"`
}

// Cancel transitions the order into cancelled. Stock is restored only when
// the order had already deducted it (paid or shipped); a never-paid order
// cancels without touching inventory. Each line restores independently:
// lines whose record cannot be resolved are reported back, and one line's
// failure never rolls back the others.
func (c *Coordinator) Cancel(ctx context.Context, orderID int64, actor string) (CancelResult, error) {
	ord, err := c.Get(ctx, orderID)
	if err != nil {
		return CancelResult{}, err
	}

	switch ord.Status {
	case domain.OrderStatusPending, domain.OrderStatusPaid, domain.OrderStatusShipped:
	default:
		return CancelResult{}, fmt.Errorf("%w: cannot cancel %s order", ErrInvalidTransition, ord.Status)
	}
	deducted := ord.Status == domain.OrderStatusPaid || ord.Status == domain.OrderStatusShipped

	// Transition only from the status the restore decision was based on. If
	// a concurrent confirmation moved the order in between, the update
	// matches nothing and the caller retries against the new status instead
	// of cancelling a freshly paid order without restoring its deduction.
	if err := c.transition(ctx, ord.ID, domain.OrderStatusCancelled, "", ord.Status); err != nil {
		return CancelResult{}, err
	}

	res := CancelResult{}
	if deducted {
		lines, err := c.Lines(ctx, ord.ID)
		if err != nil {
			return CancelResult{}, err
		}
		reason := fmt.Sprintf("order %s cancelled", ord.Number)
		for _, line := range lines {
			out := LineOutcome{LineID: line.ID, ProductName: line.ProductName, Quantity: line.Quantity}
			ref, err := c.ledger.ResolveRestoreTarget(ctx, line.MedicineID, line.ProductID, line.ProductName)
			if err != nil {
				if errors.Is(err, ledger.ErrRecordNotFound) {
					out.Error = ErrUnresolvedRestoreTarget.Error()
				} else {
					out.Error = err.Error()
				}
				res.NotRestored = append(res.NotRestored, out)
				continue
			}
			out.Record = &ref
			mut, err := c.ledger.Restore(ctx, ref, line.Quantity, actor, reason)
			if err != nil {
				out.Error = err.Error()
				res.NotRestored = append(res.NotRestored, out)
				continue
			}
			out.Applied = mut.Applied
			res.Restored = append(res.Restored, out)
		}
	}

	res.Order, err = c.Get(ctx, orderID)
	if err != nil {
		return CancelResult{}, err
	}
	return res, nil
}

// Get loads one order.
func (c *Coordinator) Get(ctx context.Context, orderID int64) (domain.Order, error) {
	var ord domain.Order
	err := c.db.GetContext(ctx, &ord,
		`SELECT id, number, customer_id, status, payment_status, total_amount, created_at, updated_at
         FROM orders WHERE id = ?`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("load order: %w", err)
	}
	return ord, nil
}

// Lines loads an order's lines.
func (c *Coordinator) Lines(ctx context.Context, orderID int64) ([]domain.OrderLine, error) {
	var lines []domain.OrderLine
	err := c.db.SelectContext(ctx, &lines,
		`SELECT id, order_id, medicine_id, product_id, product_name, quantity, unit_price, subtotal
         FROM order_lines WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}
	return lines, nil
}

// Payments loads an order's charge attempts, newest first.
func (c *Coordinator) Payments(ctx context.Context, orderID int64) ([]domain.Payment, error) {
	var payments []domain.Payment
	err := c.db.SelectContext(ctx, &payments,
		`SELECT id, order_id, amount, status, reference, created_at
         FROM payments WHERE order_id = ? ORDER BY id DESC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}
	return payments, nil
}

// transition flips the order's status only when the current status is one
// of the allowed predecessors; the conditional update makes the state
// machine race-safe without a separate lock.
func (c *Coordinator) transition(ctx context.Context, orderID int64, to domain.OrderStatus, pay domain.PaymentStatus, from ...domain.OrderStatus) error {
	query := `UPDATE orders SET status = ?, updated_at = CURRENT_TIMESTAMP`
	args := []any{to}
	if pay != "" {
		query += `, payment_status = ?`
		args = append(args, pay)
	}
	query += ` WHERE id = ? AND status IN (?` + repeatPlaceholder(len(from)-1) + `)`
	args = append(args, orderID)
	for _, f := range from {
		args = append(args, f)
	}

	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: cannot move order %d to %s", ErrInvalidTransition, orderID, to)
	}
	return nil
}

func (c *Coordinator) recordPayment(ctx context.Context, orderID int64, amount decimal.Decimal, status domain.PaymentStatus, reference string) {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO payments (order_id, amount, status, reference) VALUES (?, ?, ?, ?)`,
		orderID, amount, status, reference)
	if err != nil {
		c.log.Error().Err(err).Int64("order_id", orderID).Msg("failed to record payment")
	}
}

func (c *Coordinator) lookupRecord(ctx context.Context, kind domain.RecordKind, id int64) (name string, price decimal.Decimal, onHand int64, err error) {
	var row struct {
		Name   string          `db:"name"`
		Price  decimal.Decimal `db:"price"`
		OnHand int64           `db:"on_hand"`
	}
	var query string
	switch kind {
	case domain.RecordKindMedicine:
		query = `SELECT name, price, quantity_in_stock AS on_hand FROM medicines WHERE id = ?`
	case domain.RecordKindProduct:
		query = `SELECT name, selling_price AS price, stock AS on_hand FROM non_medical_products WHERE id = ? AND is_active = 1`
	default:
		return "", decimal.Zero, 0, ledger.ErrRecordNotFound
	}
	getErr := c.db.GetContext(ctx, &row, query, id)
	if errors.Is(getErr, sql.ErrNoRows) {
		return "", decimal.Zero, 0, ledger.ErrRecordNotFound
	}
	if getErr != nil {
		return "", decimal.Zero, 0, fmt.Errorf("lookup record: %w", getErr)
	}
	return row.Name, row.Price, row.OnHand, nil
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
