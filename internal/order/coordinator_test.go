package order

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pharmatrack/m/domain"
	"pharmatrack/m/internal/database"
	"pharmatrack/m/internal/idempotency"
	"pharmatrack/m/internal/ledger"
	"pharmatrack/m/internal/migrations"
	"pharmatrack/m/internal/payment"
)

// stubAuthority lets tests dictate the charge outcome.
type stubAuthority struct {
	approved bool
	err      error
	charges  int
}

func (s *stubAuthority) Charge(ctx context.Context, orderNumber string, amount decimal.Decimal) (string, bool, error) {
	s.charges++
	if s.err != nil {
		return "", false, s.err
	}
	return "stub-ref", s.approved, nil
}

func newTestCoordinator(t *testing.T, authority payment.Authority) (*Coordinator, *sqlx.DB) {
	t.Helper()
	db, err := database.Connect(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	l := ledger.New(db, zerolog.Nop())
	return New(db, l, authority, idempotency.NewMemory(), zerolog.Nop()), db
}

func seedMedicine(t *testing.T, db *sqlx.DB, name string, qty int64, price string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRowx(
		`INSERT INTO medicines (name, batch_number, quantity_in_stock, price) VALUES (?, ?, ?, ?) RETURNING id`,
		name, name+"-batch", qty, price).Scan(&id)
	if err != nil {
		t.Fatalf("seed medicine: %v", err)
	}
	return id
}

func seedProduct(t *testing.T, db *sqlx.DB, name string, qty int64, price string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRowx(
		`INSERT INTO non_medical_products (name, stock, selling_price) VALUES (?, ?, ?) RETURNING id`,
		name, qty, price).Scan(&id)
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return id
}

func medicineStock(t *testing.T, db *sqlx.DB, id int64) int64 {
	t.Helper()
	var qty int64
	if err := db.Get(&qty, `SELECT quantity_in_stock FROM medicines WHERE id = ?`, id); err != nil {
		t.Fatalf("read stock: %v", err)
	}
	return qty
}

func productStock(t *testing.T, db *sqlx.DB, id int64) int64 {
	t.Helper()
	var qty int64
	if err := db.Get(&qty, `SELECT stock FROM non_medical_products WHERE id = ?`, id); err != nil {
		t.Fatalf("read stock: %v", err)
	}
	return qty
}

func TestPlace_ValidatesAndSnapshots(t *testing.T) {
	c, db := newTestCoordinator(t, &stubAuthority{approved: true})
	medID := seedMedicine(t, db, "amoxicillin", 20, "3.50")
	prodID := seedProduct(t, db, "bandage", 10, "1.25")

	ord, err := c.Place(context.Background(), 1, []LineInput{
		{Kind: domain.RecordKindMedicine, RecordID: medID, Quantity: 2},
		{Kind: domain.RecordKindProduct, RecordID: prodID, Quantity: 4},
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if ord.Status != domain.OrderStatusPending {
		t.Errorf("expected pending, got %s", ord.Status)
	}
	if want := decimal.RequireFromString("12.00"); !ord.TotalAmount.Equal(want) {
		t.Errorf("expected total 12.00, got %s", ord.TotalAmount)
	}

	// Placement reserves nothing.
	if got := medicineStock(t, db, medID); got != 20 {
		t.Errorf("expected medicine stock untouched at 20, got %d", got)
	}

	lines, err := c.Lines(context.Background(), ord.ID)
	if err != nil {
		t.Fatalf("lines: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].ProductName != "amoxicillin" || !lines[0].UnitPrice.Equal(decimal.RequireFromString("3.50")) {
		t.Errorf("bad snapshot: %+v", lines[0])
	}
}

func TestPlace_RejectsShortStock(t *testing.T) {
	c, db := newTestCoordinator(t, &stubAuthority{approved: true})
	medID := seedMedicine(t, db, "ibuprofen", 3, "1.00")

	_, err := c.Place(context.Background(), 1, []LineInput{
		{Kind: domain.RecordKindMedicine, RecordID: medID, Quantity: 5},
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Errorf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestPlace_RejectsEmptyAndUnknown(t *testing.T) {
	c, _ := newTestCoordinator(t, &stubAuthority{approved: true})

	if _, err := c.Place(context.Background(), 1, nil); !errors.Is(err, ErrEmptyOrder) {
		t.Errorf("expected ErrEmptyOrder, got %v", err)
	}
	_, err := c.Place(context.Background(), 1, []LineInput{
		{Kind: domain.RecordKindMedicine, RecordID: 999, Quantity: 1},
	})
	if !errors.Is(err, ledger.ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestConfirm_DeductsEachLineOnce(t *testing.T) {
	auth := &stubAuthority{approved: true}
	c, db := newTestCoordinator(t, auth)
	medID := seedMedicine(t, db, "metformin", 20, "2.00")
	ctx := context.Background()

	ord, err := c.Place(ctx, 1, []LineInput{{Kind: domain.RecordKindMedicine, RecordID: medID, Quantity: 5}})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	res, err := c.Confirm(ctx, ord.ID, "alice")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if res.Order.Status != domain.OrderStatusPaid {
		t.Errorf("expected paid, got %s", res.Order.Status)
	}
	if got := medicineStock(t, db, medID); got != 15 {
		t.Errorf("expected stock 15, got %d", got)
	}
	if auth.charges != 1 {
		t.Errorf("expected 1 charge, got %d", auth.charges)
	}

	// A second confirm cannot deduct again.
	if _, err := c.Confirm(ctx, ord.ID, "alice"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on reconfirm, got %v", err)
	}
	if got := medicineStock(t, db, medID); got != 15 {
		t.Errorf("stock moved on reconfirm: %d", got)
	}

	// Payment was recorded.
	var paid int64
	if err := db.Get(&paid, `SELECT COUNT(*) FROM payments WHERE order_id = ? AND status = ?`, ord.ID, domain.PaymentStatusPaid); err != nil {
		t.Fatalf("count payments: %v", err)
	}
	if paid != 1 {
		t.Errorf("expected 1 paid payment record, got %d", paid)
	}
}

func TestConfirm_DeclineIsTerminal(t *testing.T) {
	c, db := newTestCoordinator(t, &stubAuthority{approved: false})
	medID := seedMedicine(t, db, "aspirin", 10, "1.00")
	ctx := context.Background()

	ord, err := c.Place(ctx, 1, []LineInput{{Kind: domain.RecordKindMedicine, RecordID: medID, Quantity: 2}})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	if _, err := c.Confirm(ctx, ord.ID, "alice"); !errors.Is(err, ErrPaymentDeclined) {
		t.Fatalf("expected ErrPaymentDeclined, got %v", err)
	}

	got, err := c.Get(ctx, ord.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.OrderStatusPaymentFailed {
		t.Errorf("expected payment_failed, got %s", got.Status)
	}
	if stock := medicineStock(t, db, medID); stock != 10 {
		t.Errorf("declined order moved stock: %d", stock)
	}

	// payment_failed is terminal.
	if _, err := c.Confirm(ctx, ord.ID, "alice"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition after decline, got %v", err)
	}
	if _, err := c.Cancel(ctx, ord.ID, "alice"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on cancelling failed order, got %v", err)
	}
}

func TestConfirm_AuthorityErrorReleasesGuard(t *testing.T) {
	auth := &stubAuthority{err: errors.New("gateway timeout")}
	c, db := newTestCoordinator(t, auth)
	medID := seedMedicine(t, db, "warfarin", 10, "1.00")
	ctx := context.Background()

	ord, err := c.Place(ctx, 1, []LineInput{{Kind: domain.RecordKindMedicine, RecordID: medID, Quantity: 1}})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	if _, err := c.Confirm(ctx, ord.ID, "alice"); err == nil {
		t.Fatal("expected charge error")
	}

	// The transient failure must not poison the retry.
	auth.err = nil
	auth.approved = true
	if _, err := c.Confirm(ctx, ord.ID, "alice"); err != nil {
		t.Fatalf("retry after transient error failed: %v", err)
	}
}

func TestShipAndDeliver_FollowTheStateMachine(t *testing.T) {
	c, db := newTestCoordinator(t, &stubAuthority{approved: true})
	medID := seedMedicine(t, db, "omeprazole", 10, "1.00")
	ctx := context.Background()

	ord, err := c.Place(ctx, 1, []LineInput{{Kind: domain.RecordKindMedicine, RecordID: medID, Quantity: 1}})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	// Cannot ship before payment.
	if err := c.Ship(ctx, ord.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition shipping pending order, got %v", err)
	}

	if _, err := c.Confirm(ctx, ord.ID, "alice"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := c.Deliver(ctx, ord.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition delivering unshipped order, got %v", err)
	}
	if err := c.Ship(ctx, ord.ID); err != nil {
		t.Fatalf("ship: %v", err)
	}
	if err := c.Deliver(ctx, ord.ID); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	// Delivered is terminal.
	if _, err := c.Cancel(ctx, ord.ID, "alice"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition cancelling delivered order, got %v", err)
	}
}

func TestCancel_BeforePaymentLeavesStockAlone(t *testing.T) {
	c, db := newTestCoordinator(t, &stubAuthority{approved: true})
	medID := seedMedicine(t, db, "lisinopril", 10, "1.00")
	ctx := context.Background()

	ord, err := c.Place(ctx, 1, []LineInput{{Kind: domain.RecordKindMedicine, RecordID: medID, Quantity: 4}})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	res, err := c.Cancel(ctx, ord.ID, "alice")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Order.Status != domain.OrderStatusCancelled {
		t.Errorf("expected cancelled, got %s", res.Order.Status)
	}
	if len(res.Restored) != 0 {
		t.Errorf("nothing was deducted, but restored %v", res.Restored)
	}
	if got := medicineStock(t, db, medID); got != 10 {
		t.Errorf("expected stock untouched at 10, got %d", got)
	}
}

func TestCancel_AfterPaymentRestores(t *testing.T) {
	c, db := newTestCoordinator(t, &stubAuthority{approved: true})
	medID := seedMedicine(t, db, "cetirizine", 10, "1.00")
	prodID := seedProduct(t, db, "thermometer", 5, "8.00")
	ctx := context.Background()

	ord, err := c.Place(ctx, 1, []LineInput{
		{Kind: domain.RecordKindMedicine, RecordID: medID, Quantity: 3},
		{Kind: domain.RecordKindProduct, RecordID: prodID, Quantity: 2},
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := c.Confirm(ctx, ord.ID, "alice"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	res, err := c.Cancel(ctx, ord.ID, "alice")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(res.Restored) != 2 || len(res.NotRestored) != 0 {
		t.Fatalf("expected both lines restored, got %+v", res)
	}
	if got := medicineStock(t, db, medID); got != 10 {
		t.Errorf("expected medicine back to 10, got %d", got)
	}
	if got := productStock(t, db, prodID); got != 5 {
		t.Errorf("expected product back to 5, got %d", got)
	}
}

func TestCancel_StaleStatusReadDoesNotSkipRestore(t *testing.T) {
	c, db := newTestCoordinator(t, &stubAuthority{approved: true})
	medID := seedMedicine(t, db, "atorvastatin", 10, "1.00")
	ctx := context.Background()

	ord, err := c.Place(ctx, 1, []LineInput{{Kind: domain.RecordKindMedicine, RecordID: medID, Quantity: 4}})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	// A cancellation observes the order while it is still pending, but the
	// payment confirmation lands before the cancel update runs.
	observed, err := c.Get(ctx, ord.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := c.Confirm(ctx, ord.ID, "alice"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// The update is conditioned on the observed status, so it must refuse to
	// cancel what is now a paid order as if nothing had been deducted.
	err = c.transition(ctx, ord.ID, domain.OrderStatusCancelled, "", observed.Status)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition from stale status, got %v", err)
	}
	if got := medicineStock(t, db, medID); got != 6 {
		t.Fatalf("deduction lost before retry: stock %d", got)
	}

	// The retry sees the paid status and restores the deduction.
	res, err := c.Cancel(ctx, ord.ID, "alice")
	if err != nil {
		t.Fatalf("cancel retry: %v", err)
	}
	if len(res.Restored) != 1 {
		t.Fatalf("expected the line restored on retry, got %+v", res)
	}
	if got := medicineStock(t, db, medID); got != 10 {
		t.Errorf("expected stock restored to 10, got %d", got)
	}
}

func TestCancel_RestoresByNameWhenRecordRecreated(t *testing.T) {
	c, db := newTestCoordinator(t, &stubAuthority{approved: true})
	medID := seedMedicine(t, db, "saline", 10, "1.00")
	ctx := context.Background()

	ord, err := c.Place(ctx, 1, []LineInput{{Kind: domain.RecordKindMedicine, RecordID: medID, Quantity: 4}})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := c.Confirm(ctx, ord.ID, "alice"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// The record is deleted and recreated under a new id before cancellation.
	if _, err := db.Exec(`DELETE FROM medicines WHERE id = ?`, medID); err != nil {
		t.Fatalf("delete medicine: %v", err)
	}
	newID := seedMedicine(t, db, "saline", 2, "1.00")

	res, err := c.Cancel(ctx, ord.ID, "alice")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(res.Restored) != 1 {
		t.Fatalf("expected line restored via name fallback, got %+v", res)
	}
	if res.Restored[0].Record.ID != newID {
		t.Errorf("expected restore credited to recreated record %d, got %d", newID, res.Restored[0].Record.ID)
	}
	if got := medicineStock(t, db, newID); got != 6 {
		t.Errorf("expected recreated record at 6, got %d", got)
	}
}

func TestCancel_ReportsUnresolvableLines(t *testing.T) {
	c, db := newTestCoordinator(t, &stubAuthority{approved: true})
	medID := seedMedicine(t, db, "drug-gone", 10, "1.00")
	keptID := seedMedicine(t, db, "drug-kept", 10, "1.00")
	ctx := context.Background()

	ord, err := c.Place(ctx, 1, []LineInput{
		{Kind: domain.RecordKindMedicine, RecordID: medID, Quantity: 3},
		{Kind: domain.RecordKindMedicine, RecordID: keptID, Quantity: 2},
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := c.Confirm(ctx, ord.ID, "alice"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// The first line's record disappears with no same-name replacement.
	if _, err := db.Exec(`DELETE FROM medicines WHERE id = ?`, medID); err != nil {
		t.Fatalf("delete medicine: %v", err)
	}

	res, err := c.Cancel(ctx, ord.ID, "alice")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(res.NotRestored) != 1 || len(res.Restored) != 1 {
		t.Fatalf("expected one restored and one unresolved line, got %+v", res)
	}
	if res.NotRestored[0].Error != ErrUnresolvedRestoreTarget.Error() {
		t.Errorf("unexpected error on unresolved line: %s", res.NotRestored[0].Error)
	}
	if res.Order.Status != domain.OrderStatusCancelled {
		t.Errorf("unresolved line blocked cancellation: %s", res.Order.Status)
	}
	if got := medicineStock(t, db, keptID); got != 10 {
		t.Errorf("expected kept record restored to 10, got %d", got)
	}
}

func TestGet_NotFound(t *testing.T) {
	c, _ := newTestCoordinator(t, &stubAuthority{approved: true})
	if _, err := c.Get(context.Background(), 404); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}
