package domain

import "github.com/shopspring/decimal"

type OrderStatus string

const (
	OrderStatusPending       OrderStatus = "pending"
	OrderStatusPaid          OrderStatus = "paid"
	OrderStatusShipped       OrderStatus = "shipped"
	OrderStatusDelivered     OrderStatus = "delivered"
	OrderStatusCancelled     OrderStatus = "cancelled"
	OrderStatusPaymentFailed OrderStatus = "payment_failed"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

type Order struct {
	ID            int64           `db:"id" json:"id"`
	Number        string          `db:"number" json:"number"`
	CustomerID    int64           `db:"customer_id" json:"customer_id"`
	Status        OrderStatus     `db:"status" json:"status"`
	PaymentStatus PaymentStatus   `db:"payment_status" json:"payment_status"`
	TotalAmount   decimal.Decimal `db:"total_amount" json:"total_amount"`
	CreatedAt     string          `db:"created_at" json:"created_at"`
	UpdatedAt     string          `db:"updated_at" json:"updated_at"`
}

// OrderLine snapshots what was sold at placement time. Exactly one of
// MedicineID and ProductID is set. ProductName is denormalized at placement
// and serves as the last-resort lookup key when stock is restored after the
// original record was deleted. UnitPrice is fixed at placement and does not
// follow later inventory price changes.
type OrderLine struct {
	ID          int64           `db:"id" json:"id"`
	OrderID     int64           `db:"order_id" json:"order_id"`
	MedicineID  *int64          `db:"medicine_id" json:"medicine_id,omitempty"`
	ProductID   *int64          `db:"product_id" json:"product_id,omitempty"`
	ProductName string          `db:"product_name" json:"product_name"`
	Quantity    int64           `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Subtotal    decimal.Decimal `db:"subtotal" json:"subtotal"`
}

func (l OrderLine) Ref() (RecordRef, bool) {
	switch {
	case l.MedicineID != nil:
		return RecordRef{Kind: RecordKindMedicine, ID: *l.MedicineID}, true
	case l.ProductID != nil:
		return RecordRef{Kind: RecordKindProduct, ID: *l.ProductID}, true
	}
	return RecordRef{}, false
}
