package domain

import "github.com/shopspring/decimal"

// Payment records one charge attempt against the external payment
// authority. Reference is the authority's id for the charge.
type Payment struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Status    PaymentStatus   `db:"status" json:"status"`
	Reference string          `db:"reference" json:"reference"`
	CreatedAt string          `db:"created_at" json:"created_at"`
}
