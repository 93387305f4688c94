package domain

import "github.com/shopspring/decimal"

// NonMedicalProduct covers the over-the-counter side of the shop: cosmetics,
// personal care, supplements, devices.
type NonMedicalProduct struct {
	ID           int64           `db:"id" json:"id"`
	Name         string          `db:"name" json:"name"`
	Category     string          `db:"category" json:"category"`
	CostPrice    decimal.Decimal `db:"cost_price" json:"cost_price"`
	SellingPrice decimal.Decimal `db:"selling_price" json:"selling_price"`
	Stock        int64           `db:"stock" json:"stock"`
	ReorderLevel int64           `db:"reorder_level" json:"reorder_level"`
	IsActive     bool            `db:"is_active" json:"is_active"`
	CreatedAt    string          `db:"created_at" json:"created_at"`
	UpdatedAt    string          `db:"updated_at" json:"updated_at"`
}
